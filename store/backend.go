package store

// Backend is the raw byte-oriented storage primitive the Store type is
// built on. Both the badger-backed Native backend and the in-memory
// backend implement it, so the item/chunk/eviction logic in store.go is
// written once and shared -- spec §4.C's "two object stores" (items,
// chunks) plus a metadata singleton are namespaces within one Backend,
// not three separate storage engines.
type Backend interface {
	Open() error
	Close() error

	Put(key string, value []byte) error
	// PutBatch writes every key atomically: spec §5 "chunk rows for the
	// same itemKey must be written in one transaction so readers never
	// observe a partial chunked item."
	PutBatch(items map[string][]byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	DeleteBatch(keys []string) error
	// Keys lists every key with the given prefix, in sorted order.
	Keys(prefix string) ([]string, error)
	// SizeBytes estimates total bytes under management, used for the
	// store's usagePercent.
	SizeBytes() (int64, error)
}
