package store

import (
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/filechunkpro/filechunk-pro/common"
)

// badgerBackend is the Native backend (spec §4.C): an embedded KV+blob
// engine standing in for IndexedDB on browsers / KV+FS on mini-programs.
// Grounded on tenzoki-agen's omni/internal/storage.BadgerStore wrapper
// (Open/Update/View/Get/Set/Delete/Scan shape), trimmed to the subset the
// Store type needs and re-purposed onto FileChunk Pro's item/chunk
// namespaces instead of tenzoki's graph-vertex storage.
type badgerBackend struct {
	dir string
	db  *badger.DB
}

// NewBadgerBackend builds a Backend rooted at dir. Open must be called
// before use, matching the store lifecycle's uninitialised->opening->open
// progression (spec §4.C).
func NewBadgerBackend(dir string) Backend {
	return &badgerBackend{dir: dir}
}

func (b *badgerBackend) Open() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return common.NewError(common.ECode.IO(), "creating store directory", err)
	}
	opts := badger.DefaultOptions(b.dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return common.NewError(common.ECode.IO(), "opening badger store", err)
	}
	b.db = db
	return nil
}

func (b *badgerBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return common.NewError(common.ECode.IO(), "closing badger store", err)
	}
	return nil
}

func (b *badgerBackend) Put(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return common.NewError(common.ECode.IO(), "badger put", err)
	}
	return nil
}

// PutBatch writes every key within one badger transaction, satisfying
// spec §5's "chunk rows for the same itemKey must be written in one
// transaction so readers never observe a partial chunked item."
func (b *badgerBackend) PutBatch(items map[string][]byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for k, v := range items {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return common.NewError(common.ECode.IO(), "badger batch put", err)
	}
	return nil
}

func (b *badgerBackend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, common.NewError(common.ECode.IO(), "badger get", err)
	}
	return value, value != nil, nil
}

func (b *badgerBackend) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return common.NewError(common.ECode.IO(), "badger delete", err)
	}
	return nil
}

func (b *badgerBackend) DeleteBatch(keys []string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return common.NewError(common.ECode.IO(), "badger batch delete", err)
	}
	return nil
}

func (b *badgerBackend) Keys(prefix string) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, common.NewError(common.ECode.IO(), "badger keys scan", err)
	}
	return out, nil
}

func (b *badgerBackend) SizeBytes() (int64, error) {
	lsm, vlog := b.db.Size()
	return lsm + vlog, nil
}
