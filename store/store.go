// Package store implements the Persistent Store (spec §4.C): a
// client-side KV+blob store with size-aware chunk splitting, access
// metadata, TTL, priority and multi-strategy eviction under a hard quota.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/filechunkpro/filechunk-pro/common"
)

const (
	chunkThresholdBytes = 1 << 20 // values > 1 MiB are split, spec §4.C
	chunkRowBytes       = 512 << 10

	itemsPrefix    = "items/"
	chunksPrefix   = "chunks/"
	metadataKey    = "metadata/singleton"
)

// LifecycleState is the store's own state machine (spec §4.C):
// uninitialised -> opening -> open -> closing -> closed.
type LifecycleState uint8

var ELifecycleState = LifecycleState(0)

func (LifecycleState) Uninitialised() LifecycleState { return LifecycleState(0) }
func (LifecycleState) Opening() LifecycleState       { return LifecycleState(1) }
func (LifecycleState) Open() LifecycleState          { return LifecycleState(2) }
func (LifecycleState) Closing() LifecycleState       { return LifecycleState(3) }
func (LifecycleState) Closed() LifecycleState        { return LifecycleState(4) }

func (s LifecycleState) String() string { return common.EnumString(s) }

// itemMeta is spec §3's "Store item", minus the payload (which lives
// either inline or across chunk rows).
type itemMeta struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastModified time.Time  `json:"lastModified"`
	LastAccessed time.Time  `json:"lastAccessed"`
	AccessCount  int64      `json:"accessCount"`
	Priority     int        `json:"priority"`
	ExpireAt     *time.Time `json:"expireAt,omitempty"`
	Chunked      bool       `json:"chunked"`
	TotalChunks  int        `json:"totalChunks,omitempty"`
	ChunkSize    int        `json:"chunkSize,omitempty"`
	inlineValue  []byte     // not set by any code path; unexported, so never persisted
}

// Stats is the public stats() contract (spec §4.C).
type Stats struct {
	CurrentBytes  int64
	QuotaBytes    int64
	ItemCount     int
	LastCleanupAt time.Time
	UsagePercent  float64
}

// Config configures one Store instance.
type Config struct {
	QuotaBytes        int64
	CleanupThreshold  float64 // trigger cleanup when usagePercent >= this, default 0.8
	CleanupStrategy   EvictionPolicy
	SmartWeights      SmartWeights
	AutoCleanup       bool
}

func DefaultConfig(quotaBytes int64) Config {
	return Config{
		QuotaBytes:       quotaBytes,
		CleanupThreshold: 0.8,
		CleanupStrategy:  EEvictionPolicy.Smart(),
		SmartWeights:     DefaultSmartWeights(),
		AutoCleanup:      true,
	}
}

// storeMetadata is the singleton metadata/version row spec §6 describes.
type storeMetadata struct {
	LastCleanupAt time.Time `json:"lastCleanupAt"`
	Version       int       `json:"version"`
}

// Store is the Persistent Store module (component C). One instance owns
// all persisted bytes and has sole right to evict them (spec §3
// "Ownership"). Concurrent saves to the same key serialise through mu;
// eviction holds the same lock for its whole run, acting as the
// "advisory lock that forbids concurrent saves to evicted keys" spec §5
// requires.
type Store struct {
	backend Backend
	cfg     Config
	logger  common.ILogger

	mu    sync.Mutex
	state LifecycleState
}

func New(backend Backend, cfg Config, logger common.ILogger) *Store {
	if logger == nil {
		logger = common.NullLogger{}
	}
	return &Store{backend: backend, cfg: cfg, logger: logger, state: ELifecycleState.Uninitialised()}
}

// Open transitions uninitialised -> opening -> open. All public ops
// except Dispose are implicitly awaited on open (spec §4.C); in this
// synchronous Go port that means every method below calls ensureOpen.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ELifecycleState.Open() {
		return nil
	}
	s.state = ELifecycleState.Opening()
	if err := s.backend.Open(); err != nil {
		return err
	}
	s.state = ELifecycleState.Open()
	return nil
}

func (s *Store) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ELifecycleState.Closing()
	err := s.backend.Close()
	s.state = ELifecycleState.Closed()
	return err
}

func (s *Store) ensureOpenLocked() error {
	if s.state != ELifecycleState.Open() {
		return common.NewError(common.ECode.Config(), "store op called before Open()/after Dispose()", nil)
	}
	return nil
}

// Save writes key/value, chunk-splitting values above chunkThresholdBytes
// into chunkRowBytes rows (spec §4.C). On quota exhaustion it triggers
// cleanup-then-retry exactly once per spec §7's QUOTA propagation policy,
// surfacing QUOTA_EXCEEDED only if that single retry still doesn't fit.
func (s *Store) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}

	if err := s.ensureRoomLocked(int64(len(value))); err != nil {
		// one cleanup-then-retry cycle
		if _, cleanupErr := s.cleanupLocked(s.cfg.CleanupThreshold); cleanupErr != nil {
			return common.NewError(common.ECode.Quota(), "store cleanup failed while making room", cleanupErr)
		}
		if err := s.ensureRoomLocked(int64(len(value))); err != nil {
			return common.NewError(common.ECode.Quota(), "quota exceeded after cleanup retry", err)
		}
	}

	now := time.Now()
	meta := &itemMeta{Key: key, Size: int64(len(value)), CreatedAt: now, LastModified: now, LastAccessed: now, AccessCount: 0, Priority: 0}

	if len(value) > chunkThresholdBytes {
		return s.saveChunkedLocked(meta, value)
	}
	return s.saveInlineLocked(meta, value)
}

func (s *Store) saveInlineLocked(meta *itemMeta, value []byte) error {
	meta.Chunked = false
	payload := inlineItemPayload{Meta: meta, Value: value}
	b, err := json.Marshal(payload)
	if err != nil {
		return common.NewError(common.ECode.IO(), "marshalling item", err)
	}
	if err := s.backend.Put(itemsPrefix+meta.Key, b); err != nil {
		return err
	}
	return nil
}

type inlineItemPayload struct {
	Meta  *itemMeta `json:"meta"`
	Value []byte    `json:"value"`
}

// saveChunkedLocked writes the primary row (the item metadata with no
// payload, carrying chunked:true, totalChunks and chunkSize) plus exactly totalChunks
// chunk rows, all in one backend transaction -- spec §5: "chunk rows for
// the same itemKey must be written in one transaction so readers never
// observe a partial chunked item."
func (s *Store) saveChunkedLocked(meta *itemMeta, value []byte) error {
	meta.Chunked = true
	meta.ChunkSize = chunkRowBytes
	meta.TotalChunks = (len(value) + chunkRowBytes - 1) / chunkRowBytes

	batch := make(map[string][]byte, meta.TotalChunks+1)
	for i := 0; i < meta.TotalChunks; i++ {
		start := i * chunkRowBytes
		end := start + chunkRowBytes
		if end > len(value) {
			end = len(value)
		}
		batch[chunkRowKey(meta.Key, i)] = value[start:end]
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return common.NewError(common.ECode.IO(), "marshalling chunked item metadata", err)
	}
	batch[itemsPrefix+meta.Key] = metaBytes

	return s.backend.PutBatch(batch)
}

func chunkRowKey(itemKey string, sequenceIndex int) string {
	return fmt.Sprintf("%s%s/%010d", chunksPrefix, itemKey, sequenceIndex)
}

// Get reads key, reassembling chunk rows by sequence index if the item is
// chunked. Returns (nil, nil) on an absent key (spec §4.C: "get returns
// null on absent key"). A damaged chunk set (short read) returns CORRUPT
// and removes the damaged primary row (spec §7).
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}

	raw, ok, err := s.backend.Get(itemsPrefix + key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var meta itemMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, common.NewError(common.ECode.Corrupt(), "corrupt item metadata", err)
	}

	var value []byte
	if meta.Chunked {
		value, err = s.reassembleChunksLocked(&meta)
		if err != nil {
			return nil, err
		}
	} else {
		var payload inlineItemPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, common.NewError(common.ECode.Corrupt(), "corrupt inline item", err)
		}
		value = payload.Value
	}

	// best-effort access metadata update: never blocks the read (spec
	// §4.C), so a write failure here is swallowed, not surfaced.
	s.touchAccessLocked(&meta)

	return value, nil
}

func (s *Store) reassembleChunksLocked(meta *itemMeta) ([]byte, error) {
	keys, err := s.backend.Keys(chunksPrefix + meta.Key + "/")
	if err != nil {
		return nil, err
	}
	if len(keys) != meta.TotalChunks {
		s.logger.Log(common.LogError, fmt.Sprintf("corrupt chunk set for %q: expected %d rows, found %d", meta.Key, meta.TotalChunks, len(keys)))
		_ = s.backend.Delete(itemsPrefix + meta.Key)
		_ = s.backend.DeleteBatch(keys)
		return nil, common.NewError(common.ECode.Corrupt(), "chunk row count mismatch", nil)
	}

	result := make([]byte, 0, meta.Size)
	for i := 0; i < meta.TotalChunks; i++ {
		row, ok, err := s.backend.Get(chunkRowKey(meta.Key, i))
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = s.backend.Delete(itemsPrefix + meta.Key)
			return nil, common.NewError(common.ECode.Corrupt(), fmt.Sprintf("missing chunk row %d of %q", i, meta.Key), nil)
		}
		result = append(result, row...)
	}
	return result, nil
}

func (s *Store) touchAccessLocked(meta *itemMeta) {
	meta.LastAccessed = time.Now()
	meta.AccessCount++
	b, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = s.backend.Put(itemsPrefix+meta.Key, b)
}

// Remove deletes key and, if chunked, every chunk row for it.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) error {
	chunkKeys, err := s.backend.Keys(chunksPrefix + key + "/")
	if err == nil && len(chunkKeys) > 0 {
		_ = s.backend.DeleteBatch(chunkKeys)
	}
	return s.backend.Delete(itemsPrefix + key)
}

// Clear removes every item and chunk row.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	itemKeys, err := s.backend.Keys(itemsPrefix)
	if err != nil {
		return err
	}
	for _, k := range itemKeys {
		// strip the items/ prefix back off to reuse removeLocked
		_ = s.removeLocked(k[len(itemsPrefix):])
	}
	return nil
}

// SetExpiry sets or clears (ttlMs<=0) an item's expiry.
func (s *Store) SetExpiry(key string, ttlMs int64) error {
	return s.mutateMeta(key, func(m *itemMeta) {
		if ttlMs <= 0 {
			m.ExpireAt = nil
			return
		}
		t := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
		m.ExpireAt = &t
	})
}

// SetPriority sets an item's eviction priority (higher survives longer
// under SMART and PRIORITY policies).
func (s *Store) SetPriority(key string, priority int) error {
	return s.mutateMeta(key, func(m *itemMeta) {
		m.Priority = priority
	})
}

func (s *Store) mutateMeta(key string, fn func(*itemMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	raw, ok, err := s.backend.Get(itemsPrefix + key)
	if err != nil {
		return err
	}
	if !ok {
		return common.NewError(common.ECode.Input(), "no such item", nil)
	}
	var meta itemMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return common.NewError(common.ECode.Corrupt(), "corrupt item metadata", err)
	}
	fn(&meta)

	if !meta.Chunked {
		var payload inlineItemPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return common.NewError(common.ECode.Corrupt(), "corrupt inline item", err)
		}
		payload.Meta = &meta
		b, _ := json.Marshal(payload)
		return s.backend.Put(itemsPrefix+key, b)
	}
	b, _ := json.Marshal(meta)
	return s.backend.Put(itemsPrefix+key, b)
}

// Stats returns the store's current usage summary (spec §4.C).
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return Stats{}, err
	}
	return s.statsLocked()
}

func (s *Store) statsLocked() (Stats, error) {
	used, err := s.backend.SizeBytes()
	if err != nil {
		return Stats{}, err
	}
	items, err := s.loadAllItemMetaLocked()
	if err != nil {
		return Stats{}, err
	}
	meta := s.loadMetadataLocked()

	usage := 0.0
	if s.cfg.QuotaBytes > 0 {
		usage = float64(used) / float64(s.cfg.QuotaBytes)
	}
	return Stats{
		CurrentBytes:  used,
		QuotaBytes:    s.cfg.QuotaBytes,
		ItemCount:     len(items),
		LastCleanupAt: meta.LastCleanupAt,
		UsagePercent:  usage * 100,
	}, nil
}

func (s *Store) loadAllItemMetaLocked() ([]*itemMeta, error) {
	keys, err := s.backend.Keys(itemsPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*itemMeta, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.backend.Get(k)
		if err != nil || !ok {
			continue
		}
		var m itemMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) loadMetadataLocked() storeMetadata {
	raw, ok, err := s.backend.Get(metadataKey)
	if err != nil || !ok {
		return storeMetadata{Version: 1}
	}
	var m storeMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return storeMetadata{Version: 1}
	}
	return m
}

func (s *Store) saveMetadataLocked(m storeMetadata) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = s.backend.Put(metadataKey, b)
}

// ensureRoomLocked triggers proactive cleanup if usage has already
// crossed cleanupThreshold, matching spec §4.C: "Trigger cleanup when
// usagePercent >= cleanupThreshold."
func (s *Store) ensureRoomLocked(incoming int64) error {
	if !s.cfg.AutoCleanup || s.cfg.QuotaBytes <= 0 {
		return nil
	}
	used, err := s.backend.SizeBytes()
	if err != nil {
		return err
	}
	if float64(used+incoming)/float64(s.cfg.QuotaBytes) < s.cfg.CleanupThreshold {
		return nil
	}
	_, err = s.cleanupLocked(0.5)
	if err != nil {
		return err
	}
	used, err = s.backend.SizeBytes()
	if err != nil {
		return err
	}
	if used+incoming > s.cfg.QuotaBytes {
		return common.NewError(common.ECode.Quota(), "insufficient room even after cleanup", nil)
	}
	return nil
}

// CleanupResult reports what Cleanup actually did, so callers (and the
// CLI) don't have to re-derive it from Stats().
type CleanupResult struct {
	EvictedKeys  []string
	BytesFreed   int64
	UsagePercent float64
}

// Cleanup evicts items under the store's configured policy until
// usagePercent <= targetFraction*100 or no evictable items remain (spec
// §4.C, §8 invariant 3). Expired items are always removed first,
// regardless of policy (spec §4.C precondition a).
func (s *Store) Cleanup(targetFraction float64) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return CleanupResult{}, err
	}
	return s.cleanupLocked(targetFraction)
}

func (s *Store) cleanupLocked(targetFraction float64) (CleanupResult, error) {
	if targetFraction <= 0 {
		targetFraction = 0.5
	}
	items, err := s.loadAllItemMetaLocked()
	if err != nil {
		return CleanupResult{}, err
	}
	used, err := s.backend.SizeBytes()
	if err != nil {
		return CleanupResult{}, err
	}

	ranked := rankForEviction(items, s.cfg.CleanupStrategy, s.cfg.SmartWeights, time.Now())

	result := CleanupResult{}
	for _, it := range ranked {
		if s.cfg.QuotaBytes <= 0 {
			break
		}
		if float64(used)/float64(s.cfg.QuotaBytes) <= targetFraction {
			break
		}
		if err := s.removeLocked(it.Key); err != nil {
			continue
		}
		used -= it.Size
		result.EvictedKeys = append(result.EvictedKeys, it.Key)
		result.BytesFreed += it.Size
	}

	if s.cfg.QuotaBytes > 0 {
		result.UsagePercent = float64(used) / float64(s.cfg.QuotaBytes) * 100
	}

	s.saveMetadataLocked(storeMetadata{LastCleanupAt: time.Now(), Version: 1})
	s.logger.Log(common.LogInfo, fmt.Sprintf("cleanup freed %s across %d item(s), usage now %.1f%%",
		humanize.Bytes(uint64(result.BytesFreed)), len(result.EvictedKeys), result.UsagePercent))

	return result, nil
}

// CleanupExpired removes only expired items, independent of quota
// pressure -- spec §4.C's cleanupExpired().
func (s *Store) CleanupExpired() (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return CleanupResult{}, err
	}

	items, err := s.loadAllItemMetaLocked()
	if err != nil {
		return CleanupResult{}, err
	}
	now := time.Now()
	result := CleanupResult{}
	for _, it := range items {
		if it.ExpireAt == nil || now.Before(*it.ExpireAt) {
			continue
		}
		if err := s.removeLocked(it.Key); err != nil {
			continue
		}
		result.EvictedKeys = append(result.EvictedKeys, it.Key)
		result.BytesFreed += it.Size
	}
	return result, nil
}
