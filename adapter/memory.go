package adapter

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryKV is a trivial in-process KVStore, standing in for a
// mini-program's KV API when no filesystem spillover is available, and
// used directly in tests.
type memoryKV struct {
	mu       sync.RWMutex
	values   map[string][]byte
	quota    int64
}

// NewMemoryKV builds a bounded in-memory KVStore reporting quotaBytes from
// Info(), the conservative-default fallback spec §4.C describes for hosts
// with no quota-estimate API.
func NewMemoryKV(quotaBytes int64) KVStore {
	return &memoryKV{values: make(map[string][]byte), quota: quotaBytes}
}

func (m *memoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.values[key] = cp
	return nil
}

func (m *memoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryKV) Info(ctx context.Context) (usedBytes int64, quotaBytes int64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var used int64
	for k, v := range m.values {
		used += int64(len(k)) + int64(len(v))
	}
	return used, m.quota, nil
}
