package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/common"
)

func newTestStore(t *testing.T, quota int64) *Store {
	t.Helper()
	cfg := DefaultConfig(quota)
	s := New(NewMemoryBackend(), cfg, nil)
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t, 10<<20)
	val := []byte("hello world")
	require.NoError(t, s.Save("greeting", val))

	got, err := s.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, val, got)
}

func TestGetAbsentKeyReturnsNilNoError(t *testing.T) {
	s := newTestStore(t, 10<<20)
	got, err := s.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChunkedItemRoundTrip(t *testing.T) {
	s := newTestStore(t, 64<<20)
	big := bytes.Repeat([]byte{0xAB}, chunkThresholdBytes+12345)

	require.NoError(t, s.Save("bigfile", big))

	raw, ok, err := s.backend.Get(itemsPrefix + "bigfile")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"chunked":true`)

	got, err := s.Get("bigfile")
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestChunkedItemExactBoundary(t *testing.T) {
	s := newTestStore(t, 64<<20)
	exact := bytes.Repeat([]byte{0x01}, chunkThresholdBytes*2)
	require.NoError(t, s.Save("exact", exact))

	got, err := s.Get("exact")
	require.NoError(t, err)
	assert.Equal(t, exact, got)
}

func TestCorruptChunkSetReturnsCorruptAndRemovesPrimaryRow(t *testing.T) {
	s := newTestStore(t, 64<<20)
	big := bytes.Repeat([]byte{0xCD}, chunkThresholdBytes+1)
	require.NoError(t, s.Save("damaged", big))

	// simulate a dropped chunk row
	require.NoError(t, s.backend.Delete(chunkRowKey("damaged", 0)))

	_, err := s.Get("damaged")
	require.Error(t, err)
	_, ok := common.AsFileChunkError(err)
	require.True(t, ok)
	assert.True(t, common.IsCode(err, common.ECode.Corrupt()))

	_, ok, _ := s.backend.Get(itemsPrefix + "damaged")
	assert.False(t, ok, "primary row for a corrupt chunked item must be removed")
}

func TestRemoveDeletesChunkRowsToo(t *testing.T) {
	s := newTestStore(t, 64<<20)
	big := bytes.Repeat([]byte{0xEE}, chunkThresholdBytes+99)
	require.NoError(t, s.Save("removable", big))

	require.NoError(t, s.Remove("removable"))

	keys, err := s.backend.Keys(chunksPrefix + "removable/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	got, err := s.Get("removable")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetExpiryAndCleanupExpired(t *testing.T) {
	s := newTestStore(t, 10<<20)
	require.NoError(t, s.Save("soon-gone", []byte("x")))
	require.NoError(t, s.SetExpiry("soon-gone", -1*int64(time.Millisecond)))

	result, err := s.CleanupExpired()
	require.NoError(t, err)
	assert.Contains(t, result.EvictedKeys, "soon-gone")

	got, err := s.Get("soon-gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCleanupRespectsTargetFractionInvariant(t *testing.T) {
	s := newTestStore(t, 1000)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Save(k, bytes.Repeat([]byte{0x01}, 200)))
	}

	result, err := s.Cleanup(0.3)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.UsagePercent, 30.5)
	assert.NotEmpty(t, result.EvictedKeys)
}

// scenario 5 from the spec's worked examples: three items under LRU, C
// accessed most recently must be the last one evicted.
func TestQuotaEvictionScenarioLRU(t *testing.T) {
	cfg := DefaultConfig(300)
	cfg.CleanupStrategy = EEvictionPolicy.LRU()
	s := New(NewMemoryBackend(), cfg, nil)
	require.NoError(t, s.Open())
	defer s.Dispose()

	require.NoError(t, s.Save("A", bytes.Repeat([]byte{1}, 80)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Save("B", bytes.Repeat([]byte{1}, 80)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Save("C", bytes.Repeat([]byte{1}, 80)))

	_, _ = s.Get("C") // touch C so it's most-recently-accessed

	result, err := s.Cleanup(0.2)
	require.NoError(t, err)

	assert.NotContains(t, result.EvictedKeys, "C", "most recently accessed item should survive LRU eviction longest")
}

func TestSetPriorityProtectsUnderSmartPolicy(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.CleanupStrategy = EEvictionPolicy.Smart()
	s := New(NewMemoryBackend(), cfg, nil)
	require.NoError(t, s.Open())
	defer s.Dispose()

	require.NoError(t, s.Save("low", bytes.Repeat([]byte{1}, 200)))
	require.NoError(t, s.Save("high", bytes.Repeat([]byte{1}, 200)))
	require.NoError(t, s.SetPriority("high", 5))

	result, err := s.Cleanup(0.1)
	require.NoError(t, err)
	assert.Contains(t, result.EvictedKeys, "low")
	assert.NotContains(t, result.EvictedKeys, "high")
}

func TestOpsBeforeOpenFail(t *testing.T) {
	s := New(NewMemoryBackend(), DefaultConfig(1<<20), nil)
	_, err := s.Get("x")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ECode.Config()))
}
