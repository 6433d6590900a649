package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReturnsNativeInThisHost(t *testing.T) {
	kind, err := Probe()
	require.NoError(t, err)
	assert.Equal(t, EPlatformKind.Native(), kind)
}

func TestBufferFileHandleSlicesBounds(t *testing.T) {
	h := &BufferFileHandle{NameVal: "a.txt", Data: []byte("hello world")}
	b, err := h.Slice(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = h.Slice(context.Background(), 0, 100)
	require.Error(t, err)
}

func TestMemoryKVRoundTrips(t *testing.T) {
	kv := NewMemoryKV(1024)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k1", []byte("v1")))
	v, ok, err := kv.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))

	_, ok, err = kv.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "items/a", []byte("1")))
	require.NoError(t, kv.Set(ctx, "items/b", []byte("2")))
	keys, err := kv.Keys(ctx, "items/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"items/a", "items/b"}, keys)

	require.NoError(t, kv.Delete(ctx, "k1"))
	_, ok, _ = kv.Get(ctx, "k1")
	assert.False(t, ok)
}
