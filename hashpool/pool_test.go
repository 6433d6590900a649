package hashpool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestHashMatchesMD5OfWholeFile(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	handle := &adapter.BufferFileHandle{NameVal: "f.txt", Data: data}

	p := NewPool(1, common.NullLogger{})
	digest, err := p.Hash(context.Background(), Input{Handle: handle}, Options{ChunkSize: 8})
	require.NoError(t, err)
	assert.Equal(t, md5Hex(data), digest)
}

func TestHashOfChunksEqualsHashOfWholeFile(t *testing.T) {
	data := make([]byte, 10*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	handle := &adapter.BufferFileHandle{NameVal: "f.bin", Data: data}
	p := NewPool(1, common.NullLogger{})

	whole, err := p.Hash(context.Background(), Input{Handle: handle}, Options{ChunkSize: 4096})
	require.NoError(t, err)

	ranges := []ByteRange{{0, 3000}, {3000, 6000}, {6000, 10240}}
	viaRanges, err := p.HashRanges(context.Background(), handle, ranges, Options{})
	require.NoError(t, err)

	assert.Equal(t, whole, viaRanges)
	assert.Equal(t, md5Hex(data), whole)
}

func TestHashOfEmptyFileIsEmptyInputDigest(t *testing.T) {
	handle := &adapter.BufferFileHandle{NameVal: "empty", Data: nil}
	p := NewPool(1, common.NullLogger{})
	digest, err := p.Hash(context.Background(), Input{Handle: handle}, Options{})
	require.NoError(t, err)
	assert.Equal(t, md5Hex(nil), digest)
}

func TestHashReportsProgress(t *testing.T) {
	data := make([]byte, 100)
	handle := &adapter.BufferFileHandle{NameVal: "f", Data: data}
	p := NewPool(1, common.NullLogger{})

	var lastPercent float64
	var calls int
	_, err := p.Hash(context.Background(), Input{Handle: handle}, Options{
		ChunkSize: 10,
		OnProgress: func(percent float64) {
			calls++
			lastPercent = percent
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
	assert.InDelta(t, 100.0, lastPercent, 0.001)
}

func TestHashCancelledBySignal(t *testing.T) {
	data := make([]byte, 1000)
	handle := &adapter.BufferFileHandle{NameVal: "f", Data: data}
	p := NewPool(1, common.NullLogger{})

	signal := make(chan struct{})
	close(signal)

	_, err := p.Hash(context.Background(), Input{Handle: handle}, Options{ChunkSize: 10, Signal: signal})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ECode.Cancelled()))
}

func TestHashCancelledByContext(t *testing.T) {
	data := make([]byte, 1000)
	handle := &adapter.BufferFileHandle{NameVal: "f", Data: data}
	p := NewPool(1, common.NullLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Hash(ctx, Input{Handle: handle}, Options{ChunkSize: 10})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ECode.Cancelled()))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, common.NullLogger{})
	assert.Equal(t, int64(2), p.maxWorkers)
}
