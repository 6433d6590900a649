package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/store"
)

func TestShouldCompressBelowMinSize(t *testing.T) {
	f := FileMeta{Name: "note.txt", MimeType: "text/plain", Size: 100}
	assert.False(t, ShouldCompress(f, 1024))
}

func TestShouldCompressArchiveAlwaysFalse(t *testing.T) {
	f := FileMeta{Name: "bundle.zip", MimeType: "application/zip", Size: 5 << 20}
	assert.False(t, ShouldCompress(f, 1024))
}

func TestShouldCompressCompressedImageFalse(t *testing.T) {
	f := FileMeta{Name: "photo.jpg", MimeType: "image/jpeg", Size: 5 << 20}
	assert.False(t, ShouldCompress(f, 1024))
}

func TestShouldCompressTextTrue(t *testing.T) {
	f := FileMeta{Name: "report.txt", MimeType: "text/plain", Size: 5 << 20}
	assert.True(t, ShouldCompress(f, 1024))
}

func TestShouldCompressCodeTrue(t *testing.T) {
	f := FileMeta{Name: "main.go", MimeType: "text/x-go", Size: 5 << 20}
	assert.True(t, ShouldCompress(f, 1024))
}

func TestChooseLevelClampedToGzipRange(t *testing.T) {
	huge := FileMeta{Name: "archive-source.txt", MimeType: "text/plain", Size: 600 << 20}
	level := ChooseLevel(huge, LevelInputs{NetworkClass: ENetworkClass.VeryFast(), NetworkStability: 1, DevicePerformance: -2})
	assert.GreaterOrEqual(t, level, 1)
	assert.LessOrEqual(t, level, 9)

	tiny := FileMeta{Name: "readme.md", MimeType: "text/markdown", Size: 1024}
	level = ChooseLevel(tiny, LevelInputs{NetworkClass: ENetworkClass.VerySlow(), NetworkStability: 1, DevicePerformance: 0.5})
	assert.GreaterOrEqual(t, level, 1)
	assert.LessOrEqual(t, level, 9)
}

func TestCompressDecompressIdentityLawAllLevels(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 500)
	for level := 1; level <= 9; level++ {
		compressed, result, err := Compress(payload, level)
		require.NoError(t, err)
		assert.Equal(t, level, result.Level)
		assert.Equal(t, int64(len(payload)), result.OriginalSize)

		decompressed, err := Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, payload, decompressed)
	}
}

func TestDecompressGarbageReturnsCorrupt(t *testing.T) {
	_, err := Decompress([]byte("not gzip data at all"))
	require.Error(t, err)
}

func TestStatsRecordResultAndPersist(t *testing.T) {
	backend := store.NewMemoryBackend()
	st := store.New(backend, store.DefaultConfig(10<<20), nil)
	require.NoError(t, st.Open())
	defer st.Dispose()

	stats := NewStats(st, nil)
	for i := 0; i < persistEveryNSamples+5; i++ {
		stats.RecordResult(ECategory.Text(), Result{Algorithm: "gzip", Level: 7, OriginalSize: 1000, CompressedSize: 400, DurationMs: 5})
	}

	ratio, ok := stats.CategoryRatio(ECategory.Text())
	require.True(t, ok)
	assert.InDelta(t, 0.4, ratio, 0.01)

	reloaded := NewStats(st, nil)
	ratio, ok = reloaded.CategoryRatio(ECategory.Text())
	require.True(t, ok)
	assert.InDelta(t, 0.4, ratio, 0.01)
}

func TestBestLevelByEfficiencyPrefersMoreSavingPerMs(t *testing.T) {
	stats := NewStats(nil, nil)
	stats.RecordResult(ECategory.Text(), Result{Level: 1, OriginalSize: 1000, CompressedSize: 800, DurationMs: 1})
	stats.RecordResult(ECategory.Text(), Result{Level: 9, OriginalSize: 1000, CompressedSize: 200, DurationMs: 50})

	// level 1 saves 0.2 in 1ms (0.2/ms); level 9 saves 0.8 in 50ms (0.016/ms).
	best, ok := stats.BestLevelByEfficiency()
	require.True(t, ok)
	assert.Equal(t, 1, best)
}

func TestNetworkTelemetryClassAndTrend(t *testing.T) {
	nt := NewNetworkTelemetry()
	nt.RecordThroughput(10)
	nt.RecordThroughput(10)
	nt.RecordThroughput(15)

	assert.Equal(t, ENetworkClass.Fast(), nt.Class())
	assert.Equal(t, ETrend.Improving(), nt.Trend())
}

func TestNetworkTelemetryHistoryBounded(t *testing.T) {
	nt := NewNetworkTelemetry()
	for i := 0; i < 50; i++ {
		nt.RecordThroughput(float64(i))
	}
	assert.Len(t, nt.history, networkHistoryLength)
}

func TestDeviceTelemetryLongTaskDecaysScore(t *testing.T) {
	dt := NewDeviceTelemetry()
	before := dt.Score()
	dt.RecordLongTask()
	dt.RecordLongTask()
	after := dt.Score()
	assert.Less(t, after, before)
}

func TestDeviceTelemetryLowBatteryPenalizesScore(t *testing.T) {
	dt := NewDeviceTelemetry()
	dt.SetBattery(1, true)
	charged := dt.Score()

	dt.SetBattery(0.1, false)
	discharging := dt.Score()

	assert.Less(t, discharging, charged)
}

// literal §8 scenario 6: a text file with a high repetition ratio
// predicts to well under half its original size, and recording the
// actual result nudges the category's avg-ratio toward what was observed.
func TestCompressionPredictScenario(t *testing.T) {
	repeating := bytes.Repeat([]byte("AAAA"), 50_000) // 200,000 bytes, repetition-heavy
	file := FileMeta{Name: "notes.txt", MimeType: "text/plain", Size: int64(len(repeating))}

	predicted, err := PredictCompressedSize(file, repeating, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, predicted, file.Size/2)

	stats := NewStats(nil, nil)
	_, result, err := Compress(repeating, ChooseLevel(file, LevelInputs{}))
	require.NoError(t, err)
	stats.RecordResult(Categorize(file), result)

	ratio, ok := stats.CategoryRatio(Categorize(file))
	require.True(t, ok)
	assert.Less(t, ratio, 1.0)
}
