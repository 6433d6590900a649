// Package compression implements the Adaptive Compression module (spec
// §4.D): category/level selection, gzip compress/decompress, and the
// network/device telemetry that feeds level selection.
package compression

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/filechunkpro/filechunk-pro/common"
)

// Category classifies a file for compression-level base-lining, spec
// §4.D's literal table.
type Category uint8

var ECategory = Category(0)

func (Category) Text() Category            { return Category(0) }
func (Category) Code() Category            { return Category(1) }
func (Category) XML() Category             { return Category(2) }
func (Category) JSON() Category            { return Category(3) }
func (Category) HTML() Category            { return Category(4) }
func (Category) Image() Category           { return Category(5) }
func (Category) CompressedImage() Category { return Category(6) }
func (Category) PDF() Category             { return Category(7) }
func (Category) Media() Category           { return Category(8) }
func (Category) Archive() Category         { return Category(9) }
func (Category) Binary() Category          { return Category(10) }

func (c Category) String() string { return common.EnumString(c) }

var baseLevelByCategory = map[Category]float64{
	ECategory.Text():            7,
	ECategory.Code():            8,
	ECategory.XML():             8,
	ECategory.JSON():            7,
	ECategory.HTML():            7,
	ECategory.Image():           6,
	ECategory.CompressedImage(): 1,
	ECategory.PDF():             3,
	ECategory.Media():           3,
	ECategory.Archive():         1,
	ECategory.Binary():          4,
}

var compressedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".heic": true}
var archiveExt = map[string]bool{".zip": true, ".gz": true, ".tgz": true, ".7z": true, ".rar": true, ".bz2": true, ".xz": true, ".zst": true}
var mediaExt = map[string]bool{".mp4": true, ".mov": true, ".mp3": true, ".m4a": true, ".avi": true, ".mkv": true, ".flac": true}
var textishExt = map[string]bool{".txt": true, ".md": true, ".csv": true, ".log": true, ".yaml": true, ".yml": true, ".ini": true, ".toml": true}
var codeExt = map[string]bool{".go": true, ".js": true, ".ts": true, ".py": true, ".java": true, ".c": true, ".cpp": true, ".rs": true, ".sh": true}

// FileMeta is the subset of file information compression decisions need.
type FileMeta struct {
	Name     string
	MimeType string
	Size     int64
}

func (f FileMeta) ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Categorize classifies a file per spec §4.D's base table.
func Categorize(file FileMeta) Category {
	mime := strings.ToLower(file.MimeType)
	ext := file.ext()

	switch {
	case archiveExt[ext] || strings.Contains(mime, "zip") || strings.Contains(mime, "gzip") || strings.Contains(mime, "compress"):
		return ECategory.Archive()
	case compressedImageExt[ext] || (strings.HasPrefix(mime, "image/") && !strings.Contains(mime, "svg") && !strings.Contains(mime, "bmp")):
		return ECategory.CompressedImage()
	case strings.HasPrefix(mime, "image/"):
		return ECategory.Image()
	case mediaExt[ext] || strings.HasPrefix(mime, "video/") || strings.HasPrefix(mime, "audio/"):
		return ECategory.Media()
	case ext == ".pdf" || mime == "application/pdf":
		return ECategory.PDF()
	case ext == ".xml" || strings.Contains(mime, "xml"):
		return ECategory.XML()
	case ext == ".json" || strings.Contains(mime, "json"):
		return ECategory.JSON()
	case ext == ".html" || ext == ".htm" || strings.Contains(mime, "html"):
		return ECategory.HTML()
	case codeExt[ext]:
		return ECategory.Code()
	case textishExt[ext] || strings.HasPrefix(mime, "text/"):
		return ECategory.Text()
	default:
		return ECategory.Binary()
	}
}

// ShouldCompress reports whether file is worth compressing: spec §4.D --
// false below minSize, for pre-compressed media/archive, and for
// already-compressed image formats; true for text/code/XML/JSON and
// textish extensions.
func ShouldCompress(file FileMeta, minSize int64) bool {
	if file.Size < minSize {
		return false
	}
	switch Categorize(file) {
	case ECategory.Archive(), ECategory.Media(), ECategory.CompressedImage():
		return false
	default:
		return true
	}
}

// NetworkClass buckets measured throughput (spec §4.D).
type NetworkClass uint8

var ENetworkClass = NetworkClass(0)

func (NetworkClass) VerySlow() NetworkClass { return NetworkClass(0) }
func (NetworkClass) Slow() NetworkClass     { return NetworkClass(1) }
func (NetworkClass) Medium() NetworkClass   { return NetworkClass(2) }
func (NetworkClass) Fast() NetworkClass     { return NetworkClass(3) }
func (NetworkClass) VeryFast() NetworkClass { return NetworkClass(4) }
func (NetworkClass) Unknown() NetworkClass  { return NetworkClass(5) }

func (c NetworkClass) String() string { return common.EnumString(c) }

var networkAdjustment = map[NetworkClass]float64{
	ENetworkClass.VerySlow(): 2,
	ENetworkClass.Slow():     1,
	ENetworkClass.Medium():   0,
	ENetworkClass.Fast():     -1,
	ENetworkClass.VeryFast(): -2,
	ENetworkClass.Unknown():  0,
}

func sizeAdjustment(size int64) float64 {
	mb := float64(size) / (1024 * 1024)
	switch {
	case mb > 500:
		return -2.5
	case mb > 100:
		return -1.5
	case mb > 10:
		return -0.5
	case mb < 0.5:
		return 1
	default:
		return 0
	}
}

// LevelInputs carries the contextual signals ChooseLevel blends with the
// file's category baseline (spec §4.D).
type LevelInputs struct {
	NetworkClass      NetworkClass
	NetworkStability  float64 // 1 == perfectly stable
	DevicePerformance float64 // [-2, 0.5] per spec
	Stats             *Stats  // historical per-level efficiency, nil if none yet
}

// ChooseLevel composes the category base with size, network and device
// adjustments, then blends in the historically most-efficient level
// (spec §4.D), clamped to gzip's [1,9] range.
func ChooseLevel(file FileMeta, in LevelInputs) int {
	base := baseLevelByCategory[Categorize(file)]
	level := base +
		sizeAdjustment(file.Size) +
		networkAdjustment[in.NetworkClass]*clamp01(in.NetworkStability) +
		clampDevice(in.DevicePerformance)

	if in.Stats != nil {
		if best, ok := in.Stats.BestLevelByEfficiency(); ok {
			level = (level + float64(best)) / 2
		}
	}

	rounded := int(level + 0.5)
	if rounded < 1 {
		rounded = 1
	}
	if rounded > 9 {
		rounded = 9
	}
	return rounded
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampDevice(v float64) float64 {
	if v < -2 {
		return -2
	}
	if v > 0.5 {
		return 0.5
	}
	return v
}

// Result is the telemetry compress/decompress report back (spec §4.D).
type Result struct {
	Algorithm      string
	Level          int
	OriginalSize   int64
	CompressedSize int64
	DurationMs     int64
}

// Compress gzips data at level via klauspost/compress/gzip, the host's
// streaming compression primitive (spec §4.D), generalizing azcopy's own
// compressionReader.go gzip pipeline from file-to-pipe streaming down to
// an in-memory byte transform matching the spec's compress(bytes)
// contract.
func Compress(data []byte, level int) ([]byte, Result, error) {
	if level < 1 {
		level = gzip.DefaultCompression
	}
	if level > 9 {
		level = 9
	}
	start := time.Now()

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, Result{}, common.NewError(common.ECode.IO(), "creating gzip writer", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, Result{}, common.NewError(common.ECode.IO(), "compressing payload", err)
	}
	if err := w.Close(); err != nil {
		return nil, Result{}, common.NewError(common.ECode.IO(), "closing gzip writer", err)
	}

	out := buf.Bytes()
	return out, Result{
		Algorithm:      "gzip",
		Level:          level,
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(out)),
		DurationMs:     time.Since(start).Milliseconds(),
	}, nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewError(common.ECode.Corrupt(), "invalid gzip stream", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, common.NewError(common.ECode.Corrupt(), "decompressing payload", err)
	}
	return out, nil
}

// PredictCompressedSize estimates the compressed size without compressing
// the whole payload (spec §4.D): small files get a real end-to-end
// compress of themselves; large files fall back to historical per-category
// ratio, or to a repetition-density heuristic when a sample is available
// and no history exists yet.
func PredictCompressedSize(file FileMeta, sample []byte, stats *Stats) (int64, error) {
	const smallFileThreshold = 256 * 1024

	if file.Size <= smallFileThreshold && int64(len(sample)) >= file.Size {
		_, result, err := Compress(sample, ChooseLevel(file, LevelInputs{Stats: stats}))
		if err != nil {
			return 0, err
		}
		return result.CompressedSize, nil
	}

	category := Categorize(file)
	if stats != nil {
		if ratio, ok := stats.CategoryRatio(category); ok {
			return int64(float64(file.Size) * ratio), nil
		}
	}

	if len(sample) > 0 {
		ratio := 1 - repetitionDensity(sample)
		return int64(float64(file.Size) * ratio), nil
	}

	return file.Size, nil
}

// repetitionDensity is a crude estimate of how compressible a sample is:
// the fraction of 4-byte windows that repeat a window seen earlier in the
// sample. Higher density implies a lower achievable ratio.
func repetitionDensity(sample []byte) float64 {
	const windowSize = 4
	if len(sample) < windowSize*2 {
		return 0
	}
	seen := make(map[string]bool)
	repeats := 0
	total := 0
	for i := 0; i+windowSize <= len(sample); i += windowSize {
		w := string(sample[i : i+windowSize])
		if seen[w] {
			repeats++
		}
		seen[w] = true
		total++
	}
	if total == 0 {
		return 0
	}
	return float64(repeats) / float64(total)
}
