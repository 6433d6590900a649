// Package adapter implements the Platform Adapter (spec §4.A): the single
// capability interface every other component targets, isolating host API
// drift. Grounded on azcopy's common/azHttpClient.go (host HTTP client
// wrapping) and its MMF-based file slicing (ste/MMapFileHandler.go,
// common/mmf_unix.go).
package adapter

import (
	"context"
	"io"
	"time"

	"github.com/filechunkpro/filechunk-pro/common"
)

// PlatformKind is the tagged variant spec §9's design notes call for,
// replacing runtime duck-typing of host globals with an explicit,
// boot-time capability probe.
type PlatformKind uint8

var EPlatformKind = PlatformKind(0)

func (PlatformKind) Browser() PlatformKind     { return PlatformKind(0) }
func (PlatformKind) WechatMp() PlatformKind    { return PlatformKind(1) }
func (PlatformKind) AlipayMp() PlatformKind    { return PlatformKind(2) }
func (PlatformKind) BytedanceMp() PlatformKind { return PlatformKind(3) }
func (PlatformKind) BaiduMp() PlatformKind     { return PlatformKind(4) }
func (PlatformKind) Native() PlatformKind      { return PlatformKind(5) }

func (k PlatformKind) String() string { return common.EnumString(k) }

// FileHandle is spec §3's opaque file descriptor: declared name, byte
// size, MIME hint, last-modified tick, and a content accessor.
type FileHandle interface {
	Name() string
	Size() int64
	MIMEHint() string
	LastModified() time.Time
	// Slice returns the bytes in [start, end). Implementations may back
	// this with an mmap, a pread, or an in-memory buffer.
	Slice(ctx context.Context, start, end int64) ([]byte, error)
}

// RequestOptions configures one Transport call.
type RequestOptions struct {
	Headers map[string]string
	Timeout time.Duration
	// Body is a streaming request body (e.g. a multipart writer's pipe
	// reader); nil for GET/HEAD.
	Body io.Reader
}

// Response is the minimal shape every Transport call returns.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Transport is the HTTP capability: POST/GET with streaming body,
// headers, timeout and cancellation via ctx.
type Transport interface {
	Do(ctx context.Context, method, url string, opts RequestOptions) (*Response, error)
}

// KVStore is the raw KV primitive the Platform Adapter exposes; the
// Persistent Store module (component C) is layered on top of this, it is
// not this interface itself -- the adapter only gives access to the host
// primitive.
type KVStore interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Info(ctx context.Context) (usedBytes int64, quotaBytes int64, err error)
}

// FSStore is the optional filesystem primitive for temp cleanup and
// large-blob spillover, present on Native and some mini-program hosts.
type FSStore interface {
	Stat(path string) (size int64, modTime time.Time, err error)
	ReadDir(path string) ([]string, error)
	Unlink(path string) error
}

// NetworkInfo is the network-info probe: the last measured throughput
// sample, feeding the compression pipeline's network telemetry (spec
// §4.D). It carries no network class.
type NetworkInfo struct {
	MeasuredThroughputMBps float64
}

// DeviceHints is the device-side telemetry input: battery state and
// whether a long task was recently observed, feeding the compression
// pipeline's device telemetry (spec §4.D).
type DeviceHints struct {
	BatteryLevel   float64 // 0..1, 1 meaning full
	Charging       bool
	LongTaskEvents int
}

// WorkerSpawner spawns a background executor for off-main-thread work
// (the hash worker pool's jobs, and optionally compression above a size
// threshold per spec §5's scheduling model).
type WorkerSpawner interface {
	// Spawn runs fn on a background goroutine/executor and returns
	// immediately; fn must itself respect ctx cancellation.
	Spawn(ctx context.Context, fn func(ctx context.Context))
}

// Adapter is the full Platform Adapter capability surface (spec §4.A,
// points i-vii).
type Adapter interface {
	Kind() PlatformKind
	Transport() Transport
	KV() KVStore
	FS() (FSStore, bool) // ok=false on hosts without a filesystem
	Workers() WorkerSpawner
	NetworkInfo(ctx context.Context) (NetworkInfo, error)
	DeviceHints(ctx context.Context) (DeviceHints, error)
}

// ErrUnsupportedPlatform is the error for any PlatformKind this Go process
// cannot host -- see DESIGN.md's Open Question decision on platform
// variants: only Native is instantiable without a browser or mini-program
// runtime. Probe never returns it, since Native is the only kind it
// detects.
var ErrUnsupportedPlatform = common.NewError(common.ECode.Config(), "platform kind is not instantiable in this host process", nil)

// Probe performs the boot-time capability detection spec §4.A describes:
// "selection is at kernel boot via feature detection." In a native Go
// process the only detectable host is Native.
func Probe() (PlatformKind, error) {
	return EPlatformKind.Native(), nil
}
