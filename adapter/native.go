package adapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/filechunkpro/filechunk-pro/common"
)

// localFileHandle wraps an *os.File as a FileHandle, slicing via ReadAt
// the way azcopy's MMapFileHandler and singleChunkReader address chunks
// by offset without loading the whole file into memory.
type localFileHandle struct {
	f            *os.File
	name         string
	size         int64
	mimeHint     string
	lastModified time.Time
}

// NewLocalFileHandle opens path and reads its size/mtime for the handle.
func NewLocalFileHandle(path, mimeHint string) (FileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewError(common.ECode.IO(), "opening file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.NewError(common.ECode.IO(), "stat file", err)
	}
	return &localFileHandle{f: f, name: info.Name(), size: info.Size(), mimeHint: mimeHint, lastModified: info.ModTime()}, nil
}

func (h *localFileHandle) Name() string            { return h.name }
func (h *localFileHandle) Size() int64              { return h.size }
func (h *localFileHandle) MIMEHint() string         { return h.mimeHint }
func (h *localFileHandle) LastModified() time.Time { return h.lastModified }

func (h *localFileHandle) Slice(ctx context.Context, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewError(common.ECode.Cancelled(), "slice cancelled", err)
	}
	if start < 0 || end < start || end > h.size {
		return nil, common.NewError(common.ECode.Input(), "slice range out of bounds", nil)
	}
	buf := make([]byte, end-start)
	n, err := h.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, common.NewError(common.ECode.IO(), "reading file slice", err)
	}
	return buf[:n], nil
}

func (h *localFileHandle) Close() error { return h.f.Close() }

// httpTransport is Transport backed by stdlib net/http; no third-party
// HTTP client substitutes for it in this port, see DESIGN.md's adapter
// entry for why.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a Transport with the given default timeout.
func NewHTTPTransport(defaultTimeout time.Duration) Transport {
	return &httpTransport{client: &http.Client{Timeout: defaultTimeout}}
}

func (t *httpTransport) Do(ctx context.Context, method, url string, opts RequestOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.client.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, opts.Body)
	if err != nil {
		return nil, common.NewError(common.ECode.Network(), "building request", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, common.NewError(common.ECode.Cancelled(), "request cancelled", err)
		}
		// spec §5 "On timeout the transport treats it as a retryable
		// failure" -- and so does every other network-level failure here.
		return nil, common.NewError(common.ECode.Network(), "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError(common.ECode.Network(), "reading response body", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header}, nil
}

// goroutineSpawner is WorkerSpawner backed by a plain goroutine -- this is
// the "direct next-tick reschedule" mechanism spec §9 explicitly allows
// ("implementers on systems runtimes may use a direct next-tick
// reschedule... The requirement is only: no main-thread stall > one
// piece's worth of work").
type goroutineSpawner struct{}

func (goroutineSpawner) Spawn(ctx context.Context, fn func(ctx context.Context)) {
	go fn(ctx)
}

// nativeAdapter is the one instantiable Adapter variant in a Go process.
type nativeAdapter struct {
	transport Transport
	kv        KVStore
	fs        FSStore
	workers   WorkerSpawner

	mu          sync.RWMutex
	netInfo     NetworkInfo
	deviceHints DeviceHints
}

// NewNative builds the Native platform adapter. kv and fs are injected so
// the store package's backend (badger or in-memory) can sit underneath
// the same capability interface without this package importing store.
func NewNative(kv KVStore, fs FSStore, defaultTimeout time.Duration) Adapter {
	return &nativeAdapter{
		transport: NewHTTPTransport(defaultTimeout),
		kv:        kv,
		fs:        fs,
		workers:   goroutineSpawner{},
	}
}

func (n *nativeAdapter) Kind() PlatformKind { return EPlatformKind.Native() }
func (n *nativeAdapter) Transport() Transport { return n.transport }
func (n *nativeAdapter) KV() KVStore           { return n.kv }
func (n *nativeAdapter) Workers() WorkerSpawner { return n.workers }

func (n *nativeAdapter) FS() (FSStore, bool) {
	return n.fs, n.fs != nil
}

// UpdateNetworkInfo lets the host process feed measured throughput
// samples in (e.g. from the engine's own chunk transfer speed), since a
// native process has no built-in "connection" API the way a browser does.
func (n *nativeAdapter) UpdateNetworkInfo(info NetworkInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.netInfo = info
}

func (n *nativeAdapter) UpdateDeviceHints(hints DeviceHints) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deviceHints = hints
}

func (n *nativeAdapter) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.netInfo, nil
}

func (n *nativeAdapter) DeviceHints(ctx context.Context) (DeviceHints, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.deviceHints, nil
}

// BufferFileHandle is an in-memory FileHandle used by tests and by the
// zero-byte-file boundary case (spec §8).
type BufferFileHandle struct {
	NameVal         string
	Data            []byte
	MIME            string
	LastModifiedVal time.Time
}

func (b *BufferFileHandle) Name() string            { return b.NameVal }
func (b *BufferFileHandle) Size() int64              { return int64(len(b.Data)) }
func (b *BufferFileHandle) MIMEHint() string         { return b.MIME }
func (b *BufferFileHandle) LastModified() time.Time { return b.LastModifiedVal }

func (b *BufferFileHandle) Slice(ctx context.Context, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewError(common.ECode.Cancelled(), "slice cancelled", err)
	}
	if start < 0 || end < start || end > int64(len(b.Data)) {
		return nil, common.NewError(common.ECode.Input(), "slice range out of bounds", nil)
	}
	return bytes.Clone(b.Data[start:end]), nil
}
