package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/hashpool"
	"github.com/filechunkpro/filechunk-pro/store"
)

// scriptedTransport routes requests by URL suffix to a caller-provided
// handler, letting each test script check/chunk/merge independently.
type scriptedTransport struct {
	mu           sync.Mutex
	checkCalls   int32
	chunkCalls   int32
	mergeCalls   int32
	chunkIndices []string
	onCheck      func() (*adapter.Response, error)
	onChunk      func(ctx context.Context, body []byte) (*adapter.Response, error)
	onMerge      func(body []byte) (*adapter.Response, error)
}

func (t *scriptedTransport) Do(ctx context.Context, method, url string, opts adapter.RequestOptions) (*adapter.Response, error) {
	var body []byte
	if opts.Body != nil {
		body, _ = readAll(opts.Body)
	}

	switch {
	case strings.Contains(url, "/check"):
		atomic.AddInt32(&t.checkCalls, 1)
		return t.onCheck()
	case strings.Contains(url, "/chunk"):
		atomic.AddInt32(&t.chunkCalls, 1)
		t.mu.Lock()
		t.chunkIndices = append(t.chunkIndices, extractChunkIndex(body))
		t.mu.Unlock()
		return t.onChunk(ctx, body)
	case strings.Contains(url, "/merge"):
		atomic.AddInt32(&t.mergeCalls, 1)
		return t.onMerge(body)
	default:
		return &adapter.Response{StatusCode: 404}, nil
	}
}

func readAll(r interface{ Read([]byte) (int, error) }) ([]byte, error) {
	var buf bytes.Buffer
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
	}
	return buf.Bytes(), nil
}

func extractChunkIndex(body []byte) string {
	s := string(body)
	idx := strings.Index(s, `name="chunkIndex"`)
	if idx < 0 {
		return ""
	}
	rest := s[idx:]
	lines := strings.Split(rest, "\r\n\r\n")
	if len(lines) < 2 {
		return ""
	}
	val := strings.SplitN(lines[1], "\r\n", 2)[0]
	return val
}

func testEngine(t *testing.T, transport adapter.Transport) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(store.NewMemoryBackend(), store.DefaultConfig(50<<20), nil)
	require.NoError(t, st.Open())
	t.Cleanup(func() { _ = st.Dispose() })

	pool := hashpool.NewPool(4, nil)
	cfg := DefaultConfig()
	cfg.CheckURL = "https://api.example.com/api/upload/check"
	cfg.ChunkURL = "https://api.example.com/api/upload/chunk"
	cfg.MergeURL = "https://api.example.com/api/upload/merge"
	cfg.ChunkSizeOverride = 1 << 20

	e := New(st, pool, transport, nil, cfg, nil)
	return e, st
}

func jsonResponse(status int, v interface{}) *adapter.Response {
	b, _ := json.Marshal(v)
	return &adapter.Response{StatusCode: status, Body: b}
}

func bufferHandle(name string, data []byte, mime string) *adapter.BufferFileHandle {
	return &adapter.BufferFileHandle{NameVal: name, Data: data, MIME: mime}
}

// scenario 1: instant upload hit.
func TestInstantUploadHitNoChunkRequests(t *testing.T) {
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) {
			return jsonResponse(200, checkResponse{Exists: true, URL: "https://x/ABC"}), nil
		},
	}
	e, st := testEngine(t, transport)

	handle := bufferHandle("a.bin", bytes.Repeat([]byte{0x41}, 1<<20), "application/octet-stream")
	result, err := e.Upload(context.Background(), handle, FileMeta{Name: "a.bin", MimeType: "application/octet-stream", Size: 1 << 20}, UploadOptions{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "https://x/ABC", result.URL)
	assert.Equal(t, int32(0), atomic.LoadInt32(&transport.chunkCalls))

	keys, _ := st.Stats()
	assert.Equal(t, 0, keys.ItemCount)
}

// scenario 2: clean three-chunk upload.
func TestCleanThreeChunkUpload(t *testing.T) {
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) { return jsonResponse(200, checkResponse{Exists: false}), nil },
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) { return jsonResponse(200, chunkResponse{Success: true}), nil },
		onMerge: func(body []byte) (*adapter.Response, error) {
			var req mergeRequest
			_ = json.Unmarshal(body, &req)
			assert.Equal(t, 3, req.ChunkCount)
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/done"}), nil
		},
	}
	e, _ := testEngine(t, transport)

	size := int64(2_500_000)
	data := bytes.Repeat([]byte{0x01}, int(size))
	handle := bufferHandle("big.bin", data, "application/octet-stream")

	var progressCalls []float64
	var mu sync.Mutex
	result, err := e.Upload(context.Background(), handle, FileMeta{Name: "big.bin", Size: size}, UploadOptions{
		OnProgress: func(bytesUploaded int64, percent float64) {
			mu.Lock()
			progressCalls = append(progressCalls, percent)
			mu.Unlock()
		},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&transport.chunkCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.mergeCalls))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progressCalls)
	assert.InDelta(t, 100.0, progressCalls[len(progressCalls)-1], 0.01)
	for i := 1; i < len(progressCalls); i++ {
		assert.GreaterOrEqual(t, progressCalls[i], progressCalls[i-1])
	}
}

// scenario 3: resume after kill -- only pending chunks re-upload.
func TestResumeAfterCrashOnlyUploadsRemaining(t *testing.T) {
	size := int64(2_500_000)
	data := bytes.Repeat([]byte{0x02}, int(size))
	handle := bufferHandle("resume.bin", data, "application/octet-stream")

	st := store.New(store.NewMemoryBackend(), store.DefaultConfig(50<<20), nil)
	require.NoError(t, st.Open())
	defer st.Dispose()

	pool := hashpool.NewPool(4, nil)
	fingerprint, err := pool.Hash(context.Background(), hashpool.Input{Handle: handle}, hashpool.Options{})
	require.NoError(t, err)

	chunkSize := int64(1 << 20)
	plan := BuildChunkPlan(size, chunkSize)
	plan[0].Status = EChunkStatus.Uploaded() // chunk 0 already succeeded before the crash

	session := newSession(fingerprint, "resume.bin", size, "application/octet-stream", plan, chunkSize)
	session.Status = EStatus.Uploading()
	ss := newSessionStore(st)
	require.NoError(t, ss.save(session))

	transport := &scriptedTransport{
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) { return jsonResponse(200, chunkResponse{Success: true}), nil },
		onMerge: func(body []byte) (*adapter.Response, error) {
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/resumed"}), nil
		},
	}

	cfg := DefaultConfig()
	cfg.ChunkURL = "https://api.example.com/api/upload/chunk"
	cfg.MergeURL = "https://api.example.com/api/upload/merge"
	cfg.ChunkSizeOverride = chunkSize
	e := New(st, pool, transport, nil, cfg, nil)

	result, err := e.Upload(context.Background(), handle, FileMeta{Name: "resume.bin", Size: size}, UploadOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.chunkCalls), "only the 2 pending chunks should re-upload")

	assert.ElementsMatch(t, []string{"1", "2"}, transport.chunkIndices)
}

func TestZeroByteFileUploadsSingleEmptyChunk(t *testing.T) {
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) { return jsonResponse(200, checkResponse{Exists: false}), nil },
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) { return jsonResponse(200, chunkResponse{Success: true}), nil },
		onMerge: func(body []byte) (*adapter.Response, error) {
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/empty"}), nil
		},
	}
	e, _ := testEngine(t, transport)
	handle := bufferHandle("empty.bin", nil, "application/octet-stream")

	result, err := e.Upload(context.Background(), handle, FileMeta{Name: "empty.bin", Size: 0}, UploadOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.chunkCalls))
}

func TestExactChunkBoundaryFilePlan(t *testing.T) {
	chunkSize := int64(1 << 20)
	plan := BuildChunkPlan(chunkSize*3, chunkSize)
	require.Len(t, plan, 3)
	for _, c := range plan {
		assert.Greater(t, c.End-c.Start, int64(0))
	}
	assert.Equal(t, chunkSize*3, plan[2].End)
}

func TestNonASCIIFileNamePreservedInMergeRequest(t *testing.T) {
	var capturedName string
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) { return jsonResponse(200, checkResponse{Exists: false}), nil },
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) { return jsonResponse(200, chunkResponse{Success: true}), nil },
		onMerge: func(body []byte) (*adapter.Response, error) {
			var req mergeRequest
			_ = json.Unmarshal(body, &req)
			capturedName = req.FileName
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/ok"}), nil
		},
	}
	e, _ := testEngine(t, transport)
	name := "résumé ☃ copy (1).txt"
	handle := bufferHandle(name, []byte("hello"), "text/plain")

	result, err := e.Upload(context.Background(), handle, FileMeta{Name: name, Size: 5}, UploadOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, name, capturedName)
}

func TestCancelMarksSessionCancelled(t *testing.T) {
	blockChunk := make(chan struct{})
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) { return jsonResponse(200, checkResponse{Exists: false}), nil },
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-blockChunk:
				return jsonResponse(200, chunkResponse{Success: true}), nil
			}
		},
		onMerge: func(body []byte) (*adapter.Response, error) {
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/ok"}), nil
		},
	}
	e, st := testEngine(t, transport)

	size := int64(5 << 20)
	data := bytes.Repeat([]byte{0x03}, int(size))
	handle := bufferHandle("cancelme.bin", data, "application/octet-stream")

	fingerprint, err := e.pool.Hash(context.Background(), hashpool.Input{Handle: handle}, hashpool.Options{})
	require.NoError(t, err)

	done := make(chan UploadResult, 1)
	go func() {
		result, _ := e.Upload(context.Background(), handle, FileMeta{Name: "cancelme.bin", Size: size}, UploadOptions{})
		done <- result
	}()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		_, ok := e.active[fingerprint]
		e.mu.Unlock()
		return ok
	}, 1e9, 1e6)

	require.NoError(t, e.Cancel(fingerprint))
	<-done
	close(blockChunk)

	session, err := newSessionStore(st).load(fingerprint)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, EStatus.Cancelled(), session.Status)
}

func TestMergeIncompleteChunksRetriesThenSucceeds(t *testing.T) {
	mergeAttempt := int32(0)
	transport := &scriptedTransport{
		onCheck: func() (*adapter.Response, error) { return jsonResponse(200, checkResponse{Exists: false}), nil },
		onChunk: func(ctx context.Context, body []byte) (*adapter.Response, error) { return jsonResponse(200, chunkResponse{Success: true}), nil },
		onMerge: func(body []byte) (*adapter.Response, error) {
			n := atomic.AddInt32(&mergeAttempt, 1)
			if n == 1 {
				return &adapter.Response{StatusCode: 400, Body: []byte("incomplete chunks")}, nil
			}
			return jsonResponse(200, mergeResponse{Success: true, URL: "https://x/ok"}), nil
		},
	}
	e, _ := testEngine(t, transport)
	data := []byte("small file contents")
	handle := bufferHandle("small.txt", data, "text/plain")

	result, err := e.Upload(context.Background(), handle, FileMeta{Name: "small.txt", Size: int64(len(data))}, UploadOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.mergeCalls))
}
