// Package engine implements the Upload Engine (spec §4.F): fingerprint,
// dedup precheck, chunk planning, bounded concurrent transfer, merge and
// resume, on top of the hashpool, store and cdn modules.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/cdn"
	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/compression"
	"github.com/filechunkpro/filechunk-pro/hashpool"
	"github.com/filechunkpro/filechunk-pro/store"
)

// FileMeta reuses the compression package's file description -- name,
// MIME type and size are exactly what both packages need to make their
// respective decisions from.
type FileMeta = compression.FileMeta

// Config wires the engine to its HTTP endpoints and tunables, the
// SPEC_FULL.md §1.3 `transport.http.*` keys.
type Config struct {
	CheckURL              string
	ChunkURL              string
	MergeURL              string
	MaxConcurrentUploads  int
	RetryCount            int
	ChunkSizeOverride     int64 // 0 means derive from DeriveChunkSize
	SessionLogDir         string // empty disables per-session log files
}

func DefaultConfig() Config {
	return Config{MaxConcurrentUploads: 3, RetryCount: 3}
}

// UploadOptions configures one Upload call (spec §4.F).
type UploadOptions struct {
	OnProgress         func(bytesUploaded int64, percent float64)
	OnError            func(error)
	RetryCount         int // overrides Config.RetryCount when > 0
	Signal             <-chan struct{}
	CredentialCallback func(headers map[string]string)
	NetworkClass       compression.NetworkClass
}

// UploadResult is upload()'s return value (spec §4.F).
type UploadResult struct {
	Success bool
	URL     string
	Err     error
}

type activeRun struct {
	cancel     context.CancelFunc
	wantPause  bool
	wantCancel bool
}

// Engine is the upload orchestrator. One instance typically backs one
// kernel module registration (spec §4.G wires it as a Module).
type Engine struct {
	store     *store.Store
	sessions  *sessionStore
	pool      *hashpool.Pool
	transport adapter.Transport
	cdnConn   *cdn.Connector
	cfg       Config
	logger    common.ILogger

	mu     sync.Mutex
	active map[string]*activeRun
}

func New(st *store.Store, pool *hashpool.Pool, transport adapter.Transport, cdnConn *cdn.Connector, cfg Config, logger common.ILogger) *Engine {
	if logger == nil {
		logger = common.NullLogger{}
	}
	return &Engine{
		store:     st,
		sessions:  newSessionStore(st),
		pool:      pool,
		transport: transport,
		cdnConn:   cdnConn,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]*activeRun),
	}
}

func (e *Engine) registerActive(fingerprint string, cancel context.CancelFunc) *activeRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := &activeRun{cancel: cancel}
	e.active[fingerprint] = run
	return run
}

func (e *Engine) unregisterActive(fingerprint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, fingerprint)
}

// Cancel aborts the in-flight upload for fingerprint, if any. Idempotent:
// calling it twice, or on an already-finished upload, is a no-op (spec
// §5: "Cancellation is idempotent").
func (e *Engine) Cancel(fingerprint string) error {
	e.mu.Lock()
	run, ok := e.active[fingerprint]
	if ok {
		run.wantCancel = true
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	run.cancel()
	return nil
}

// Pause stops the in-flight upload for fingerprint by cancelling its
// context, which aborts the chunks in flight, and leaves a resumable
// session row in Paused.
func (e *Engine) Pause(fingerprint string) error {
	e.mu.Lock()
	run, ok := e.active[fingerprint]
	if ok {
		run.wantPause = true
	}
	e.mu.Unlock()
	if !ok {
		return common.NewError(common.ECode.Input(), "no active upload for that fingerprint", nil)
	}
	run.cancel()
	return nil
}

// Resume continues a previously paused (or crashed) session for the
// file's fingerprint. It is equivalent to calling Upload again: the
// fingerprint recomputation is cheap relative to the network cost it
// saves by re-verifying identity, and lets Resume share all of Upload's
// resume-detection logic.
func (e *Engine) Resume(ctx context.Context, handle adapter.FileHandle, meta FileMeta, opts UploadOptions) (UploadResult, error) {
	return e.Upload(ctx, handle, meta, opts)
}

// Upload runs the full lifecycle (spec §4.F): fingerprint -> precheck ->
// chunk plan -> concurrent transfer -> merge -> resume. The same method
// handles a cold start, a resume of a paused/interrupted session, and a
// dedup short-circuit.
func (e *Engine) Upload(ctx context.Context, handle adapter.FileHandle, meta FileMeta, opts UploadOptions) (UploadResult, error) {
	fingerprint, err := e.fingerprintOf(ctx, handle)
	if err != nil {
		return UploadResult{Err: err}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := e.registerActive(fingerprint, cancel)
	defer e.unregisterActive(fingerprint)
	defer cancel()

	result, err := e.runUpload(runCtx, run, fingerprint, handle, meta, opts)
	if err != nil && opts.OnError != nil {
		opts.OnError(err)
	}
	return result, err
}

func (e *Engine) runUpload(ctx context.Context, run *activeRun, fingerprint string, handle adapter.FileHandle, meta FileMeta, opts UploadOptions) (UploadResult, error) {
	session, err := e.sessions.load(fingerprint)
	if err != nil {
		return UploadResult{}, err
	}

	chunkSize := e.chunkSizeFor(meta.Size, opts.NetworkClass)

	if session == nil {
		// probing: dedup precheck before any chunk plan exists.
		dedupeResp, err := checkDedup(ctx, e.transport, e.cfg.CheckURL, fingerprint, e.headersFor(opts))
		if err != nil {
			return UploadResult{}, err
		}
		if dedupeResp.Exists {
			// instant upload hit: no session row, no chunk requests.
			return UploadResult{Success: true, URL: dedupeResp.URL}, nil
		}

		plan := BuildChunkPlan(meta.Size, chunkSize)
		session = newSession(fingerprint, meta.Name, meta.Size, meta.MimeType, plan, chunkSize)
	} else if session.Status == EStatus.Done() {
		return UploadResult{Success: true, URL: session.URL}, nil
	} else if !planMatches(session, meta.Size, chunkSize) {
		plan := BuildChunkPlan(meta.Size, chunkSize)
		session = newSession(fingerprint, meta.Name, meta.Size, meta.MimeType, plan, chunkSize)
	}

	sessionLog := e.openSessionLog(session)
	if sessionLog != nil {
		defer sessionLog.CloseLog()
		sessionLog.Log(common.LogInfo, fmt.Sprintf("upload started for %q: %d bytes across %d chunk(s)", session.FileName, session.FileSize, len(session.Chunks)))
	}

	session.Status = EStatus.Uploading()
	if err := e.sessions.save(session); err != nil {
		return UploadResult{}, err
	}

	if err := e.uploadPendingChunks(ctx, run, session, handle, opts); err != nil {
		if sessionLog != nil {
			sessionLog.Log(common.LogError, fmt.Sprintf("chunk upload stopped: %v", err))
		}
		return e.finishFailedOrCancelled(session, run, err)
	}

	url, err := e.mergeWithRetry(ctx, session, handle, opts)
	if err != nil {
		if sessionLog != nil {
			sessionLog.Log(common.LogError, fmt.Sprintf("merge failed: %v", err))
		}
		session.Status = EStatus.Failed()
		_ = e.sessions.save(session)
		return UploadResult{Err: err}, err
	}

	session.Status = EStatus.Done()
	session.URL = url
	if err := e.sessions.save(session); err != nil {
		return UploadResult{}, err
	}

	if sessionLog != nil {
		sessionLog.Log(common.LogInfo, fmt.Sprintf("upload done: %s", url))
	}

	return UploadResult{Success: true, URL: url}, nil
}

// openSessionLog opens the per-session log file for session, if
// Config.SessionLogDir is set (spec §9's per-upload audit trail,
// modeled on the teacher's per-job log file). Returns nil when disabled
// or when the file can't be opened, in which case the process logger
// already recorded why.
func (e *Engine) openSessionLog(session *Session) *common.SessionLogger {
	if e.cfg.SessionLogDir == "" {
		return nil
	}
	sl := common.NewSessionLogger(common.SessionID(session.SessionID), common.LogInfo, e.cfg.SessionLogDir)
	if err := sl.OpenLog(); err != nil {
		e.logger.Log(common.LogWarning, fmt.Sprintf("opening session log for %s: %v", session.SessionID, err))
		return nil
	}
	return sl
}

func (e *Engine) finishFailedOrCancelled(session *Session, run *activeRun, cause error) (UploadResult, error) {
	e.mu.Lock()
	wantPause := run.wantPause
	wantCancel := run.wantCancel
	e.mu.Unlock()

	switch {
	case wantCancel:
		session.Status = EStatus.Cancelled()
	case wantPause:
		session.Status = EStatus.Paused()
	default:
		session.Status = EStatus.Failed()
	}
	_ = e.sessions.save(session)

	if wantCancel {
		return UploadResult{Err: cause}, common.NewError(common.ECode.Cancelled(), "upload cancelled", nil)
	}
	if wantPause {
		return UploadResult{Err: cause}, nil
	}
	return UploadResult{Err: cause}, cause
}

func (e *Engine) chunkSizeFor(fileSize int64, class compression.NetworkClass) int64 {
	if e.cfg.ChunkSizeOverride > 0 {
		return e.cfg.ChunkSizeOverride
	}
	return DeriveChunkSize(fileSize, class)
}

func (e *Engine) headersFor(opts UploadOptions) map[string]string {
	headers := make(map[string]string)
	if opts.CredentialCallback != nil {
		opts.CredentialCallback(headers)
	}
	return headers
}

// fingerprintOf hashes the whole file through the hashpool (spec §4.B's
// MD5 digest, used here as the engine's content identity).
func (e *Engine) fingerprintOf(ctx context.Context, handle adapter.FileHandle) (string, error) {
	return e.pool.Hash(ctx, hashpool.Input{Handle: handle}, hashpool.Options{})
}

// SessionFor returns the persisted session for handle's fingerprint, or
// nil if no upload has ever been started for it. It does not start or
// resume anything; hosts that only want to report progress (the CLI's
// status command) use this instead of Upload.
func (e *Engine) SessionFor(ctx context.Context, handle adapter.FileHandle) (*Session, error) {
	fingerprint, err := e.fingerprintOf(ctx, handle)
	if err != nil {
		return nil, err
	}
	return e.sessions.load(fingerprint)
}

// uploadPendingChunks admits up to cfg.MaxConcurrentUploads chunks at a
// time (spec §4.F concurrency rule); each admitted slot picks the next
// pending chunk by index, uploads it under retry+backoff, and persists
// the session after every success so a crash mid-upload loses only the
// chunks still in flight.
func (e *Engine) uploadPendingChunks(ctx context.Context, run *activeRun, session *Session, handle adapter.FileHandle, opts UploadOptions) error {
	retryCount := e.cfg.RetryCount
	if opts.RetryCount > 0 {
		retryCount = opts.RetryCount
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(1, e.cfg.MaxConcurrentUploads))

	for i := range session.Chunks {
		chunk := &session.Chunks[i]
		if chunk.Status == EChunkStatus.Uploaded() {
			continue
		}
		chunk := chunk

		g.Go(func() error {
			select {
			case <-opts.Signal:
				return common.NewError(common.ECode.Cancelled(), "upload signalled to stop", nil)
			default:
			}

			data, err := handle.Slice(gctx, chunk.Start, chunk.End)
			if err != nil {
				return common.NewError(common.ECode.IO(), "reading chunk bytes", err)
			}

			backoff := common.BackoffConfig{MaxRetries: retryCount, InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0}
			url := e.chunkURL()
			endpointID := e.activeEndpointID()

			_, err = common.WithBackoff(gctx, e.logger, fmt.Sprintf("chunk-%d", chunk.Index), backoff, func(ctx context.Context, attempt int) (struct{}, error) {
				err := uploadChunk(ctx, e.transport, url, session.FileFingerprint, chunk.Index, data, e.headersFor(opts))
				if e.cdnConn != nil && endpointID != "" {
					e.cdnConn.ReportOutcome(endpointID, err == nil)
				}
				return struct{}{}, err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				chunk.Status = EChunkStatus.Failed()
				chunk.Attempts++
				return err
			}
			chunk.Status = EChunkStatus.Uploaded()
			chunk.Attempts++
			_ = e.sessions.save(session)
			if opts.OnProgress != nil {
				opts.OnProgress(session.uploadedBytes(), session.percentComplete())
			}
			return nil
		})
	}

	return g.Wait()
}

// mergeWithRetry calls /api/upload/merge, re-queuing gaps and retrying up
// to 3 times total on a "400 incomplete chunks" response (spec §4.F).
func (e *Engine) mergeWithRetry(ctx context.Context, session *Session, handle adapter.FileHandle, opts UploadOptions) (string, error) {
	const mergeBudget = 3

	session.Status = EStatus.Merging()
	_ = e.sessions.save(session)

	req := mergeRequest{
		FileID:     session.FileFingerprint,
		FileName:   session.FileName,
		FileSize:   session.FileSize,
		FileType:   session.FileType,
		Hash:       session.FileFingerprint,
		ChunkCount: len(session.Chunks),
	}

	var lastErr error
	for attempt := 0; attempt < mergeBudget; attempt++ {
		resp, err := mergeChunks(ctx, e.transport, e.cfg.MergeURL, req, e.headersFor(opts))
		if err == nil {
			return resp.URL, nil
		}

		if _, incomplete := err.(*errIncompleteChunks); incomplete {
			lastErr = err
			if gapErr := e.reuploadGaps(ctx, session, handle, opts); gapErr != nil {
				return "", gapErr
			}
			continue
		}
		return "", err
	}
	return "", common.NewError(common.ECode.Server(), "merge incomplete after retry budget", lastErr)
}

// reuploadGaps re-checks the persisted plan for chunks not marked
// uploaded and retries just those, per spec §4.F's merge-gap recovery.
func (e *Engine) reuploadGaps(ctx context.Context, session *Session, handle adapter.FileHandle, opts UploadOptions) error {
	gaps := session.pendingIndices()
	if len(gaps) == 0 {
		return nil
	}
	e.logger.Log(common.LogWarning, fmt.Sprintf("merge reported incomplete chunks, re-queuing %d gap(s)", len(gaps)))

	backoff := common.BackoffConfig{MaxRetries: e.cfg.RetryCount, InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0}
	for i := range session.Chunks {
		chunk := &session.Chunks[i]
		if chunk.Status == EChunkStatus.Uploaded() {
			continue
		}
		data, err := handle.Slice(ctx, chunk.Start, chunk.End)
		if err != nil {
			return common.NewError(common.ECode.IO(), "reading gap chunk bytes", err)
		}
		url := e.chunkURL()
		_, err = common.WithBackoff(ctx, e.logger, fmt.Sprintf("gap-chunk-%d", chunk.Index), backoff, func(ctx context.Context, attempt int) (struct{}, error) {
			return struct{}{}, uploadChunk(ctx, e.transport, url, session.FileFingerprint, chunk.Index, data, e.headersFor(opts))
		})
		if err != nil {
			chunk.Status = EChunkStatus.Failed()
			return err
		}
		chunk.Status = EChunkStatus.Uploaded()
	}
	_ = e.sessions.save(session)
	return nil
}

func (e *Engine) chunkURL() string {
	if e.cdnConn != nil {
		if active := e.cdnConn.ActiveEndpoint(); active != nil {
			return active.BaseURL + "/api/upload/chunk"
		}
	}
	return e.cfg.ChunkURL
}

func (e *Engine) activeEndpointID() string {
	if e.cdnConn == nil {
		return ""
	}
	if active := e.cdnConn.ActiveEndpoint(); active != nil {
		return active.ID
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
