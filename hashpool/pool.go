// Package hashpool implements the Hash Worker Pool (spec §4.B): content
// fingerprinting with incremental streaming, progress, and a bound on how
// many jobs hash at once. Digest is MD5, matching the teacher's
// own digest choice (ste/md5Comparer.go) and resolving spec §9's open
// question ("any collision-resistant-enough digest with an incremental
// API satisfies it").
package hashpool

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"golang.org/x/sync/semaphore"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

const defaultChunkSize = 2 << 20 // 2 MiB, spec §4.B default

// ByteRange is one piece of an ordered list of ranges to hash, used for
// the "ordered list of byte ranges" input shape (spec §4.B).
type ByteRange struct {
	Start, End int64
}

// Input is either a whole file (Handle set) or a pre-chunked list of
// ranges over Handle (Ranges set) -- spec §4.B: "input is either a file
// handle or an ordered list of byte ranges".
type Input struct {
	Handle adapter.FileHandle
	Ranges []ByteRange // nil means "hash the whole file in chunkSize pieces"
}

// Options configures one hash job.
type Options struct {
	ChunkSize  int64
	OnProgress func(percent float64)
	Signal     <-chan struct{} // closed to cancel, mirroring an abort signal
}

// Pool bounds how many hash jobs run at once. It keeps no long-lived
// worker goroutines: each admitted job runs on the calling goroutine.
// Grounded on azcopy's general bounded-concurrency idiom
// (ste/concurrency.go); uses golang.org/x/sync/semaphore for admission
// the way azcopy's own concurrency primitives gate parallel work.
type Pool struct {
	sem        *semaphore.Weighted
	maxWorkers int64
	logger     common.ILogger
}

// NewPool builds a pool with the given max concurrency. Spec §4.B default
// is 1 (a single whole-file job); values >1 only make sense when inputs
// are pre-chunked and independently hashable.
func NewPool(maxWorkers int, logger common.ILogger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = common.NullLogger{}
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxWorkers)), maxWorkers: int64(maxWorkers), logger: logger}
}

// Hash computes the fingerprint of in, spec §4.B. A job runs as soon as a
// semaphore slot is free, or is queued FIFO behind the semaphore once all
// slots are taken. Fails with WORKER if the hashing loop panics on both
// of its attempts, CANCELLED on signal, IO on read failure. It does not
// consult adapter.Workers(), so an unavailable spawner is never reported.
func (p *Pool) Hash(ctx context.Context, in Input, opts Options) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", common.NewError(common.ECode.Cancelled(), "hash job cancelled while queued", err)
	}
	defer p.sem.Release(1)

	// crash-replace-once discipline (spec §4.B): one retry budget if the
	// hashing goroutine panics, e.g. from a corrupt slice implementation.
	const crashBudget = 1
	var lastErr error
	for attempt := 0; attempt <= crashBudget; attempt++ {
		digest, err := p.runOnce(ctx, in, opts)
		if err == nil {
			return digest, nil
		}
		if common.IsCode(err, common.ECode.Cancelled()) {
			return "", err
		}
		lastErr = err
		if _, crashed := err.(*workerCrash); !crashed {
			return "", err
		}
		p.logger.Log(common.LogWarning, "hash worker crashed, replacing and re-queuing job (budget exhausted after this attempt)")
	}
	return "", common.NewError(common.ECode.Worker(), "hash worker crashed twice", lastErr)
}

type workerCrash struct{ cause interface{} }

func (w *workerCrash) Error() string { return "hash worker panicked" }

func (p *Pool) runOnce(ctx context.Context, in Input, opts Options) (digest string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &workerCrash{cause: r}
		}
	}()

	ranges := in.Ranges
	if ranges == nil {
		ranges = chunkWholeFile(in.Handle.Size(), chunkSizeOrDefault(opts.ChunkSize))
	}

	h := md5.New()
	total := len(ranges)
	for i, r := range ranges {
		select {
		case <-ctx.Done():
			return "", common.NewError(common.ECode.Cancelled(), "hash cancelled", ctx.Err())
		default:
		}
		if opts.Signal != nil {
			select {
			case <-opts.Signal:
				return "", common.NewError(common.ECode.Cancelled(), "hash cancelled by signal", nil)
			default:
			}
		}

		piece, readErr := in.Handle.Slice(ctx, r.Start, r.End)
		if readErr != nil {
			if common.IsCode(readErr, common.ECode.Cancelled()) {
				return "", readErr
			}
			return "", common.NewError(common.ECode.IO(), "reading hash input piece", readErr)
		}
		h.Write(piece)

		if opts.OnProgress != nil {
			opts.OnProgress(float64(i+1) / float64(total) * 100)
		}
		// spec §5 suspension point: "between each chunk piece in the hash
		// loop." A plain goroutine already yields at channel operations;
		// this explicit yield keeps the loop responsive even when ctx and
		// Signal are both nil-checked away (e.g. in tests).
		yieldToScheduler()
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func chunkSizeOrDefault(size int64) int64 {
	if size <= 0 {
		return defaultChunkSize
	}
	return size
}

// chunkWholeFile derives the ordered ranges covering [0, size) in
// chunkSize pieces, dense from index 0, last piece possibly shorter --
// same invariant the upload engine's chunk plan uses (spec §3).
func chunkWholeFile(size, chunkSize int64) []ByteRange {
	if size == 0 {
		return []ByteRange{{0, 0}}
	}
	var ranges []ByteRange
	for offset := int64(0); offset < size; offset += chunkSize {
		end := offset + chunkSize
		if end > size {
			end = size
		}
		ranges = append(ranges, ByteRange{Start: offset, End: end})
	}
	return ranges
}

// HashRanges computes a single digest across ranges independently of any
// whole-file chunking decision; this is what makes spec §8's round-trip
// law "hash(file) = hash(chunks of file) for any chunking" true: both
// paths funnel through runOnce's single incremental md5.Writer.
func (p *Pool) HashRanges(ctx context.Context, handle adapter.FileHandle, ranges []ByteRange, opts Options) (string, error) {
	return p.Hash(ctx, Input{Handle: handle, Ranges: ranges}, opts)
}
