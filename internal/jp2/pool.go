package jp2

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/raster"
)

// DefaultPoolSize returns max(1, NumCPU/2).
func DefaultPoolSize() int {
	return max(1, runtime.NumCPU()/2)
}

// Pool bounds concurrent encodes across all documents of the process.
type Pool struct {
	enc  *Encoder
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool running at most size encodes at once; size <= 0
// uses DefaultPoolSize.
func NewPool(enc *Encoder, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	return &Pool{enc: enc, sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency cap.
func (p *Pool) Size() int { return p.size }

// Group is the set of encodes submitted for one document.
type Group struct {
	pool   *Pool
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	admit  *semaphore.Weighted

	mu  sync.Mutex
	err error
}

// Group starts a per-document group. The first failing encode cancels the
// encodes of the group that have not started yet. At most twice the pool
// size of the group's images are held at once.
func (p *Pool) Group(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	return &Group{
		pool:   p,
		g:      g,
		ctx:    gctx,
		cancel: cancel,
		admit:  semaphore.NewWeighted(int64(2 * p.size)),
	}
}

// Submit queues img for encoding. It blocks while the group is full and
// returns the group's context error once an encode has failed or the parent
// context is done. On success the codestream is stored in *slot; slot must
// not be read before Wait returns.
func (g *Group) Submit(page int, img *raster.Image, slot *[]byte) error {
	if err := g.ctx.Err(); err != nil {
		return err
	}
	if err := g.admit.Acquire(g.ctx, 1); err != nil {
		return err
	}
	g.g.Go(func() error {
		err := g.encode(page, img, slot)
		if err != nil {
			// Cancel before the slot frees up so a blocked Submit sees the failure.
			g.fail(err)
		}
		g.admit.Release(1)
		return err
	})
	return nil
}

func (g *Group) encode(page int, img *raster.Image, slot *[]byte) error {
	if err := g.pool.sem.Acquire(g.ctx, 1); err != nil {
		return err
	}
	defer g.pool.sem.Release(1)

	metrics.JP2Started()
	defer metrics.JP2Finished()
	start := time.Now()
	data, err := g.pool.enc.Encode(img)
	if err != nil {
		metrics.ObserveJP2("error", time.Since(start))
		return fmt.Errorf("page %d: %w", page, err)
	}
	metrics.ObserveJP2("ok", time.Since(start))
	*slot = data
	return nil
}

func (g *Group) fail(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
	g.cancel()
}

// Err reports whether the group stopped accepting work.
func (g *Group) Err() error {
	return g.ctx.Err()
}

// Wait blocks until every submitted encode has finished and returns the
// first encode error, or the context error if the parent was cancelled.
func (g *Group) Wait() error {
	defer g.cancel()
	err := g.g.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	return err
}
