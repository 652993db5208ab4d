package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 4
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs blocking stage work on a fixed number of slots shared by every
// pipeline in the process.
type Pool struct {
	log   *logger.Logger
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool clamps concurrency to [MinConcurrency, MaxConcurrency].
func NewPool(baseLog *logger.Logger, concurrency int) *Pool {
	if concurrency < MinConcurrency {
		concurrency = MinConcurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	p := &Pool{
		log:   baseLog.With("component", "WorkerPool"),
		slots: make(chan struct{}, concurrency),
	}
	p.log.Info("Starting worker pool", "concurrency", concurrency)
	return p
}

func (p *Pool) Size() int { return cap(p.slots) }

// Do runs fn on a pool slot and waits for it. A panic in fn comes back as a
// *PanicError. If ctx ends first Do returns ctx.Err(); fn keeps its slot until
// it returns, and sees the same cancelled ctx.
func (p *Pool) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("Task panic",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- errFromRecover(r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work and waits for running tasks or ctx, whichever ends first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		p.log.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errFromRecover(v any) error { return &PanicError{Val: v} }

// PanicError carries a value recovered from a task.
type PanicError struct{ Val any }

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
