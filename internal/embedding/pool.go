package embedding

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed Pool.
var ErrPoolClosed = errors.New("embedding pool closed")

// Lane selects the queue a job waits in. Workers always drain the query
// lane before taking batch work.
type Lane int

const (
	LaneQuery Lane = iota
	LaneBatch
)

// DefaultQueueSize bounds each lane's backlog.
const DefaultQueueSize = 64

// Pool runs model calls on a fixed set of worker goroutines.
type Pool struct {
	query chan func()
	batch chan func()

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. Non-positive values start one worker.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		query:  make(chan func(), queueSize),
		batch:  make(chan func(), queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.query:
			job()
			continue
		default:
		}

		select {
		case job := <-p.query:
			job()
		case job := <-p.batch:
			job()
		case <-p.ctx.Done():
			return
		}
	}
}

// Close stops the workers. Jobs still queued run with a cancelled context so
// their futures resolve instead of hanging.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	for {
		select {
		case job := <-p.query:
			job()
		case job := <-p.batch:
			job()
		default:
			return
		}
	}
}

func (p *Pool) enqueue(ctx context.Context, lane Lane, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	ch := p.batch
	if lane == LaneQuery {
		ch = p.query
	}

	select {
	case ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Future is the pending result of a job submitted to a Pool.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the job finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on the given lane. fn receives a context that is cancelled
// when either ctx is done or the pool closes.
func Submit[T any](ctx context.Context, p *Pool, lane Lane, fn func(context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}

	job := func() {
		defer close(f.done)

		jobCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(p.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()

		if err := jobCtx.Err(); err != nil {
			f.err = err
			return
		}
		f.val, f.err = fn(jobCtx)
	}

	if err := p.enqueue(ctx, lane, job); err != nil {
		return nil, err
	}
	return f, nil
}
