package workers

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultQueueSize = 1024

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task runs on a pool worker. ctx is cancelled when the pool stops.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	size   int
	tasks  chan Task
	logger *zap.Logger

	// mu orders Submit against Stop so nothing is queued after the final drain.
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// DefaultSize is half the CPUs, at least one and at most four.
func DefaultSize() int {
	return max(1, min(runtime.NumCPU()/2, 4))
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:   size,
		tasks:  make(chan Task, defaultQueueSize),
		logger: logger,
	}
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p.group = g

	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.size))
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			task(ctx)
		}
	}
}

// Submit queues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running tasks and waits for the workers to exit. Tasks still queued are run with
// a cancelled context so they can release what they hold.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = group.Wait()
	}
	p.drain()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) drain() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case task := <-p.tasks:
			task(ctx)
		default:
			return
		}
	}
}

// Sleep waits for d on clk. It returns the context error if ctx is cancelled first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
