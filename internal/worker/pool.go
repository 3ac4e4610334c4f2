package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool closed")

const DefaultTaskTimeout = 10 * time.Second

// Pool runs background tasks with bounded concurrency. Tasks receive a
// context that is cancelled after the task timeout or when the pool stops.
type Pool struct {
	tasks   chan func(ctx context.Context)
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
}

func New(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	queueSize := size * 8
	if queueSize < 8 {
		queueSize = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan func(ctx context.Context), queueSize),
		ctx:     ctx,
		cancel:  cancel,
		timeout: DefaultTaskTimeout,
		logger:  logger.Named("worker"),
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				p.run(task)
			}
		}()
	}

	return p
}

func (p *Pool) run(task func(ctx context.Context)) {
	if task == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	task(ctx)
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(task func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// SubmitWait enqueues a task and waits for its result.
func (p *Pool) SubmitWait(ctx context.Context, task func(ctx context.Context) error) error {
	if task == nil {
		return nil
	}

	result := make(chan error, 1)
	err := p.Submit(func(taskCtx context.Context) {
		result <- task(taskCtx)
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Shutdown stops accepting tasks and waits for queued ones until ctx is
// done, at which point running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	case <-done:
		p.cancel()
		return nil
	}
}

// StopNow cancels running tasks without waiting for them.
func (p *Pool) StopNow() {
	p.cancel()
	p.close()
}

func (p *Pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
}
