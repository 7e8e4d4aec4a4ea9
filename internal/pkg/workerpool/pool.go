package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// TaskResult carries the outcome of a task submitted with SubmitWithResult.
type TaskResult struct {
	Data  interface{}
	Error error
}

// Config defines the worker pool configuration
type Config struct {
	Workers int `mapstructure:"workers"` // number of concurrent workers
}

// DefaultConfig returns the default worker pool configuration
func DefaultConfig() *Config {
	return &Config{
		Workers: 4,
	}
}

// Statistics is a snapshot of the pool's task counters.
type Statistics struct {
	Submitted int64
	Completed int64
	Failed    int64
}

type statistics struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func (s *statistics) snapshot() Statistics {
	return Statistics{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

// Pool is a bounded worker pool backed by ants.
type Pool struct {
	pool   *ants.Pool
	config *Config
	stats  *statistics

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// New creates a worker pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count: %d", config.Workers)
	}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		pool:   antsPool,
		config: config,
		stats:  &statistics{},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}, nil
}

// Submit submits a task for asynchronous execution
func (p *Pool) Submit(task func()) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	p.stats.submitted.Add(1)
	return p.pool.Submit(func() {
		task()
		p.stats.completed.Add(1)
	})
}

// SubmitWithResult submits a task and returns a channel that yields its result.
// When the pool is closed the error is delivered on the channel instead of
// silently dropping the task.
func (p *Pool) SubmitWithResult(task func() (interface{}, error)) <-chan TaskResult {
	resultCh := make(chan TaskResult, 1)

	err := p.Submit(func() {
		result, err := task()
		if err != nil {
			p.stats.failed.Add(1)
		}
		resultCh <- TaskResult{Data: result, Error: err}
		close(resultCh)
	})
	if err != nil {
		resultCh <- TaskResult{Error: err}
		close(resultCh)
	}

	return resultCh
}

// Running returns the number of workers currently executing tasks
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free returns the number of idle workers
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Stats returns a snapshot of the pool statistics
func (p *Pool) Stats() Statistics {
	return p.stats.snapshot()
}

// Shutdown stops accepting tasks and releases the pool
func (p *Pool) Shutdown() {
	p.cancel()
	p.pool.Release()
}
