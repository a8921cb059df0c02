package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to the pool.
type Task struct {
	// Name identifies the task in logs and results (e.g. a section ID)
	Name string

	// Run does the work. An error fails only this task.
	Run func(ctx context.Context) error
}

// Result is the outcome of one task.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Pool runs tasks with bounded concurrency.
// Task failures are isolated: one failing task never cancels the others.
type Pool struct {
	logger      *slog.Logger
	concurrency int

	mu      sync.RWMutex
	running int
	done    int
	failed  int
}

// PoolConfig holds configuration for the pool.
type PoolConfig struct {
	Logger      *slog.Logger
	Concurrency int // Number of concurrent tasks
}

// NewPool creates a new worker pool.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Pool{
		logger:      logger,
		concurrency: concurrency,
	}
}

// Concurrency returns the maximum number of tasks run at once.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run executes all tasks and returns their results in submission order.
// Tasks not yet started when ctx is cancelled are reported with ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for i, task := range tasks {
		i, task := i, task
		results[i].Name = task.Name

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				p.finish(false, err)
				return nil
			}

			p.start()
			logger := p.logger.With("task", task.Name)
			logger.Debug("task started")

			startTime := time.Now()
			err := task.Run(ctx)
			results[i].Err = err
			results[i].Duration = time.Since(startTime)
			p.finish(true, err)

			if err != nil {
				logger.Warn("task failed", "duration", results[i].Duration, "error", err)
			} else {
				logger.Debug("task completed", "duration", results[i].Duration)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (p *Pool) start() {
	p.mu.Lock()
	p.running++
	p.mu.Unlock()
}

func (p *Pool) finish(started bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if started {
		p.running--
	}
	p.done++
	if err != nil {
		p.failed++
	}
}

// Stats reports pool activity.
type Stats struct {
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Running: p.running, Done: p.done, Failed: p.failed}
}
