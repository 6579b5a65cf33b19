package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/walq/internal/client"
	"github.com/dontdude/walq/internal/domain"
)

// Default timings for the worker loop.
const (
	DefaultPollInterval = 300 * time.Millisecond
	requestTimeout      = 10 * time.Second
	maxReconnectDelay   = 5 * time.Second
)

// Pool implements a fixed-size worker pool pattern.
// Each worker owns one broker connection, because the broker leases one job per connection.
type Pool struct {
	// workerCount determines how many jobs can be processed concurrently.
	workerCount int
	addr        string
	runner      domain.Runner
	// pollInterval is how long a worker sleeps after an EMPTY reply.
	pollInterval time.Duration
	// wg tracks active workers to ensure graceful shutdown.
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool initializes a pool of concurrency workers pulling from the broker at addr.
func NewPool(concurrency int, addr string, runner domain.Runner, pollInterval time.Duration, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workerCount:  concurrency,
		addr:         addr,
		runner:       runner,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run spawns the workers and blocks until ctx is cancelled and every worker has
// handed back or finished its current job.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Starting worker pool", "concurrency", p.workerCount, "broker", p.addr)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// worker connects to the broker and processes jobs until ctx is done, reconnecting
// with backoff when the connection drops.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("workerId", id)
	logger.Info("Worker started")

	delay := p.pollInterval
	for ctx.Err() == nil {
		c, err := client.Dial(ctx, p.addr)
		if err != nil {
			logger.Warn("Broker unavailable", "error", err, "retryIn", delay)
			if !sleep(ctx, delay) {
				break
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = p.pollInterval

		if err := p.session(ctx, c, logger); err != nil {
			logger.Warn("Broker connection lost", "error", err)
			c.Close()
			continue
		}
		c.Quit()
	}

	logger.Info("Worker stopped")
}

// session runs the REQUEST/ACK loop on one connection. It returns nil when ctx is done.
func (p *Pool) session(ctx context.Context, c *client.Client, logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		job, ok, err := c.Request(reqCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			if !sleep(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		logger.Debug("Processing job", "jobID", job.ID)
		output, runErr := p.runner.Run(ctx, job)
		if runErr != nil {
			logger.Warn("Job failed", "jobID", job.ID, "error", runErr)
			if err := c.Fail(job.ID); err != nil {
				return err
			}
			continue
		}
		logger.Info("Job done", "jobID", job.ID, "output", output)
		if err := c.Ack(job.ID); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
