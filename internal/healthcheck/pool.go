package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/y0f/probeboard/internal/storage"
)

// Job represents a check to be executed.
type Job struct {
	Service *storage.Service
}

// WorkerResult holds the outcome of a check job.
type WorkerResult struct {
	Service *storage.Service
	Record  *storage.CheckRecord
}

// Pool runs batches of checks on a fixed number of worker goroutines.
type Pool struct {
	workers int
	runner  Runner
	logger  *slog.Logger
}

func NewPool(workers int, runner Runner, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		runner:  runner,
		logger:  logger,
	}
}

// Run checks every service and streams one result per service. The returned
// channel is closed after the last result. If ctx is cancelled, services not
// yet started still get a result carrying the context error.
func (p *Pool) Run(ctx context.Context, services []*storage.Service) <-chan WorkerResult {
	jobs := make(chan Job)
	results := make(chan WorkerResult, len(services))

	workers := p.workers
	if workers > len(services) {
		workers = len(services)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id, jobs, results)
		}(i)
	}

	go func() {
		for _, svc := range services {
			jobs <- Job{Service: svc}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	return results
}

func (p *Pool) worker(ctx context.Context, id int, jobs <-chan Job, results chan<- WorkerResult) {
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- WorkerResult{
				Service: job.Service,
				Record:  &storage.CheckRecord{Timestamp: time.Now(), Error: err.Error()},
			}
			continue
		}
		p.logger.Debug("worker picked up check", "worker", id, "service", job.Service.ID)
		results <- WorkerResult{
			Service: job.Service,
			Record:  p.runner.Run(ctx, job.Service),
		}
	}
}
