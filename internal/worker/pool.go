package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"SendQueue/internal/models"
)

// dispatch feeds the batch, in order, to the configured number of workers.
// Cancellation is only observed between jobs: a job that has been claimed is
// always finalized.
func (p *Processor) dispatch(ctx context.Context, batch []*models.EmailJob) Summary {
	var (
		sum  Summary
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan *models.EmailJob)
	)

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			for job := range jobs {
				out := p.safeHandle(ctx, id, job)

				mu.Lock()
				sum.add(out)
				mu.Unlock()
			}
		}(i)
	}

feed:
	for _, job := range batch {
		// ----------------------------
		// Rate Limit
		// ----------------------------
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.log.Warn("rate limiter stopped by context", zap.Error(err))
				break feed
			}
		} else if ctx.Err() != nil {
			break feed
		}

		jobs <- job
	}
	close(jobs)

	wg.Wait()
	return sum
}

func (p *Processor) safeHandle(ctx context.Context, workerID int, job *models.EmailJob) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker recovered from panic",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
			)
			out = outcomeFailed
		}
	}()
	return p.handle(ctx, job)
}
