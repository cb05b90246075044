package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SendQueue/internal/email"
	"SendQueue/internal/metrics"
	"SendQueue/internal/models"
	"SendQueue/internal/retry"
	"SendQueue/internal/validator"
)

// Store is the slice of the job store a worker pass needs.
type Store interface {
	FetchEligibleBatch(ctx context.Context, now time.Time, limit int) ([]*models.EmailJob, error)
	TryClaim(ctx context.Context, id string, now time.Time) (*models.EmailJob, error)
	MarkSent(ctx context.Context, id, messageID string, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, sendAfter time.Time, lastErr string, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error
	ReapStale(ctx context.Context, olderThan, now time.Time) (int64, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Check is a preflight probe run at the start of every invocation.
type Check func(ctx context.Context) error

const (
	DefaultLimit           = 10
	DefaultClaimTimeout    = 10 * time.Minute
	DefaultDeliveryTimeout = 15 * time.Second
)

// Deps is everything a Processor needs. It is built once and reused across
// invocations; the processor itself keeps no state between runs.
type Deps struct {
	Store   Store
	Sender  email.Sender
	Policy  retry.Policy
	Clock   Clock
	Log     *zap.Logger
	Metrics *metrics.Collector

	// Limiter caps provider throughput across the whole pass. Optional.
	Limiter *rate.Limiter
	Checks  []Check

	// ClaimTimeout is how long a job may sit in sending before it is
	// returned to pending. Zero disables the reaper.
	ClaimTimeout    time.Duration
	DeliveryTimeout time.Duration

	// Concurrency fans a batch out over this many goroutines. Claims are
	// per-row atomic, so any value is safe; 1 keeps creation order.
	Concurrency int
}

type Processor struct {
	store           Store
	sender          email.Sender
	policy          retry.Policy
	clock           Clock
	log             *zap.Logger
	metrics         *metrics.Collector
	limiter         *rate.Limiter
	checks          []Check
	claimTimeout    time.Duration
	deliveryTimeout time.Duration
	concurrency     int
}

func New(d Deps) (*Processor, error) {
	if d.Store == nil {
		return nil, errors.New("worker: store is required")
	}
	if d.Sender == nil {
		return nil, errors.New("worker: sender is required")
	}
	if err := d.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	p := &Processor{
		store:           d.Store,
		sender:          d.Sender,
		policy:          d.Policy,
		clock:           d.Clock,
		log:             d.Log,
		metrics:         d.Metrics,
		limiter:         d.Limiter,
		checks:          d.Checks,
		claimTimeout:    d.ClaimTimeout,
		deliveryTimeout: d.DeliveryTimeout,
		concurrency:     d.Concurrency,
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = metrics.New(nil)
	}
	if p.deliveryTimeout <= 0 {
		p.deliveryTimeout = DefaultDeliveryTimeout
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p, nil
}

type Summary struct {
	Processed int
	Sent      int
	Retried   int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
)

func (s *Summary) add(o outcome) {
	switch o {
	case outcomeSkipped:
		s.Skipped++
		return
	case outcomeSent:
		s.Sent++
	case outcomeRetried:
		s.Retried++
	case outcomeFailed:
		s.Failed++
	}
	s.Processed++
}

// Run performs one pass over at most limit eligible jobs. Only a KindConfig
// or a failed batch fetch is returned as an error; per-job problems are
// recorded on the job rows and reflected in the Summary.
func (p *Processor) Run(ctx context.Context, limit int) (Summary, error) {
	start := time.Now()
	var sum Summary

	if err := p.preflight(ctx); err != nil {
		p.log.Error("worker aborted", zap.Error(err))
		return sum, err
	}

	now := p.clock.Now()
	p.reap(ctx, now)

	batch, err := p.store.FetchEligibleBatch(ctx, now, models.ClampBatch(limit))
	if err != nil {
		return sum, &Error{Kind: KindInternal, Err: err}
	}
	if len(batch) == 0 {
		sum.Duration = time.Since(start)
		return sum, nil
	}

	sum = p.dispatch(ctx, batch)
	sum.Duration = time.Since(start)

	p.log.Info("worker pass complete",
		zap.Int("fetched", len(batch)),
		zap.Int("processed", sum.Processed),
		zap.Int("sent", sum.Sent),
		zap.Int("retried", sum.Retried),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (p *Processor) preflight(ctx context.Context) error {
	var errs []error
	for _, check := range p.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &Error{Kind: KindConfig, Err: errors.Join(errs...)}
}

func (p *Processor) reap(ctx context.Context, now time.Time) {
	if p.claimTimeout <= 0 {
		return
	}
	n, err := p.store.ReapStale(ctx, now.Add(-p.claimTimeout), now)
	if err != nil {
		p.log.Warn("failed to reap stale claims", zap.Error(err))
		return
	}
	if n > 0 {
		p.metrics.Reaped(n)
		p.log.Warn("returned stale claims to pending", zap.Int64("count", n))
	}
}

// handle runs one job through claim, validate, deliver and finalize.
func (p *Processor) handle(ctx context.Context, job *models.EmailJob) (out outcome) {
	log := p.log.With(zap.String("job_id", job.ID))

	claimed, err := p.store.TryClaim(ctx, job.ID, p.clock.Now())
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return outcomeSkipped
	}
	if claimed == nil {
		p.metrics.ClaimLost()
		log.Debug("job claimed elsewhere")
		return outcomeSkipped
	}

	// Once claimed, the job is always finalized even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			jerr := &Error{Kind: KindInternal, JobID: claimed.ID, Err: fmt.Errorf("panic: %v", r)}
			log.Error("job processing panicked", zap.Error(jerr))
			p.markFailed(ctx, log, claimed, claimed.Attempts, jerr, metrics.ReasonInternal)
			out = outcomeFailed
		}
	}()

	if err := validator.Validate(claimed); err != nil {
		jerr := &Error{Kind: KindValidation, JobID: claimed.ID, Err: err}
		p.markFailed(ctx, log, claimed, claimed.Attempts, jerr, metrics.ReasonValidation)
		return outcomeFailed
	}

	res := p.deliver(ctx, claimed)
	now := p.clock.Now()

	if res.OK() {
		if err := p.store.MarkSent(ctx, claimed.ID, res.MessageID, now); err != nil {
			// Delivered but not recorded; the reaper will hand it out again.
			log.Error("failed to record sent email", zap.Error(err))
			return outcomeFailed
		}
		p.metrics.Sent()
		log.Info("email sent successfully",
			zap.String("to", claimed.Recipient),
			zap.String("message_id", res.MessageID),
		)
		return outcomeSent
	}

	attempts := claimed.Attempts + 1
	jerr := &Error{Kind: KindDelivery, JobID: claimed.ID, Err: res.Err}

	if p.policy.Exhausted(attempts) {
		p.markFailed(ctx, log, claimed, attempts, jerr, metrics.ReasonExhausted)
		return outcomeFailed
	}

	delay := p.policy.NextDelay(attempts)
	if err := p.store.MarkRetry(ctx, claimed.ID, attempts, now.Add(delay), jerr.Error(), now); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
		return outcomeFailed
	}
	p.metrics.Retried()
	log.Warn("email send failed, retry scheduled",
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(jerr),
	)
	return outcomeRetried
}

func (p *Processor) deliver(ctx context.Context, job *models.EmailJob) email.Result {
	ctx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()

	start := time.Now()
	res := p.sender.Send(ctx, job)
	p.metrics.Delivery(time.Since(start))
	return res
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, job *models.EmailJob, attempts int, jerr *Error, reason string) {
	if err := p.store.MarkFailed(ctx, job.ID, attempts, jerr.Error(), p.clock.Now()); err != nil {
		log.Error("failed to update failure status", zap.Error(err))
		return
	}
	p.metrics.Failed(reason)
	log.Warn("email failed permanently",
		zap.String("kind", jerr.Kind.String()),
		zap.Int("attempts", attempts),
		zap.Error(jerr.Err),
	)
}
