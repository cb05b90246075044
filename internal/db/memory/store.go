// Package memory is an in-process job store with the same claim semantics as
// the Postgres store. Safe for concurrent use; intended for tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SendQueue/internal/db"
	"SendQueue/internal/models"
)

type Store struct {
	mu   sync.Mutex
	jobs map[string]*models.EmailJob
	seq  int64
	// order breaks created_at ties in insertion order.
	order map[string]int64
	now   func() time.Time
}

type Option func(*Store)

// WithNow sets the time source used for enqueue timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		jobs:  make(map[string]*models.EmailJob),
		order: make(map[string]int64),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) Enqueue(_ context.Context, job *models.EmailJob) (string, error) {
	if job.ID == "" {
		return "", errors.New("memory: enqueue: job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return "", fmt.Errorf("memory: enqueue: duplicate id %q", job.ID)
	}

	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = models.StatusPending
	job.Attempts = 0

	s.seq++
	s.order[job.ID] = s.seq
	s.jobs[job.ID] = clone(job)
	return job.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (*models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	return clone(j), nil
}

func (s *Store) FetchEligibleBatch(_ context.Context, now time.Time, limit int) ([]*models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*models.EmailJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Eligible(now) {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if !ca.CreatedAt.Equal(cb.CreatedAt) {
			return ca.CreatedAt.Before(cb.CreatedAt)
		}
		return s.order[ca.ID] < s.order[cb.ID]
	})

	if limit = models.ClampBatch(limit); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*models.EmailJob, len(candidates))
	for i, j := range candidates {
		out[i] = clone(j)
	}
	return out, nil
}

// TryClaim is the compare-and-swap from pending to sending.
func (s *Store) TryClaim(_ context.Context, id string, now time.Time) (*models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !j.Eligible(now) {
		return nil, nil
	}
	j.Status = models.StatusSending
	j.UpdatedAt = now
	return clone(j), nil
}

func (s *Store) MarkSent(_ context.Context, id, messageID string, now time.Time) error {
	return s.finalize(id, "mark sent", func(j *models.EmailJob) {
		j.Status = models.StatusSent
		t := now
		j.SentAt = &t
		j.LastError = nil
		if messageID != "" {
			m := messageID
			j.ProviderMessageID = &m
		}
		j.UpdatedAt = now
	})
}

func (s *Store) MarkRetry(_ context.Context, id string, attempts int, sendAfter time.Time, lastErr string, now time.Time) error {
	return s.finalize(id, "mark retry", func(j *models.EmailJob) {
		j.Status = models.StatusPending
		j.Attempts = max(j.Attempts, attempts)
		t := sendAfter
		j.SendAfter = &t
		msg := models.TruncateError(lastErr)
		j.LastError = &msg
		j.UpdatedAt = now
	})
}

func (s *Store) MarkFailed(_ context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return s.finalize(id, "mark failed", func(j *models.EmailJob) {
		j.Status = models.StatusFailed
		j.Attempts = max(j.Attempts, attempts)
		msg := models.TruncateError(lastErr)
		j.LastError = &msg
		j.UpdatedAt = now
	})
}

func (s *Store) ReapStale(_ context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.Status != models.StatusSending || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		j.Status = models.StatusPending
		msg := db.ClaimExpiredError
		j.LastError = &msg
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) finalize(id, op string, apply func(j *models.EmailJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != models.StatusSending {
		return fmt.Errorf("memory: %s: %w", op, db.ErrNotClaimed)
	}
	apply(j)
	return nil
}

func clone(j *models.EmailJob) *models.EmailJob {
	cp := *j
	cp.SendAfter = clonePtr(j.SendAfter)
	cp.LastError = clonePtr(j.LastError)
	cp.ProviderMessageID = clonePtr(j.ProviderMessageID)
	cp.SentAt = clonePtr(j.SentAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
