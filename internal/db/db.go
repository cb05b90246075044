package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"SendQueue/internal/models"
)

var (
	ErrJobNotFound = errors.New("db: job not found")
	// ErrNotClaimed means a finalizing write found the job outside the sending state.
	ErrNotClaimed = errors.New("db: job is not claimed")
)

const jobColumns = `id, recipient, subject, body_text, body_html,
	sender_override, reply_to_override, tag,
	status, attempts, send_after, last_error, provider_message_id,
	created_at, updated_at, sent_at`

type Store struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// ConnectTimeout bounds how long New keeps retrying the first ping.
var ConnectTimeout = 30 * time.Second

func New(ctx context.Context, conn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = ConnectTimeout

	ping := func() error {
		if err := pool.Ping(ctx); err != nil {
			log.Warn("database not ready", zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return &Store{Pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("db: ping: %w", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, job *models.EmailJob) (string, error) {
	if job.ID == "" {
		return "", errors.New("db: enqueue: job id is required")
	}

	err := s.Pool.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (id, recipient, subject, body_text, body_html,
		  sender_override, reply_to_override, tag,
		  status, attempts, send_after, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,
		         COALESCE($11, NOW()), COALESCE($11, NOW()))
		 RETURNING created_at, updated_at`,
		job.ID,
		job.Recipient,
		job.Subject,
		job.Body.Text,
		job.Body.HTML,
		job.SenderOverride,
		job.ReplyToOverride,
		job.Tag,
		models.StatusPending,
		job.SendAfter,
		nullTime(job.CreatedAt),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("db: enqueue: %w", err)
	}

	job.Status = models.StatusPending
	job.Attempts = 0
	return job.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.EmailJob, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("db: get: %w", err)
	}
	return job, nil
}

func (s *Store) FetchEligibleBatch(ctx context.Context, now time.Time, limit int) ([]*models.EmailJob, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM email_jobs
		 WHERE status = $1
		   AND (send_after IS NULL OR send_after <= $2)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3`,
		models.StatusPending,
		now,
		models.ClampBatch(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("db: fetch eligible: %w", err)
	}
	defer rows.Close()

	var jobs []*models.EmailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: fetch eligible: %w", err)
	}
	return jobs, nil
}

// TryClaim moves a job from pending to sending in one conditional update.
// A nil job with a nil error means another pass got there first, or the job
// was rescheduled into the future after it was fetched.
func (s *Store) TryClaim(ctx context.Context, id string, now time.Time) (*models.EmailJob, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE email_jobs
		 SET status = $2,
		     updated_at = $4
		 WHERE id = $1
		   AND status = $3
		   AND (send_after IS NULL OR send_after <= $4)
		 RETURNING `+jobColumns,
		id,
		models.StatusSending,
		models.StatusPending,
		now,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: claim: %w", err)
	}
	return job, nil
}

func (s *Store) MarkSent(ctx context.Context, id, messageID string, now time.Time) error {
	return s.finalize(ctx, "mark sent",
		`UPDATE email_jobs
		 SET status = 'sent',
		     sent_at = $2,
		     updated_at = $2,
		     last_error = NULL,
		     provider_message_id = NULLIF($3, '')
		 WHERE id = $1 AND status = 'sending'`,
		id, now, messageID,
	)
}

func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, sendAfter time.Time, lastErr string, now time.Time) error {
	return s.finalize(ctx, "mark retry",
		`UPDATE email_jobs
		 SET status = 'pending',
		     attempts = GREATEST(attempts, $2),
		     send_after = $3,
		     last_error = $4,
		     updated_at = $5
		 WHERE id = $1 AND status = 'sending'`,
		id, attempts, sendAfter, models.TruncateError(lastErr), now,
	)
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return s.finalize(ctx, "mark failed",
		`UPDATE email_jobs
		 SET status = 'failed',
		     attempts = GREATEST(attempts, $2),
		     last_error = $3,
		     updated_at = $4
		 WHERE id = $1 AND status = 'sending'`,
		id, attempts, models.TruncateError(lastErr), now,
	)
}

// ReapStale returns jobs stuck in sending since before olderThan to pending.
// Attempts are left alone; the delivery may or may not have happened.
func (s *Store) ReapStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status = 'pending',
		     last_error = $3,
		     updated_at = $2
		 WHERE status = 'sending' AND updated_at < $1`,
		olderThan, now, ClaimExpiredError,
	)
	if err != nil {
		return 0, fmt.Errorf("db: reap stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimExpiredError is written to last_error by ReapStale.
const ClaimExpiredError = "claim expired"

func (s *Store) finalize(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: %s: %w", op, ErrNotClaimed)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.EmailJob, error) {
	var (
		job    models.EmailJob
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.Recipient,
		&job.Subject,
		&job.Body.Text,
		&job.Body.HTML,
		&job.SenderOverride,
		&job.ReplyToOverride,
		&job.Tag,
		&status,
		&job.Attempts,
		&job.SendAfter,
		&job.LastError,
		&job.ProviderMessageID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.SentAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.EmailStatus(status)
	return &job, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
