//go:build integration

package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"SendQueue/internal/models"
)

type StoreIntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	store     *Store
	now       time.Time
}

func (s *StoreIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("sendqueue_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	conn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.store, err = New(s.ctx, conn, zaptest.NewLogger(s.T()))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *StoreIntegrationTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *StoreIntegrationTestSuite) SetupTest() {
	_, err := s.store.Pool.Exec(s.ctx, "TRUNCATE TABLE email_jobs")
	s.Require().NoError(err)
	// Postgres keeps microseconds.
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *StoreIntegrationTestSuite) enqueue(offset time.Duration) string {
	job := models.NewEmailJob("a@x.com", "S", models.Body{Text: "T"})
	job.CreatedAt = s.now.Add(offset)
	id, err := s.store.Enqueue(s.ctx, job)
	s.Require().NoError(err)
	return id
}

func (s *StoreIntegrationTestSuite) TestMigrateIsIdempotent() {
	s.NoError(s.store.Migrate(s.ctx))
}

func (s *StoreIntegrationTestSuite) TestEnqueueAndGet() {
	id := s.enqueue(0)

	job, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, job.Status)
	s.Zero(job.Attempts)
	s.Equal("T", job.Body.Text)
	s.Nil(job.SendAfter)
	s.True(job.CreatedAt.Equal(s.now))

	_, err = s.store.Get(s.ctx, "missing")
	s.ErrorIs(err, ErrJobNotFound)
}

func (s *StoreIntegrationTestSuite) TestFetchEligibleBatch() {
	first := s.enqueue(-3 * time.Minute)
	second := s.enqueue(-2 * time.Minute)

	future := models.NewEmailJob("b@x.com", "S", models.Body{Text: "T"})
	later := s.now.Add(time.Hour)
	future.SendAfter = &later
	_, err := s.store.Enqueue(s.ctx, future)
	s.Require().NoError(err)

	batch, err := s.store.FetchEligibleBatch(s.ctx, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(batch, 2)
	s.Equal(first, batch[0].ID)
	s.Equal(second, batch[1].ID)

	batch, err = s.store.FetchEligibleBatch(s.ctx, s.now, 1)
	s.Require().NoError(err)
	s.Len(batch, 1)

	for i := 0; i < 30; i++ {
		s.enqueue(time.Duration(i) * time.Millisecond)
	}
	batch, err = s.store.FetchEligibleBatch(s.ctx, s.now, 1000)
	s.Require().NoError(err)
	s.Len(batch, models.MaxBatchSize)
}

func (s *StoreIntegrationTestSuite) TestClaimIsExclusive() {
	id := s.enqueue(0)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.store.TryClaim(s.ctx, id, s.now)
			s.NoError(err)
			if job != nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, won)

	job, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusSending, job.Status)
}

func (s *StoreIntegrationTestSuite) TestClaimRespectsSendAfter() {
	id := s.enqueue(0)
	job, err := s.store.TryClaim(s.ctx, id, s.now)
	s.Require().NoError(err)
	s.Require().NotNil(job)

	s.Require().NoError(s.store.MarkRetry(s.ctx, id, 1, s.now.Add(time.Minute), "timeout", s.now))

	job, err = s.store.TryClaim(s.ctx, id, s.now)
	s.NoError(err)
	s.Nil(job)

	job, err = s.store.TryClaim(s.ctx, id, s.now.Add(time.Minute))
	s.NoError(err)
	s.NotNil(job)
}

func (s *StoreIntegrationTestSuite) TestFinalizeGuards() {
	id := s.enqueue(0)

	s.ErrorIs(s.store.MarkSent(s.ctx, id, "m", s.now), ErrNotClaimed)

	_, err := s.store.TryClaim(s.ctx, id, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSent(s.ctx, id, "msg-1", s.now))

	s.ErrorIs(s.store.MarkFailed(s.ctx, id, 1, "late", s.now), ErrNotClaimed)
	s.ErrorIs(s.store.MarkRetry(s.ctx, id, 1, s.now, "late", s.now), ErrNotClaimed)

	job, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, job.Status)
	s.Require().NotNil(job.SentAt)
	s.Require().NotNil(job.ProviderMessageID)
	s.Equal("msg-1", *job.ProviderMessageID)
	s.Nil(job.LastError)
}

func (s *StoreIntegrationTestSuite) TestAttemptsNeverDecrease() {
	id := s.enqueue(0)

	_, err := s.store.TryClaim(s.ctx, id, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkRetry(s.ctx, id, 3, s.now, "x", s.now))

	_, err = s.store.TryClaim(s.ctx, id, s.now)
	s.Require().NoError(err)
	long := make([]rune, 1000)
	for i := range long {
		long[i] = 'é'
	}
	s.Require().NoError(s.store.MarkFailed(s.ctx, id, 1, string(long), s.now))

	job, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(3, job.Attempts)
	s.Require().NotNil(job.LastError)
	s.Len([]rune(*job.LastError), models.MaxErrorLength)
}

func (s *StoreIntegrationTestSuite) TestReapStale() {
	stale := s.enqueue(0)
	fresh := s.enqueue(time.Millisecond)

	_, err := s.store.TryClaim(s.ctx, stale, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	_, err = s.store.TryClaim(s.ctx, fresh, s.now)
	s.Require().NoError(err)

	n, err := s.store.ReapStale(s.ctx, s.now.Add(-10*time.Minute), s.now)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	job, err := s.store.Get(s.ctx, stale)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, job.Status)
	s.Require().NotNil(job.LastError)
	s.Equal(ClaimExpiredError, *job.LastError)

	job, err = s.store.Get(s.ctx, fresh)
	s.Require().NoError(err)
	s.Equal(models.StatusSending, job.Status)
}

func TestStoreIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(StoreIntegrationTestSuite))
}
