package email

import (
	"context"

	"go.uber.org/zap"

	"SendQueue/internal/models"
)

// LogSender accepts every job and only logs it. Used for local runs.
type LogSender struct {
	Identity Identity
	Log      *zap.Logger
}

func (s *LogSender) Send(_ context.Context, job *models.EmailJob) Result {
	s.Log.Info("email accepted by log sender",
		zap.String("job_id", job.ID),
		zap.String("from", s.Identity.From(job)),
		zap.String("to", job.Recipient),
		zap.String("subject", job.Subject),
	)
	return Success("log-" + job.ID)
}
