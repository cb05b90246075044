package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SendQueue/internal/models"
)

var (
	// ErrDelivery wraps every failure reported through Result.
	ErrDelivery      = errors.New("email: delivery failed")
	ErrInvalidConfig = errors.New("email: invalid config")
)

// Sender hands one job to a delivery provider. Implementations never panic
// and never return a bare error: every failure lands in Result.Err.
type Sender interface {
	Send(ctx context.Context, job *models.EmailJob) Result
}

type Result struct {
	MessageID string
	Err       error
}

func (r Result) OK() bool { return r.Err == nil }

func Success(messageID string) Result {
	return Result{MessageID: messageID}
}

func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Result{Err: fmt.Errorf("%w: %w", ErrDelivery, err)}
}

// Identity is the sender configuration shared by all providers.
type Identity struct {
	DefaultSender string
	SendingDomain string
	ReplyTo       string
}

func (id Identity) validate() error {
	if strings.TrimSpace(id.DefaultSender) == "" {
		return fmt.Errorf("%w: default sender is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(id.SendingDomain) == "" {
		return fmt.Errorf("%w: sending domain is required", ErrInvalidConfig)
	}
	return nil
}

// From picks the job's sender override, falling back to the default sender.
// A bare local part such as "news" is qualified with the sending domain.
func (id Identity) From(job *models.EmailJob) string {
	if job.SenderOverride != "" {
		return job.SenderOverride
	}
	if strings.Contains(id.DefaultSender, "@") {
		return id.DefaultSender
	}
	return id.DefaultSender + "@" + id.SendingDomain
}

func (id Identity) ReplyToFor(job *models.EmailJob) string {
	if job.ReplyToOverride != "" {
		return job.ReplyToOverride
	}
	return id.ReplyTo
}

// guard turns a panic inside a provider call into a failed Result.
func guard(send func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("provider panic: %v", r))
		}
	}()
	return send()
}

// Unavailable stands in for a provider that could not be configured. Every
// send fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) Send(context.Context, *models.EmailJob) Result {
	return Failure(u.Err)
}
