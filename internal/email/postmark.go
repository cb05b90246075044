package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mrz1836/postmark"

	"SendQueue/internal/models"
)

type PostmarkSender struct {
	client   *postmark.Client
	identity Identity
}

type PostmarkOption func(*postmark.Client)

// WithBaseURL points the client at another API endpoint.
func WithBaseURL(url string) PostmarkOption {
	return func(c *postmark.Client) { c.BaseURL = url }
}

// WithHTTPClient replaces the HTTP client, e.g. to set a transport timeout.
func WithHTTPClient(hc *http.Client) PostmarkOption {
	return func(c *postmark.Client) { c.HTTPClient = hc }
}

func NewPostmarkSender(serverToken string, id Identity, opts ...PostmarkOption) (*PostmarkSender, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if err := id.validate(); err != nil {
		return nil, err
	}

	client := postmark.NewClient(serverToken, "")
	for _, opt := range opts {
		opt(client)
	}

	return &PostmarkSender{client: client, identity: id}, nil
}

// Send posts the job to Postmark's transactional endpoint. Transport errors,
// undecodable responses and non-zero Postmark error codes all come back as
// failed results.
func (p *PostmarkSender) Send(ctx context.Context, job *models.EmailJob) Result {
	return guard(func() Result {
		resp, err := p.client.SendEmail(ctx, postmark.Email{
			From:       p.identity.From(job),
			To:         job.Recipient,
			ReplyTo:    p.identity.ReplyToFor(job),
			Subject:    job.Subject,
			Tag:        job.Tag,
			TextBody:   job.Body.Text,
			HTMLBody:   job.Body.HTML,
			TrackOpens: job.Body.HTML != "",
		})
		if err != nil {
			return Failure(fmt.Errorf("postmark: %w", err))
		}
		if resp.ErrorCode != 0 {
			return Failure(fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
		}
		if resp.MessageID == "" {
			return Failure(errors.New("postmark: response without message id"))
		}
		return Success(resp.MessageID)
	})
}
