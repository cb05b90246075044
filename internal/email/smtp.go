package email

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"SendQueue/internal/models"
)

type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
	Identity Identity

	dial func(d *gomail.Dialer, m ...*gomail.Message) error
}

func NewSMTPSender(host string, port int, user, password string, id Identity) (*SMTPSender, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if err := id.validate(); err != nil {
		return nil, err
	}
	return &SMTPSender{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Identity: id,
		dial:     (*gomail.Dialer).DialAndSend,
	}, nil
}

// Send delivers the job over SMTP. gomail has no context support, so a
// cancelled ctx abandons the wait but not the dial already in flight.
func (s *SMTPSender) Send(ctx context.Context, job *models.EmailJob) Result {
	return guard(func() Result {
		messageID := fmt.Sprintf("<%s@%s>", job.ID, s.Identity.SendingDomain)

		m := gomail.NewMessage()
		m.SetHeader("From", s.Identity.From(job))
		m.SetHeader("To", job.Recipient)
		m.SetHeader("Subject", job.Subject)
		m.SetHeader("Message-ID", messageID)
		if replyTo := s.Identity.ReplyToFor(job); replyTo != "" {
			m.SetHeader("Reply-To", replyTo)
		}

		switch {
		case job.Body.Text != "" && job.Body.HTML != "":
			m.SetBody("text/plain", job.Body.Text)
			m.AddAlternative("text/html", job.Body.HTML)
		case job.Body.HTML != "":
			m.SetBody("text/html", job.Body.HTML)
		default:
			m.SetBody("text/plain", job.Body.Text)
		}

		d := gomail.NewDialer(s.Host, s.Port, s.User, s.Password)

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("smtp panic: %v", r)
				}
			}()
			done <- s.dial(d, m)
		}()

		select {
		case <-ctx.Done():
			return Failure(fmt.Errorf("smtp send: %w", ctx.Err()))
		case err := <-done:
			if err != nil {
				return Failure(fmt.Errorf("smtp send: %w", err))
			}
		}
		return Success(messageID)
	})
}
