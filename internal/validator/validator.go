// Package validator rejects jobs that can never be delivered, before any
// delivery attempt is made.
package validator

import (
	"net/mail"
	"regexp"
	"strings"

	"SendQueue/internal/models"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Error lists every problem found on a job.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Validate returns nil or an *Error. Failures are structural and never retryable.
func Validate(job *models.EmailJob) error {
	var problems []string

	// The raw value is what the providers receive, so it is matched untrimmed.
	switch {
	case strings.TrimSpace(job.Recipient) == "":
		problems = append(problems, "recipient is required")
	case !emailRegex.MatchString(job.Recipient):
		problems = append(problems, "recipient must be a valid email address")
	}

	if strings.TrimSpace(job.Subject) == "" {
		problems = append(problems, "subject is required")
	}

	if strings.TrimSpace(job.Body.Text) == "" && strings.TrimSpace(job.Body.HTML) == "" {
		problems = append(problems, "body text or html is required")
	}

	if job.SenderOverride != "" && !validAddress(job.SenderOverride) {
		problems = append(problems, "sender override must be a valid address")
	}
	if job.ReplyToOverride != "" && !validAddress(job.ReplyToOverride) {
		problems = append(problems, "reply-to override must be a valid address")
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// validAddress accepts "user@example.com" and "Name <user@example.com>".
func validAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return emailRegex.MatchString(addr.Address)
}
