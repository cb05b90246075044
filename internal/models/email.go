package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EmailStatus string

const (
	StatusPending EmailStatus = "pending"
	StatusSending EmailStatus = "sending"
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s EmailStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// MaxBatchSize caps how many jobs a single pass may fetch, whatever the caller asks for.
const MaxBatchSize = 25

// MaxErrorLength bounds last_error so a chatty provider cannot bloat the table.
const MaxErrorLength = 400

type Body struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

type EmailJob struct {
	ID              string `json:"id"`
	Recipient       string `json:"recipient"`
	Subject         string `json:"subject"`
	Body            Body   `json:"body"`
	SenderOverride  string `json:"sender_override,omitempty"`
	ReplyToOverride string `json:"reply_to_override,omitempty"`
	Tag             string `json:"tag,omitempty"`

	Status            EmailStatus `json:"status"`
	Attempts          int         `json:"attempts"`
	SendAfter         *time.Time  `json:"send_after,omitempty"`
	LastError         *string     `json:"last_error,omitempty"`
	ProviderMessageID *string     `json:"provider_message_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// NewEmailJob returns a pending job with a fresh ID.
func NewEmailJob(recipient, subject string, body Body) *EmailJob {
	return &EmailJob{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    StatusPending,
	}
}

// Eligible reports whether the job may be picked up at now.
func (j *EmailJob) Eligible(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	return j.SendAfter == nil || !j.SendAfter.After(now)
}

// TruncateError cuts msg down to MaxErrorLength runes. Invalid UTF-8 from a
// provider reply is replaced so the text can always be stored.
func TruncateError(msg string) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}

// ClampBatch keeps limit inside [1, MaxBatchSize].
func ClampBatch(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxBatchSize {
		return MaxBatchSize
	}
	return limit
}
