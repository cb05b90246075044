package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNewEmailJob(t *testing.T) {
	a := NewEmailJob("a@x.com", "S", Body{Text: "T"})
	b := NewEmailJob("a@x.com", "S", Body{Text: "T"})

	assert.Equal(t, StatusPending, a.Status)
	assert.Zero(t, a.Attempts)
	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	tests := []struct {
		name      string
		status    EmailStatus
		sendAfter *time.Time
		want      bool
	}{
		{"pending without delay", StatusPending, nil, true},
		{"pending due", StatusPending, &past, true},
		{"pending due exactly now", StatusPending, &now, true},
		{"pending in future", StatusPending, &future, false},
		{"sending", StatusSending, nil, false},
		{"sent", StatusSent, nil, false},
		{"failed", StatusFailed, &past, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &EmailJob{Status: tt.status, SendAfter: tt.sendAfter}
			assert.Equal(t, tt.want, j.Eligible(now))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSending.Terminal())
	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short"))

	long := strings.Repeat("ü", MaxErrorLength+50)
	got := TruncateError(long)
	assert.Len(t, []rune(got), MaxErrorLength)
	assert.True(t, strings.HasPrefix(long, got))
}

func TestTruncateErrorRepairsInvalidUTF8(t *testing.T) {
	got := TruncateError("550 mailbox unavailable: \xff\xfe")
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "550 mailbox unavailable: "))

	long := strings.Repeat("\xff", MaxErrorLength*2)
	got = TruncateError(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxErrorLength)
}

func TestClampBatch(t *testing.T) {
	assert.Equal(t, 1, ClampBatch(-5))
	assert.Equal(t, 1, ClampBatch(0))
	assert.Equal(t, 10, ClampBatch(10))
	assert.Equal(t, MaxBatchSize, ClampBatch(MaxBatchSize))
	assert.Equal(t, MaxBatchSize, ClampBatch(1000))
}
