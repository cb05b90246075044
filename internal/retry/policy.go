// Package retry decides when a failed delivery is tried again.
package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// DefaultSchedule is the delay before retry n (1-indexed); the last entry repeats.
var DefaultSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	360 * time.Minute,
}

const DefaultMaxAttempts = 5

var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy maps an attempt count to the next retry delay.
// With Jitter == 0 it is fully deterministic.
type Policy struct {
	Schedule    []time.Duration
	MaxAttempts int

	// Jitter scales each delay by a uniform factor in [1-Jitter, 1+Jitter].
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		Schedule:    append([]time.Duration(nil), DefaultSchedule...),
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (p Policy) Validate() error {
	if len(p.Schedule) == 0 {
		return fmt.Errorf("%w: empty schedule", ErrInvalidPolicy)
	}
	for i, d := range p.Schedule {
		if d <= 0 {
			return fmt.Errorf("%w: schedule[%d] must be positive, got %s", ErrInvalidPolicy, i, d)
		}
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1), got %v", ErrInvalidPolicy, p.Jitter)
	}
	return nil
}

// NextDelay returns the wait before the next try, given the attempt count
// after the failure that was just recorded.
func (p Policy) NextDelay(attempts int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	d := p.Schedule[idx]
	if p.Jitter > 0 {
		factor := 1 - p.Jitter + 2*p.Jitter*rand.Float64() //nolint:gosec // jitter does not need crypto rand
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Exhausted reports whether attempts has used up the retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
