package worker

import (
	"errors"
	"fmt"
)

// Kind classifies why something went wrong during a pass.
type Kind int

const (
	// KindInternal covers store failures and recovered panics.
	KindInternal Kind = iota
	// KindConfig aborts a whole invocation before any job is touched.
	KindConfig
	// KindValidation is a permanent defect in the job itself.
	KindValidation
	// KindDelivery is a provider or network failure; retried until exhausted.
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindValidation:
		return "validation"
	case KindDelivery:
		return "delivery"
	default:
		return "internal"
	}
}

type Error struct {
	Kind  Kind
	JobID string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsConfig reports whether err aborted an invocation for missing configuration.
func IsConfig(err error) bool {
	return err != nil && KindOf(err) == KindConfig
}
