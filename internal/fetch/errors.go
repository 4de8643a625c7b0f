package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for retry decisions.
type Kind int

const (
	// KindTransient covers timeouts, HTTP 429/5xx and network errors.
	// Callers may retry with backoff.
	KindTransient Kind = iota
	// KindPermanent covers malformed responses and non-rate-limit 4xx.
	// Retrying will not help.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error wraps an upstream failure with its retry classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}
