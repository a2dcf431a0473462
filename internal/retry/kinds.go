// Package retry implements the failure classification and backoff policy for
// queue items. It is pure: it never touches the database, it only decides.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed set of failure classifications.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindRateLimit    Kind = "rate_limit"
	KindParseError   Kind = "parse_error"
	KindValidation   Kind = "validation"
	KindProviderAuth Kind = "provider_auth"
	KindEncoding     Kind = "encoding_error"
	KindUnknown      Kind = "unknown"
)

// Transient reports whether the failure is worth retrying automatically.
// Unknown failures are treated as transient so a flaky dependency does not
// permanently fail items.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindUnknown:
		return true
	}
	return false
}

// Permanent reports whether retrying can never succeed without intervention.
func (k Kind) Permanent() bool {
	switch k {
	case KindParseError, KindValidation, KindProviderAuth:
		return true
	}
	return false
}

// Error carries a classified failure with a free-form details payload.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error wrapping err.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: errMessage(err), Err: err}
}

// WithDetails attaches a structured details payload.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Classify maps an arbitrary error to a Kind. Classified *Error values keep
// their kind; context deadline expiry maps to timeout; anything else is
// unknown (transient).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
