// Package apperrors classifies failures so callers can decide between
// retrying, surfacing the problem to the user, or dropping the work.
package apperrors

import "errors"

// Kind is the failure class of an error.
type Kind string

const (
	// KindTransient failures may succeed on retry (store or broker unavailable).
	KindTransient Kind = "transient"
	// KindRejected failures are caused by the caller's input and should be shown to the user.
	KindRejected Kind = "rejected"
	// KindPermanent failures will never succeed and are dropped.
	KindPermanent Kind = "permanent"
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error { return wrap(KindTransient, err) }

// Rejected marks err as a caller error.
func Rejected(err error) error { return wrap(KindRejected, err) }

// Permanent marks err as never retryable.
func Permanent(err error) error { return wrap(KindPermanent, err) }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the outermost Kind in err's chain. Unclassified errors are
// treated as transient.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransient
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
