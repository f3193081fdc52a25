package billing

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind decides how a failure is reported back to the provider.
type ErrorKind int

const (
	// KindTransient failures roll back and ask the provider to redeliver.
	KindTransient ErrorKind = iota
	// KindAuthentication rejects the request before anything is recorded.
	KindAuthentication
	// KindConfiguration is an operator error; redelivery will not help.
	KindConfiguration
	// KindBusiness is a permanent problem with the event content.
	KindBusiness
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindConfiguration:
		return "configuration"
	case KindBusiness:
		return "business"
	default:
		return "transient"
	}
}

var (
	ErrMissingSignature    = errors.New("missing signature header")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	ErrMalformedPayload    = errors.New("malformed event payload")
	ErrMalformedMetadata   = errors.New("malformed checkout metadata")
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// errDuplicateEvent aborts the handler transaction when the ledger insert
	// loses against an earlier delivery of the same event.
	errDuplicateEvent = errors.New("event already processed")

	// errSkipped rolls back whatever a handler wrote before deciding to skip.
	errSkipped = errors.New("event skipped")
)

// ProcessingError carries the classification of a failed webhook.
type ProcessingError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProcessingError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Retryable reports whether redelivering the same event can succeed.
func (e *ProcessingError) Retryable() bool {
	return e.Kind == KindTransient
}

func newError(kind ErrorKind, op string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Op: op, Err: err}
}

func authError(err error) error {
	return newError(KindAuthentication, "verify signature", err)
}

func configError(err error) error {
	return newError(KindConfiguration, "configuration", err)
}

func businessError(op string, err error) error {
	return newError(KindBusiness, op, err)
}

func transientError(op string, err error) error {
	return newError(KindTransient, op, err)
}

// KindOf classifies any error returned by the processor. Unknown errors are
// treated as transient so the provider keeps the event.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryable is shorthand for KindOf(err) == KindTransient.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// classify wraps a raw error from the handler transaction.
func classify(op string, err error) error {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transientError(op, fmt.Errorf("handler timed out: %w", err))
	}
	return transientError(op, err)
}
