// Package failure classifies acquisition errors so callers can decide between
// retrying and giving up without inspecting error text.
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the category of an acquisition failure.
type Kind int

const (
	// SecretNotFound: the secret store could not produce the credential (terminal).
	SecretNotFound Kind = iota + 1
	// AuthRejected: the platform refused the credential (terminal).
	AuthRejected
	// NetworkFailure: transport or server-side transient error (retryable).
	NetworkFailure
	// Timeout: the call or the batch ran out of time (retryable).
	Timeout
	// MalformedResponse: the server broke the response contract (terminal).
	MalformedResponse
)

var kindNames = map[Kind]string{
	SecretNotFound:    "secret_not_found",
	AuthRejected:      "auth_rejected",
	NetworkFailure:    "network_failure",
	Timeout:           "timeout",
	MalformedResponse: "malformed_response",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether a failure of this kind is worth another attempt.
func (k Kind) Transient() bool {
	return k == NetworkFailure || k == Timeout
}

// Error is a classified failure tied to the request that produced it.
type Error struct {
	Kind Kind
	// Key identifies the originating request (tenant/platform/client).
	Key string
	// RetryAfter is a server-provided hint for the next attempt, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Key != "" {
		msg += " [" + e.Key + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterHint lets the retry loop honor server back-pressure.
func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// New wraps err with a kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithKey returns a copy of e bound to the given request identity.
func (e *Error) WithKey(key string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Key = key
	return &cp
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or false when err is unclassified.
func KindOf(err error) (Kind, bool) {
	if fe, ok := As(err); ok {
		return fe.Kind, true
	}
	return 0, false
}

// IsTransient is a retry.IsRetryableFunc over classified errors.
// Unclassified errors are never retried.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Transient()
}

// Classify returns err as a classified error. Context expiry maps to Timeout;
// anything else unclassified gets the fallback kind.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(Timeout, err)
	}
	return New(fallback, err)
}
