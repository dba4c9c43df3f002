package worker

import (
	"context"
	"errors"
)

// RetryDecision defines whether a message should be retried or Nacked.
type RetryDecision struct {
	Retry bool
	Nack  bool
}

// RetryPolicy defines a policy for retrying failed messages.
type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) RetryDecision
}

// NoRetry is a retry policy that never retries.
type NoRetry struct{}

// OnError always returns a decision to not retry and to Nack the message.
func (NoRetry) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{Retry: false, Nack: true}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// AckPermanent acks messages that failed decoding or with a Permanent error
// and nacks everything else for redelivery.
type AckPermanent struct{}

func (AckPermanent) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	var permanent permanentError
	if evt == nil || errors.As(err, &permanent) {
		return RetryDecision{}
	}
	return RetryDecision{Retry: true, Nack: true}
}
