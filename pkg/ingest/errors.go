package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrInvalidEventType    = errors.New("invalid event type")
	ErrInvalidBody         = errors.New("invalid request body")
	ErrUnverified          = errors.New("webhook verification failed")
	ErrConfigLookup        = errors.New("repo config lookup failed")
	ErrRepoNotConfigured   = errors.New("repo not configured")
	ErrLookupTimeout       = errors.New("repo config lookup timed out")
	ErrMissingTopicMapping = errors.New("no topic mapped to repo")
	ErrPublish             = errors.New("publish failed")
	ErrPublishTimeout      = errors.New("publish timed out")
)

// PublishError reports how many of the attempted envelopes failed.
type PublishError struct {
	Attempted int
	Failed    int
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%d of %d publishes failed: %v", e.Failed, e.Attempted, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
