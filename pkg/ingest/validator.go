package ingest

import (
	"fmt"
	"net/http"
)

var supportedKinds = map[EventKind]struct{}{
	PullRequestApproved: {},
	PullRequestCreated:  {},
	PullRequestUpdated:  {},
}

// Validate checks the method and the event header of a delivery.
func Validate(method, eventKey string) (EventKind, error) {
	if method != http.MethodPost {
		return "", fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
	}
	kind := EventKind(eventKey)
	if _, ok := supportedKinds[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, eventKey)
	}
	return kind, nil
}
