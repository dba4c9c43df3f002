// Package ingest turns provider webhook deliveries into published envelopes.
package ingest

import (
	"net/http"

	"reviewhooks/pkg/storage"
)

// ProviderBitbucket is the provider name stored with Bitbucket repositories.
const ProviderBitbucket = "bitbucket"

// EventKind is a supported webhook event.
type EventKind string

const (
	PullRequestApproved EventKind = "pullrequest:approved"
	PullRequestCreated  EventKind = "pullrequest:created"
	PullRequestUpdated  EventKind = "pullrequest:updated"
)

// MessageType is the envelope tag consumers dispatch on.
func (k EventKind) MessageType() string {
	switch k {
	case PullRequestApproved:
		return "bb_pullrequest_approved"
	case PullRequestCreated:
		return "bb_pullrequest_created"
	case PullRequestUpdated:
		return "bb_pullrequest_updated"
	default:
		return ""
	}
}

// MessageTypeInstallCallback tags forwarded app install callbacks.
const MessageTypeInstallCallback = "bb_install_callback"

// Request is one inbound delivery as seen by the pipeline.
type Request struct {
	Method     string
	EventKey   string
	Header     http.Header
	Body       []byte
	DeliveryID string
	RequestID  string
	// BodyErr is set when reading the body failed, for example on the size cap.
	BodyErr error
}

// WebhookEvent is a validated and parsed delivery.
type WebhookEvent struct {
	Kind       EventKind
	EventKey   string
	Repo       storage.RepoKey
	DeliveryID string
	RequestID  string
	Raw        []byte
}

// Stage is how far a request got through the pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageResolved
	StagePublished
	StageResponded
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageResolved:
		return "resolved"
	case StagePublished:
		return "published"
	case StageResponded:
		return "responded"
	default:
		return "unknown"
	}
}
