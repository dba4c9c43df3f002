package worker

import (
	"encoding/json"
	"strconv"
)

// Event is an envelope received by the worker.
type Event struct {
	// Provider is the webhook source, e.g. "bitbucket".
	Provider string `json:"provider"`
	// Type is the envelope message type, e.g. "bb_pullrequest_created".
	Type string `json:"type"`
	// Name is the provider event key, e.g. "pullrequest:created".
	Name string `json:"name"`
	// Topic is the topic the message was received on.
	Topic string `json:"topic"`
	// Metadata holds the message metadata, including repo attributes.
	Metadata map[string]string `json:"metadata"`
	// Payload is the provider body exactly as received by the webhook.
	Payload json.RawMessage `json:"payload"`
	// Normalized is Payload decoded as a JSON object, when it is one.
	Normalized map[string]interface{} `json:"normalized"`
}

// Repo returns the repository identity carried by the envelope.
func (e *Event) Repo() (provider, owner, name string) {
	return e.Metadata["repo_provider"], e.Metadata["repo_owner"], e.Metadata["repo_name"]
}

// AutoAssign reports the repository's auto-assign setting.
func (e *Event) AutoAssign() bool {
	return e.flag("auto_assign")
}

// Comment reports the repository's comment setting.
func (e *Event) Comment() bool {
	return e.flag("comment")
}

func (e *Event) flag(key string) bool {
	value, err := strconv.ParseBool(e.Metadata[key])
	return err == nil && value
}
