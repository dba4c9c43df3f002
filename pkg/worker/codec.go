package worker

import (
	"encoding/json"
	"errors"

	"reviewhooks/internal"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	// Decode transforms a Watermill message into an Event.
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes messages produced by the webhook publisher: the payload
// is the provider body and the envelope fields travel as metadata.
type DefaultCodec struct{}

var errMissingMessageType = errors.New("message has no msgtype metadata")

// Decode unmarshals a Watermill message into an Event.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	msgType := msg.Metadata.Get(internal.MetadataMessageType)
	if msgType == "" {
		return nil, errMissingMessageType
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	var normalized map[string]interface{}
	var raw interface{}
	if err := json.Unmarshal(msg.Payload, &raw); err == nil {
		if object, ok := raw.(map[string]interface{}); ok {
			normalized = object
		}
	}

	return &Event{
		Provider:   msg.Metadata.Get(internal.MetadataProvider),
		Type:       msgType,
		Name:       msg.Metadata.Get(internal.MetadataEvent),
		Topic:      topic,
		Metadata:   metadata,
		Payload:    json.RawMessage(msg.Payload),
		Normalized: normalized,
	}, nil
}
