package internal

// Envelope is the normalized message handed to the publisher.
type Envelope struct {
	Topic       string            `json:"topic"`
	MessageType string            `json:"msgtype"`
	Provider    string            `json:"provider"`
	Event       string            `json:"event"`
	RequestID   string            `json:"request_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Payload     []byte            `json:"payload"`
}

// WithTopic returns a copy of the envelope addressed to topic.
func (e Envelope) WithTopic(topic string) Envelope {
	e.Topic = topic
	return e
}
