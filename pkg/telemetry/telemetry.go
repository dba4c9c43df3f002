// Package telemetry records analytics events about request outcomes.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"reviewhooks/internal"
)

// AbsentUser is the user id recorded when the caller is unknown.
const AbsentUser = "absent"

// MessageType tags telemetry envelopes on the bus.
const MessageType = "telemetry"

// Record is a single analytics event.
type Record struct {
	UserID      string                 `json:"user_id"`
	AnonymousID string                 `json:"anonymous_id,omitempty"`
	Event       string                 `json:"event"`
	Type        string                 `json:"type"`
	StatusFlag  int                    `json:"status_flag"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// Sink delivers records somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, record Record) error
}

// Tracker accepts records. Track never reports failure to the caller.
type Tracker interface {
	Track(ctx context.Context, record Record)
}

// Options configures an Emitter.
type Options struct {
	// Sync sends on the caller's goroutine. By default records are sent in the
	// background and drained by Close.
	Sync        bool
	Timeout     time.Duration
	AnonymousID string
	Logger      *log.Logger
}

// Emitter fans records out to a sink, optionally in the background.
type Emitter struct {
	sink        Sink
	async       bool
	timeout     time.Duration
	anonymousID string
	logger      *log.Logger
	wg          sync.WaitGroup
}

// NewEmitter builds an emitter. A nil sink drops every record.
func NewEmitter(sink Sink, opts Options) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Emitter{
		sink:        sink,
		async:       !opts.Sync,
		timeout:     opts.Timeout,
		anonymousID: opts.AnonymousID,
		logger:      opts.Logger,
	}
}

// Track sends record. Errors are logged and counted.
func (e *Emitter) Track(ctx context.Context, record Record) {
	if e == nil {
		return
	}
	if record.UserID == "" {
		record.UserID = AbsentUser
	}
	if record.AnonymousID == "" {
		record.AnonymousID = e.anonymousID
	}
	if !e.async {
		e.send(ctx, record)
		return
	}
	// the request context is cancelled once the handler returns
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.send(ctx, record)
	}()
}

func (e *Emitter) send(ctx context.Context, record Record) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sink.Send(ctx, record); err != nil {
		internal.IncTelemetryError(e.sink.Name())
		e.logger.Printf("telemetry %s/%s failed: %v", record.Event, record.Type, err)
	}
}

// Close waits for in-flight background sends.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.wg.Wait()
	return nil
}

// NopSink drops records.
type NopSink struct{}

func (NopSink) Name() string                       { return "nop" }
func (NopSink) Send(context.Context, Record) error { return nil }

// LogSink writes records as JSON lines.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("telemetry %s", data)
	return nil
}

// PublisherSink publishes records to a topic on the message bus.
type PublisherSink struct {
	Publisher internal.Publisher
	Topic     string
}

func (s PublisherSink) Name() string { return "publisher" }

func (s PublisherSink) Send(ctx context.Context, record Record) error {
	if s.Publisher == nil {
		return errors.New("telemetry publisher is nil")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, internal.Envelope{
		Topic:       s.Topic,
		MessageType: MessageType,
		Event:       record.Event,
		Payload:     data,
	})
}

// MultiSink sends to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Send(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Send(ctx, record); err != nil {
			internal.IncTelemetryError(sink.Name())
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NewSink builds a sink from configured names.
func NewSink(names []string, publisher internal.Publisher, topic string, logger *log.Logger) (Sink, error) {
	sinks := make(MultiSink, 0, len(names))
	for _, name := range names {
		switch name {
		case "log":
			sinks = append(sinks, LogSink{Logger: logger})
		case "publisher":
			if publisher == nil {
				return nil, errors.New("telemetry publisher sink requires a publisher")
			}
			sinks = append(sinks, PublisherSink{Publisher: publisher, Topic: topic})
		case "nop", "":
			sinks = append(sinks, NopSink{})
		default:
			return nil, fmt.Errorf("unsupported telemetry sink: %s", name)
		}
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
