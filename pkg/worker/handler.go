package worker

import (
	"context"
	"fmt"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Handler processes one decoded delivery.
type Handler func(ctx context.Context, evt *Event) error

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Listener observes the worker lifecycle. Any hook may be nil.
type Listener struct {
	OnStart         func(ctx context.Context)
	OnExit          func(ctx context.Context)
	OnMessageStart  func(ctx context.Context, evt *Event)
	OnMessageFinish func(ctx context.Context, evt *Event, err error)
	// OnError sees decode failures with a nil evt.
	OnError func(ctx context.Context, evt *Event, err error)
}

// Recover turns a handler panic into a Permanent error so the message is not
// redelivered into the same crash.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = Permanent(fmt.Errorf("handler panic: %v", r))
				}
			}()
			return next(ctx, evt)
		}
	}
}

// MiddlewareFromWatermill adapts a watermill handler middleware (retry,
// throttle, poison queue) to the worker chain. The middleware sees a copy of
// the event payload and metadata.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			msg := message.NewMessage(watermill.NewUUID(), message.Payload(evt.Payload))
			msg.Metadata = make(message.Metadata, len(evt.Metadata))
			maps.Copy(msg.Metadata, evt.Metadata)
			msg.SetContext(ctx)

			_, err := m(func(msg *message.Message) ([]*message.Message, error) {
				return nil, next(msg.Context(), evt)
			})(msg)
			return err
		}
	}
}
