package worker

import (
	"context"
	"errors"
	"sync"

	"reviewhooks/internal"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Worker consumes pull request envelopes from installation topics and
// dispatches them to handlers by topic or by message type.
type Worker struct {
	subscriber  message.Subscriber
	codec       Codec
	retry       RetryPolicy
	logger      Logger
	concurrency int
	topics      []string

	topicHandlers map[string]Handler
	typeHandlers  map[string]Handler
	middleware    []Middleware
	listeners     []Listener
	allowedTopics map[string]struct{}
}

// New creates a new Worker with the given options.
func New(opts ...Option) *Worker {
	w := &Worker{
		codec:         DefaultCodec{},
		retry:         NoRetry{},
		logger:        stdLogger{},
		concurrency:   1,
		topicHandlers: make(map[string]Handler),
		typeHandlers:  make(map[string]Handler),
		allowedTopics: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleTopic registers a handler for every message on topic. When topics were
// fixed with WithTopics, unknown topics are ignored.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if h == nil || topic == "" {
		return
	}
	if len(w.allowedTopics) > 0 {
		if _, ok := w.allowedTopics[topic]; !ok {
			w.logger.Printf("handler topic not subscribed: %s", topic)
			return
		}
	}
	w.topicHandlers[topic] = h
	w.topics = append(w.topics, topic)
}

// HandleType registers a handler for an envelope msgtype such as
// bb_pullrequest_created. Topic handlers take precedence.
func (w *Worker) HandleType(msgType string, h Handler) {
	if h == nil || msgType == "" {
		return
	}
	w.typeHandlers[msgType] = h
}

// Run subscribes to every topic and processes messages until ctx is canceled.
// At most concurrency messages are handled at once across all topics.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}

	w.each(func(l Listener) {
		if l.OnStart != nil {
			l.OnStart(ctx)
		}
	})
	defer w.each(func(l Listener) {
		if l.OnExit != nil {
			l.OnExit(ctx)
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, topic := range trimUnique(w.topics) {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			w.notifyError(ctx, nil, err)
			cancel()
			wg.Wait()
			return err
		}
		topic := topic
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, topic, msgs, sem, &wg)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consume(ctx context.Context, topic string, msgs <-chan *message.Message, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.handleMessage(ctx, topic, msg)
			}()
		}
	}
}

// Close shuts down the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	evt, err := w.codec.Decode(topic, msg)
	if err != nil {
		w.logger.Printf("decode failed topic=%s uuid=%s: %v", topic, msg.UUID, err)
		w.notifyError(ctx, nil, err)
		internal.IncWorkerMessage("decode_error")
		w.settle(ctx, msg, nil, err)
		return
	}

	if reqID := evt.Metadata[internal.MetadataRequestID]; reqID != "" {
		w.logger.Printf("request_id=%s topic=%s provider=%s type=%s", reqID, evt.Topic, evt.Provider, evt.Type)
	}
	w.each(func(l Listener) {
		if l.OnMessageStart != nil {
			l.OnMessageStart(ctx, evt)
		}
	})

	handler := w.handlerFor(topic, evt.Type)
	if handler == nil {
		w.logger.Printf("no handler for topic=%s type=%s", topic, evt.Type)
		w.finish(ctx, evt, nil)
		internal.IncWorkerMessage("unhandled")
		msg.Ack()
		return
	}

	err = w.wrap(handler)(ctx, evt)
	w.finish(ctx, evt, err)
	if err != nil {
		w.notifyError(ctx, evt, err)
		w.settle(ctx, msg, evt, err)
		return
	}
	internal.IncWorkerMessage("ack")
	msg.Ack()
}

// settle acks or nacks a failed message according to the retry policy.
func (w *Worker) settle(ctx context.Context, msg *message.Message, evt *Event, err error) {
	decision := w.retry.OnError(ctx, evt, err)
	if decision.Retry || decision.Nack {
		internal.IncWorkerMessage("nack")
		msg.Nack()
		return
	}
	msg.Ack()
}

func (w *Worker) handlerFor(topic, msgType string) Handler {
	if h := w.topicHandlers[topic]; h != nil {
		return h
	}
	return w.typeHandlers[msgType]
}

// wrap applies middleware so the first registered runs outermost.
func (w *Worker) wrap(h Handler) Handler {
	wrapped := h
	for i := len(w.middleware) - 1; i >= 0; i-- {
		wrapped = w.middleware[i](wrapped)
	}
	return wrapped
}

func (w *Worker) each(fn func(Listener)) {
	for _, listener := range w.listeners {
		fn(listener)
	}
}

func (w *Worker) finish(ctx context.Context, evt *Event, err error) {
	w.each(func(l Listener) {
		if l.OnMessageFinish != nil {
			l.OnMessageFinish(ctx, evt, err)
		}
	})
}

func (w *Worker) notifyError(ctx context.Context, evt *Event, err error) {
	w.each(func(l Listener) {
		if l.OnError != nil {
			l.OnError(ctx, evt, err)
		}
	})
}
