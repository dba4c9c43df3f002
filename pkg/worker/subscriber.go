package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// MetadataDriver is set on messages read through a multi-driver subscriber.
const MetadataDriver = "driver"

var (
	errUnsupportedSubscriber = errors.New("unsupported subscriber driver")
	errSubscriberConfig      = errors.New("invalid subscriber config")
)

type subscriberFactory func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberFactories = map[string]subscriberFactory{
	"gochannel": buildGoChannelSubscriber,
	"amqp":      buildAMQPSubscriber,
	"nats":      buildNATSSubscriber,
	"kafka":     buildKafkaSubscriber,
	"sql":       buildSQLSubscriber,
}

// NewFromConfig builds the subscriber for cfg and a worker reading from it.
func NewFromConfig(cfg SubscriberConfig, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg)
	if err != nil {
		return nil, err
	}
	return New(append(opts, WithSubscriber(sub))...), nil
}

// BuildSubscriber creates the subscriber matching the watermill section the
// server publishes with. With several drivers, messages from all of them are
// merged and tagged with MetadataDriver; drivers that fail to come up are skipped.
func BuildSubscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	if len(cfg.Drivers) == 0 {
		driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
		if driver == "" {
			driver = "gochannel"
		}
		return retryBuild(cfg, func() (message.Subscriber, error) {
			return buildSubscriber(cfg, logger, driver)
		})
	}

	drivers := uniqueStrings(append(cfg.Drivers, cfg.Driver))
	multi := &multiSubscriber{bufferSize: cfg.GoChannel.OutputChannelBuffer}
	for _, driver := range drivers {
		sub, err := retryBuild(cfg, func() (message.Subscriber, error) {
			return buildSubscriber(cfg, logger, driver)
		})
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		multi.subscribers = append(multi.subscribers, namedSubscriber{driver: driver, sub: sub})
	}
	if len(multi.subscribers) == 0 {
		return nil, errors.New("no supported subscriber drivers configured")
	}
	return multi, nil
}

func buildSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	factory, ok := subscriberFactories[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnsupportedSubscriber, driver)
	}
	return factory(cfg, logger)
}

// retryBuild retries build while brokers are unreachable. Unsupported drivers
// and incomplete config fail at once.
func retryBuild(cfg SubscriberConfig, build func() (message.Subscriber, error)) (message.Subscriber, error) {
	attempts := cfg.BuildAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		sub, err := build()
		if err == nil {
			return sub, nil
		}
		if errors.Is(err, errUnsupportedSubscriber) || errors.Is(err, errSubscriberConfig) {
			return nil, err
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(cfg.BuildDelay())
		}
	}
	return nil, lastErr
}

func buildGoChannelSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil
}

func buildAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, fmt.Errorf("%w: amqp url is required", errSubscriberConfig)
	}
	var amqpCfg wmamaqp.Config
	switch strings.ToLower(cfg.AMQP.Mode) {
	case "", "durable_queue":
		amqpCfg = wmamaqp.NewDurableQueueConfig(cfg.AMQP.URL)
	case "nondurable_queue":
		amqpCfg = wmamaqp.NewNonDurableQueueConfig(cfg.AMQP.URL)
	case "durable_pubsub":
		amqpCfg = wmamaqp.NewDurablePubSubConfig(cfg.AMQP.URL, nil)
	case "nondurable_pubsub":
		amqpCfg = wmamaqp.NewNonDurablePubSubConfig(cfg.AMQP.URL, nil)
	default:
		return nil, fmt.Errorf("%w: unsupported amqp mode %s", errSubscriberConfig, cfg.AMQP.Mode)
	}
	return wmamaqp.NewSubscriber(amqpCfg, logger)
}

func buildNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, fmt.Errorf("%w: nats cluster_id and client_id are required", errSubscriberConfig)
	}
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
		DurableName: cfg.NATS.Durable,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	return wmnats.NewStreamingSubscriber(natsCfg, logger)
}

func buildKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", errSubscriberConfig)
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

func buildSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, fmt.Errorf("%w: sql driver and dsn are required", errSubscriberConfig)
	}
	var (
		schema  wmsql.SchemaAdapter
		offsets wmsql.OffsetsAdapter
	)
	switch strings.ToLower(cfg.SQL.Dialect) {
	case "postgres", "postgresql":
		schema, offsets = wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}
	case "mysql":
		schema, offsets = wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}
	default:
		// watermill-sql ships no sqlite schema.
		return nil, fmt.Errorf("%w: sql dialect %q", errUnsupportedSubscriber, cfg.SQL.Dialect)
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: cfg.SQL.InitializeSchema || cfg.SQL.AutoInitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &closingSubscriber{Subscriber: sub, closeFn: db.Close}, nil
}

// closingSubscriber releases the *sql.DB owned by a sql subscriber.
type closingSubscriber struct {
	message.Subscriber
	closeFn func() error
}

func (c *closingSubscriber) Close() error {
	return errors.Join(c.Subscriber.Close(), c.closeFn())
}

type multiSubscriber struct {
	subscribers []namedSubscriber
	bufferSize  int64
}

type namedSubscriber struct {
	driver string
	sub    message.Subscriber
}

func (m *multiSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	buffer := m.bufferSize
	if buffer <= 0 {
		buffer = 64
	}

	channels := make([]<-chan *message.Message, len(m.subscribers))
	for i, entry := range m.subscribers {
		ch, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.driver, err)
		}
		channels[i] = ch
	}

	out := make(chan *message.Message, buffer)
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(driver string, ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set(MetadataDriver, driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(m.subscribers[i].driver, ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *multiSubscriber) Close() error {
	var err error
	for _, entry := range m.subscribers {
		if closeErr := entry.sub.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", entry.driver, closeErr))
		}
	}
	return err
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
