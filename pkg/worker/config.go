package worker

import "time"

// SubscriberConfig holds the configuration for a Watermill subscriber. It reads
// the same watermill section the webhook server publishes with.
type SubscriberConfig struct {
	Driver  string   `yaml:"driver"`
	Drivers []string `yaml:"drivers"`

	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`

	// BuildAttempts and BuildDelayMS bound reconnects while brokers come up.
	BuildAttempts int   `yaml:"build_attempts"`
	BuildDelayMS  int64 `yaml:"build_delay_ms"`
}

// BuildDelay returns the wait between subscriber build attempts.
func (c SubscriberConfig) BuildDelay() time.Duration {
	return time.Duration(c.BuildDelayMS) * time.Millisecond
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// Settings configures what the worker consumes.
type Settings struct {
	Topics      []string `yaml:"topics"`
	Concurrency int      `yaml:"concurrency"`
}

// Config is the worker's view of the application config file.
type Config struct {
	Watermill SubscriberConfig `yaml:"watermill"`
	Worker    Settings         `yaml:"worker"`
}
