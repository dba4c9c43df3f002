package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Providers contains configuration for each Git provider.
	Providers struct {
		Bitbucket BitbucketConfig `yaml:"bitbucket"`
	} `yaml:"providers"`
	// Storage configures the relational store holding repo configs, setups, users and history.
	Storage StorageConfig `yaml:"storage"`
	// Watermill holds configuration for the message publisher.
	Watermill WatermillConfig `yaml:"watermill"`
	// Telemetry configures analytics emission.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Ingest tunes the webhook pipeline.
	Ingest IngestConfig `yaml:"ingest"`
	// API configures the product endpoints.
	API APIConfig `yaml:"api"`
}

// Config represents the application configuration including routing rules.
type Config struct {
	AppConfig `yaml:",inline"`
	Rules     []Rule `yaml:"rules"`
}

// BitbucketConfig represents the configuration for the Bitbucket provider.
type BitbucketConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	Secret       string `yaml:"secret"`
	InstallPath  string `yaml:"install_path"`
	InstallTopic string `yaml:"install_topic"`
}

// StorageConfig holds the relational database settings.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Dialect     string `yaml:"dialect"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Driver     string           `yaml:"driver"`
	Drivers    []string         `yaml:"drivers"`
	GoChannel  GoChannelConfig  `yaml:"gochannel"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	NATS       NATSConfig       `yaml:"nats"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	SQL        SQLConfig        `yaml:"sql"`
	HTTP       HTTPConfig       `yaml:"http"`
	RiverQueue RiverQueueConfig `yaml:"riverqueue"`

	// BuildAttempts and BuildDelayMS bound reconnects while brokers come up.
	BuildAttempts int   `yaml:"build_attempts"`
	BuildDelayMS  int64 `yaml:"build_delay_ms"`
}

// BuildDelay returns the wait between publisher build attempts.
func (c WatermillConfig) BuildDelay() time.Duration {
	return time.Duration(c.BuildDelayMS) * time.Millisecond
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// TelemetryConfig controls where analytics records go.
type TelemetryConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Sinks       []string `yaml:"sinks"`
	Topic       string   `yaml:"topic"`
	Sync        bool     `yaml:"sync"`
	TimeoutMS   int64    `yaml:"timeout_ms"`
	AnonymousID string   `yaml:"anonymous_id"`
}

// IngestConfig tunes timeouts and delivery dedupe for the webhook pipeline.
type IngestConfig struct {
	LookupTimeoutMS  int64        `yaml:"lookup_timeout_ms"`
	PublishTimeoutMS int64        `yaml:"publish_timeout_ms"`
	Dedupe           DedupeConfig `yaml:"dedupe"`
}

// DedupeConfig configures the delivery-id cache.
type DedupeConfig struct {
	Enabled bool  `yaml:"enabled"`
	Size    int   `yaml:"size"`
	TTLMS   int64 `yaml:"ttl_ms"`
}

// APIConfig holds paths and options for the non-webhook endpoints.
type APIConfig struct {
	SetupPath       string `yaml:"setup_path"`
	ReposPath       string `yaml:"repos_path"`
	RelevantPath    string `yaml:"relevant_path"`
	AuthorsPath     string `yaml:"authors_path"`
	IdentityHeader  string `yaml:"identity_header"`
	AllowedOrigin   string `yaml:"allowed_origin"`
	StatsMinCommits int    `yaml:"stats_min_commits"`
}

// LookupTimeout returns the per-call deadline for repo config lookups.
func (c IngestConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMS) * time.Millisecond
}

// PublishTimeout returns the per-call deadline for publishes.
func (c IngestConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// TTL returns the dedupe entry lifetime.
func (c DedupeConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// Timeout returns the telemetry delivery deadline.
func (c TelemetryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LoadConfig loads the full application configuration, including rules, from a YAML file.
// It expands environment variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Providers.Bitbucket.Path == "" {
		cfg.Providers.Bitbucket.Path = "/webhooks/bitbucket"
	}
	if cfg.Providers.Bitbucket.InstallPath == "" {
		cfg.Providers.Bitbucket.InstallPath = "/api/bitbucket/callbacks/install"
	}
	if cfg.Providers.Bitbucket.InstallTopic == "" {
		cfg.Providers.Bitbucket.InstallTopic = "rtapish-fromserver"
	}
	if cfg.Storage.Driver == "" && cfg.Storage.Dialect == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "reviewhooks.db"
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.BuildAttempts == 0 {
		cfg.Watermill.BuildAttempts = 10
	}
	if cfg.Watermill.BuildDelayMS == 0 {
		cfg.Watermill.BuildDelayMS = 2000
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Table == "" {
		cfg.Watermill.RiverQueue.Table = "river_job"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "reviewhooks.envelope"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if len(cfg.Telemetry.Sinks) == 0 {
		cfg.Telemetry.Sinks = []string{"log"}
	}
	if cfg.Telemetry.Topic == "" {
		cfg.Telemetry.Topic = "reviewhooks.telemetry"
	}
	if cfg.Telemetry.TimeoutMS == 0 {
		cfg.Telemetry.TimeoutMS = 2000
	}
	if cfg.Ingest.LookupTimeoutMS == 0 {
		cfg.Ingest.LookupTimeoutMS = 3000
	}
	if cfg.Ingest.PublishTimeoutMS == 0 {
		cfg.Ingest.PublishTimeoutMS = 5000
	}
	if cfg.Ingest.Dedupe.Size == 0 {
		cfg.Ingest.Dedupe.Size = 4096
	}
	if cfg.Ingest.Dedupe.TTLMS == 0 {
		cfg.Ingest.Dedupe.TTLMS = 10 * 60 * 1000
	}
	if cfg.API.SetupPath == "" {
		cfg.API.SetupPath = "/api/dpu/setup"
	}
	if cfg.API.ReposPath == "" {
		cfg.API.ReposPath = "/api/dpu/repos"
	}
	if cfg.API.RelevantPath == "" {
		cfg.API.RelevantPath = "/api/extension/relevant"
	}
	if cfg.API.AuthorsPath == "" {
		cfg.API.AuthorsPath = "/api/stats/authors"
	}
	if cfg.API.IdentityHeader == "" {
		cfg.API.IdentityHeader = "X-Auth-Email"
	}
	if cfg.API.AllowedOrigin == "" {
		cfg.API.AllowedOrigin = "*"
	}
	if cfg.API.StatsMinCommits == 0 {
		cfg.API.StatsMinCommits = 10
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = strings.TrimSpace(rule.Emit)
		if rule.When == "" || rule.Emit == "" {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		if len(rule.Drivers) > 0 {
			drivers := make([]string, 0, len(rule.Drivers))
			for _, driver := range rule.Drivers {
				trimmed := strings.TrimSpace(driver)
				if trimmed != "" {
					drivers = append(drivers, trimmed)
				}
			}
			rule.Drivers = drivers
		}
		out = append(out, rule)
	}
	return out, nil
}
