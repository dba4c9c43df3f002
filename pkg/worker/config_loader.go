package worker

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Config `yaml:",inline"`
	Rules  []struct {
		Emit string `yaml:"emit"`
	} `yaml:"rules"`
}

// LoadConfig reads the worker config. Topics are worker.topics followed by
// every rule emit topic, deduplicated.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	var cfg fileConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}

	topics := append([]string{}, cfg.Worker.Topics...)
	for _, rule := range cfg.Rules {
		topics = append(topics, rule.Emit)
	}
	out := cfg.Config
	out.Worker.Topics = trimUnique(topics)
	applySubscriberDefaults(&out.Watermill)
	if out.Worker.Concurrency <= 0 {
		out.Worker.Concurrency = 1
	}
	return out, nil
}

func trimUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
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

func applySubscriberDefaults(cfg *SubscriberConfig) {
	if cfg.Driver == "" && len(cfg.Drivers) == 0 {
		cfg.Driver = "gochannel"
	}
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.NATS.ClientIDSuffix == "" {
		cfg.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.BuildAttempts == 0 {
		cfg.BuildAttempts = 10
	}
	if cfg.BuildDelayMS == 0 {
		cfg.BuildDelayMS = 2000
	}
}
