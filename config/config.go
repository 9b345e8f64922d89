// Package config defines the console configuration surface: broker address
// list, topic map, HTTP listen address, buffer capacities, and timeouts.
// Configuration loads from an optional JSON file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Env variable names recognized as overrides.
const (
	EnvBrokers  = "OTUS_CONSOLE_BROKERS"
	EnvHTTPAddr = "OTUS_CONSOLE_HTTP_ADDR"
)

// Config represents the complete console configuration
type Config struct {
	Brokers  []string       `json:"brokers"`
	HTTP     HTTPConfig     `json:"http"`
	Topics   TopicsConfig   `json:"topics"`
	Buffers  BuffersConfig  `json:"buffers"`
	Timeouts TimeoutsConfig `json:"timeouts"`
}

// HTTPConfig defines the HTTP listener settings
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// TopicsConfig maps node channels to broker topics.
// Commands and Data are keyed by channel (node group) name; Responses is the
// single shared response topic all nodes write to.
type TopicsConfig struct {
	Commands  map[string]string `json:"commands"`
	Data      map[string]string `json:"data"`
	Responses string            `json:"responses"`
}

// BuffersConfig sizes the in-memory history and subscriber queues
type BuffersConfig struct {
	HistoryCapacity    int `json:"history_capacity"`     // per-channel ring capacity
	SnapshotLimit      int `json:"snapshot_limit"`       // max records returned by a snapshot read
	PacketSubscriber   int `json:"packet_subscriber"`    // per-client live packet queue
	ResponseSubscriber int `json:"response_subscriber"`  // per-client live response queue
}

// TimeoutsConfig holds the protocol timing constants
type TimeoutsConfig struct {
	ResponseWait     time.Duration `json:"response_wait"`     // command wait deadline
	StreamHeartbeat  time.Duration `json:"stream_heartbeat"`  // push-stream idle heartbeat
	ReconnectBackoff time.Duration `json:"reconnect_backoff"` // consumer fault backoff
	Shutdown         time.Duration `json:"shutdown"`          // graceful stop budget
}

// Default returns the configuration matching the reference deployment:
// two node groups (uas, uac), one shared response topic.
func Default() *Config {
	return &Config{
		Brokers: []string{"kafka:9092"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Topics: TopicsConfig{
			Commands: map[string]string{
				"uas": "otus-uas-commands",
				"uac": "otus-uac-commands",
			},
			Data: map[string]string{
				"uas": "otus-uas-logs",
				"uac": "otus-uac-logs",
			},
			Responses: "otus-responses",
		},
		Buffers: BuffersConfig{
			HistoryCapacity:    500,
			SnapshotLimit:      200,
			PacketSubscriber:   200,
			ResponseSubscriber: 100,
		},
		Timeouts: TimeoutsConfig{
			ResponseWait:     30 * time.Second,
			StreamHeartbeat:  15 * time.Second,
			ReconnectBackoff: 5 * time.Second,
			Shutdown:         10 * time.Second,
		},
	}
}

// Load reads configuration from an optional JSON file, applies environment
// overrides, and validates the result. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBrokers); v != "" {
		parts := strings.Split(v, ",")
		brokers := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				brokers = append(brokers, p)
			}
		}
		if len(brokers) > 0 {
			c.Brokers = brokers
		}
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
}

// Validate checks the configuration for completeness and consistency
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("config: at least one broker address is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: http.addr is required")
	}
	if c.Topics.Responses == "" {
		return fmt.Errorf("config: topics.responses is required")
	}
	if len(c.Topics.Data) == 0 {
		return fmt.Errorf("config: at least one data topic is required")
	}
	for channel := range c.Topics.Data {
		if _, ok := c.Topics.Commands[channel]; !ok {
			return fmt.Errorf("config: channel %q has a data topic but no command topic", channel)
		}
	}
	if c.Buffers.HistoryCapacity <= 0 {
		return fmt.Errorf("config: buffers.history_capacity must be positive")
	}
	if c.Buffers.SnapshotLimit <= 0 {
		return fmt.Errorf("config: buffers.snapshot_limit must be positive")
	}
	if c.Timeouts.ResponseWait <= 0 {
		return fmt.Errorf("config: timeouts.response_wait must be positive")
	}
	return nil
}

// Channels returns the configured channel names in stable order.
func (c *Config) Channels() []string {
	channels := make([]string, 0, len(c.Topics.Data))
	for channel := range c.Topics.Data {
		channels = append(channels, channel)
	}
	// map iteration order is random; keep output deterministic
	sort.Strings(channels)
	return channels
}

// HasChannel reports whether the channel is configured.
func (c *Config) HasChannel(channel string) bool {
	_, ok := c.Topics.Data[channel]
	return ok
}

// IsTarget reports whether target is a valid command destination: a
// configured channel or the wildcard.
func (c *Config) IsTarget(target string) bool {
	if target == "*" {
		return true
	}
	_, ok := c.Topics.Commands[target]
	return ok
}
