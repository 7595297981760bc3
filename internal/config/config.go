// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and ARGOS_ environment variables over the defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RequireCRC is the default for batches that do not set it themselves.
	RequireCRC bool `koanf:"require_crc"`

	// QueueSize bounds the in-memory batch queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`

	// PassConcurrency fans a single batch out across passes when > 1.
	PassConcurrency int `koanf:"pass_concurrency"`

	// DedupeSize sets the size of the batch id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreDriver is memory or sqlite; StorePath is the sqlite file.
	StoreDriver string `koanf:"store_driver"`
	StorePath   string `koanf:"store_path"`

	// MQTT publishing is disabled when MQTTBroker is empty.
	MQTTBroker      string `koanf:"mqtt_broker"`
	MQTTClientID    string `koanf:"mqtt_client_id"`
	MQTTTopicPrefix string `koanf:"mqtt_topic_prefix"`
	MQTTQoS         int    `koanf:"mqtt_qos"`
	MQTTRetain      bool   `koanf:"mqtt_retain"`

	// MaxBodyBytes caps request bodies on the HTTP API.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		RequireCRC:      false,
		QueueSize:       10_000,
		WorkerCount:     runtime.NumCPU(),
		PassConcurrency: 1,
		DedupeSize:      50_000,
		StoreDriver:     StoreMemory,
		StorePath:       "argos.db",
		MQTTClientID:    "argos",
		MQTTTopicPrefix: "argos",
		MQTTQoS:         1,
		MaxBodyBytes:    4 << 20,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.PassConcurrency <= 0:
		return fmt.Errorf("%w: pass_concurrency must be positive, got %d", ErrInvalidConfig, c.PassConcurrency)
	case c.MQTTQoS < 0 || c.MQTTQoS > 2:
		return fmt.Errorf("%w: mqtt_qos must be 0, 1 or 2, got %d", ErrInvalidConfig, c.MQTTQoS)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
	}

	switch strings.ToLower(c.StoreDriver) {
	case StoreMemory:
	case StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("%w: store_path is required for the sqlite driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
