// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a producer client.
type Config struct {
	Producer ProducerConfig `yaml:"producer"`
	Log      LogConfig      `yaml:"log"`
	Otel     OtelConfig     `yaml:"otel"`
}

// ProducerConfig holds produce-path settings.
type ProducerConfig struct {
	// ClientID identifies this producer in logs and metrics. Generated
	// when empty.
	ClientID string `yaml:"client_id"`

	// Maximum message size in bytes (payload plus key)
	MaxMessageSize int `yaml:"max_message_size"`

	// Maximum messages constructed but not yet completed
	QueueBufferingMaxMessages int64 `yaml:"queue_buffering_max_messages"`

	// How long a buffered message may wait for transmission
	MessageTimeout time.Duration `yaml:"message_timeout"`

	// Expected cadence of topic metadata refreshes; stale-metadata
	// decisions derive from it
	MetadataRefreshInterval time.Duration `yaml:"metadata_refresh_interval"`

	// How often the expiry sweeper runs
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Partitioner string `yaml:"partitioner"` // random, hash, roundrobin
	Compression string `yaml:"compression"` // none, snappy, gzip, zstd
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// OtelConfig holds OpenTelemetry configuration.
type OtelConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Producer: ProducerConfig{
			MaxMessageSize:            1000000,
			QueueBufferingMaxMessages: 100000,
			MessageTimeout:            5 * time.Minute,
			MetadataRefreshInterval:   time.Minute,
			SweepInterval:             time.Second,
			Partitioner:               "random",
			Compression:               "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Otel: OtelConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			ServiceName:     "kinetic-producer",
			ServiceVersion:  "1.0.0",
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Producer.MaxMessageSize < 1 {
		return fmt.Errorf("producer.max_message_size must be at least 1 byte")
	}
	if c.Producer.QueueBufferingMaxMessages < 1 {
		return fmt.Errorf("producer.queue_buffering_max_messages must be at least 1")
	}
	if c.Producer.MessageTimeout < time.Millisecond {
		return fmt.Errorf("producer.message_timeout must be at least 1ms")
	}
	if c.Producer.MetadataRefreshInterval < time.Second {
		return fmt.Errorf("producer.metadata_refresh_interval must be at least 1 second")
	}
	if c.Producer.SweepInterval < time.Millisecond {
		return fmt.Errorf("producer.sweep_interval must be at least 1ms")
	}

	validPartitioners := map[string]bool{"random": true, "hash": true, "roundrobin": true}
	if !validPartitioners[c.Producer.Partitioner] {
		return fmt.Errorf("producer.partitioner must be one of: random, hash, roundrobin")
	}
	validCompression := map[string]bool{"none": true, "snappy": true, "gzip": true, "zstd": true}
	if !validCompression[c.Producer.Compression] {
		return fmt.Errorf("producer.compression must be one of: none, snappy, gzip, zstd")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Otel.Enabled {
		if c.Otel.Endpoint == "" {
			return fmt.Errorf("otel.endpoint cannot be empty when otel is enabled")
		}
		if c.Otel.ServiceName == "" {
			return fmt.Errorf("otel.service_name cannot be empty when otel is enabled")
		}
		if c.Otel.TraceSampleRate < 0.0 || c.Otel.TraceSampleRate > 1.0 {
			return fmt.Errorf("otel.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
