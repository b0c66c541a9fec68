// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ikhoon/centraldogma/pkg/events"
)

// Duration wraps time.Duration so config files can say "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ServerConfig is the full configuration of a centraldogma server,
// loaded from a YAML file.
type ServerConfig struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `yaml:"listenAddress" validate:"required,hostname_port"`

	// Watch tunes the watch registry and the long-poll endpoint.
	Watch WatchConfig `yaml:"watch"`

	// Events controls CloudEvents publication of commits.
	Events EventsConfig `yaml:"events"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
}

// WatchConfig tunes the watch registry and long-poll timeouts.
type WatchConfig struct {
	// RegistryCapacity is the soft bound on idle pattern buckets.
	RegistryCapacity int `yaml:"registryCapacity" validate:"omitempty,gt=0"`

	// DefaultTimeout applies when a watch request carries no
	// Prefer: wait header.
	DefaultTimeout Duration `yaml:"defaultTimeout" validate:"omitempty,gt=0"`

	// MaxTimeout caps the wait a client may request.
	MaxTimeout Duration `yaml:"maxTimeout" validate:"omitempty,gt=0"`
}

// EventsConfig controls the commit event bridge.
type EventsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TypePrefix  string `yaml:"typePrefix"`
	Source      string `yaml:"source"`
	BufferSize  int    `yaml:"bufferSize" validate:"omitempty,gt=0"`
	WorkerCount int    `yaml:"workerCount" validate:"omitempty,gt=0"`
}

// DefaultServerConfig returns the configuration used when no config
// file is given.
func DefaultServerConfig() ServerConfig {
	eventDefaults := events.DefaultConfig()
	return ServerConfig{
		ListenAddress: "0.0.0.0:36462",
		Watch: WatchConfig{
			RegistryCapacity: 8192,
			DefaultTimeout:   Duration(1 * time.Minute),
			MaxTimeout:       Duration(2 * time.Minute),
		},
		Events: EventsConfig{
			Enabled:     eventDefaults.Enabled,
			TypePrefix:  eventDefaults.TypePrefix,
			Source:      eventDefaults.Source,
			BufferSize:  eventDefaults.BufferSize,
			WorkerCount: eventDefaults.WorkerCount,
		},
		LogLevel: "info",
	}
}

// LoadServerConfig reads and validates the config file, filling omitted
// fields from the defaults. An empty path returns the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Watch.MaxTimeout < cfg.Watch.DefaultTimeout {
		return ServerConfig{}, fmt.Errorf("invalid config: watch.maxTimeout %v is below watch.defaultTimeout %v",
			time.Duration(cfg.Watch.MaxTimeout), time.Duration(cfg.Watch.DefaultTimeout))
	}
	return cfg, nil
}

// eventsConfig converts the YAML shape to the events package config.
func (c ServerConfig) eventsConfig() events.Config {
	return events.Config{
		Enabled:     c.Events.Enabled,
		TypePrefix:  c.Events.TypePrefix,
		Source:      c.Events.Source,
		BufferSize:  c.Events.BufferSize,
		WorkerCount: c.Events.WorkerCount,
	}
}
