// SPDX-License-Identifier: MIT

// Package config loads and validates the Glimpser daemon configuration.
//
// Configuration merges three sources, highest precedence first:
//  1. Environment variables (GLIMPSER_*)
//  2. YAML configuration file
//  3. Built-in defaults
//
// The YAML file is also where stream definitions live; the capture core
// treats it as the external configuration store.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harperreed/glimpser-go/internal/capture"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/glimpser/config.yaml"

// Config is the complete Glimpser daemon configuration.
type Config struct {
	// MaxEncoders bounds concurrent encoder children (GLIMPSER_MAX_ENCODERS).
	MaxEncoders int `yaml:"max_encoders" koanf:"max_encoders"`

	// EncoderBin is the encoder binary (GLIMPSER_ENCODER_BIN).
	EncoderBin string `yaml:"encoder_bin" koanf:"encoder_bin"`

	// ShutdownMS bounds per-handle drop cleanup in milliseconds
	// (GLIMPSER_CAPTURE_SHUTDOWN_MS).
	ShutdownMS int `yaml:"shutdown_ms" koanf:"shutdown_ms"`

	// StartTimeout is the first-frame deadline for a capture start.
	StartTimeout time.Duration `yaml:"start_timeout" koanf:"start_timeout"`

	// StallTimeout fails a running capture that stops producing frames.
	StallTimeout time.Duration `yaml:"stall_timeout" koanf:"stall_timeout"`

	// KillGrace is the terminate-to-force-kill grace for encoder children.
	KillGrace time.Duration `yaml:"kill_grace" koanf:"kill_grace"`

	// OrphanKillGrace is the terminate-to-force-kill pause in the startup
	// orphan reap.
	OrphanKillGrace time.Duration `yaml:"orphan_kill_grace" koanf:"orphan_kill_grace"`

	// SubscriberDepth is the per-subscriber frame buffer depth.
	SubscriberDepth int `yaml:"subscriber_depth" koanf:"subscriber_depth"`

	// ListenAddr is the HTTP API listen address.
	ListenAddr string `yaml:"listen_addr" koanf:"listen_addr"`

	// LockFile is the daemon instance lock; a second daemon would
	// double-spawn encoders against the same streams.
	LockFile string `yaml:"lock_file" koanf:"lock_file"`

	// Streams maps stream id to its definition.
	Streams map[string]capture.StreamDef `yaml:"streams" koanf:"streams"`
}

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxEncoders:     16,
		EncoderBin:      "ffmpeg",
		ShutdownMS:      5000,
		StartTimeout:    10 * time.Second,
		StallTimeout:    30 * time.Second,
		KillGrace:       1 * time.Second,
		OrphanKillGrace: 100 * time.Millisecond,
		SubscriberDepth: capture.DefaultSubscriberDepth,
		ListenAddr:      "127.0.0.1:8089",
		LockFile:        "/var/run/glimpser/glimpser.lock",
		Streams:         map[string]capture.StreamDef{},
	}
}

// ShutdownTimeout returns ShutdownMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownMS) * time.Millisecond
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxEncoders <= 0 {
		return fmt.Errorf("max_encoders must be positive")
	}
	if c.EncoderBin == "" {
		return fmt.Errorf("encoder_bin cannot be empty")
	}
	if c.ShutdownMS <= 0 {
		return fmt.Errorf("shutdown_ms must be positive")
	}
	if c.StartTimeout <= 0 {
		return fmt.Errorf("start_timeout must be positive")
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive")
	}
	if c.KillGrace <= 0 {
		return fmt.Errorf("kill_grace must be positive")
	}
	if c.OrphanKillGrace <= 0 {
		return fmt.Errorf("orphan_kill_grace must be positive")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	for id, def := range c.Streams {
		def.ID = id
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StreamDef returns the definition for a stream id with the ID field
// populated.
func (c *Config) StreamDef(id string) (capture.StreamDef, bool) {
	def, ok := c.Streams[id]
	if !ok {
		return capture.StreamDef{}, false
	}
	def.ID = id
	return def, true
}

// LoadConfig reads and parses a YAML configuration file directly, applying
// defaults for unset fields.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - config path is administrator-controlled
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// #nosec G306 - config may be read by monitoring tooling
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
