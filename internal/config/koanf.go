// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// KoanfConfig wraps koanf for layered configuration management: a YAML
// file overridden by GLIMPSER_* environment variables.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithYAMLFile sets the YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default: "GLIMPSER").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig creates a configuration loader with precedence, highest
// first: environment variables, YAML file, built-in defaults.
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "GLIMPSER",
	}

	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := kc.reload(); err != nil {
		return nil, err
	}
	return kc, nil
}

// Load unmarshals the merged configuration into a Config, starting from
// the built-in defaults, and validates it.
func (kc *KoanfConfig) Load() (*Config, error) {
	cfg := DefaultConfig()

	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Reload re-reads all sources. Safe to call from a SIGHUP handler.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

// streamFields are the per-stream env key suffixes recognised when mapping
// GLIMPSER_STREAMS_<id>_<field> to streams.<id>.<field>.
var streamFields = []string{
	"_url", "_kind", "_username", "_password", "_mode", "_max_fps", "_max_width",
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load YAML file: %w", err)
		}
	}

	// Environment overrides. The documented names map onto flat config
	// keys: GLIMPSER_MAX_ENCODERS -> max_encoders, GLIMPSER_ENCODER_BIN
	// -> encoder_bin, GLIMPSER_CAPTURE_SHUTDOWN_MS -> shutdown_ms.
	// Stream definitions nest one level:
	// GLIMPSER_STREAMS_FRONT_DOOR_URL -> streams.front_door.url.
	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, kc.envPrefix+"_")
			k = strings.ToLower(k)

			if k == "capture_shutdown_ms" {
				return "shutdown_ms", v
			}

			if rest, ok := strings.CutPrefix(k, "streams_"); ok {
				for _, field := range streamFields {
					if strings.HasSuffix(rest, field) {
						id := strings.TrimSuffix(rest, field)
						return "streams." + id + "." + strings.TrimPrefix(field, "_"), v
					}
				}
				return "streams." + rest, v
			}

			// Top-level keys are flat snake_case; no separator rewriting.
			return k, v
		},
	})

	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()
	return nil
}

// Exists checks whether a configuration key is set by any source.
func (kc *KoanfConfig) Exists(key string) bool {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.Exists(key)
}

// All returns the merged configuration as a flat map, for diagnostics.
func (kc *KoanfConfig) All() map[string]interface{} {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.All()
}
