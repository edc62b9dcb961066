// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"
)

func TestKoanfLoadsDefaultsWithoutFile(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MaxEncoders != 16 || cfg.EncoderBin != "ffmpeg" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestKoanfLoadsYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
max_encoders: 3
start_timeout: 12s
streams:
  cam:
    url: rtsp://cam.local/live
    kind: rtsp
    mode: mjpeg
`)

	kc, err := NewKoanfConfig(WithYAMLFile(path))
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.MaxEncoders != 3 {
		t.Errorf("MaxEncoders = %d, want 3", cfg.MaxEncoders)
	}
	if cfg.StartTimeout != 12*time.Second {
		t.Errorf("StartTimeout = %v, want 12s", cfg.StartTimeout)
	}
	if _, ok := cfg.StreamDef("cam"); !ok {
		t.Error("stream from YAML missing")
	}
}

func TestKoanfEnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, "max_encoders: 3\nencoder_bin: /usr/bin/ffmpeg\n")

	t.Setenv("GLIMPSER_MAX_ENCODERS", "7")
	t.Setenv("GLIMPSER_ENCODER_BIN", "/opt/encoder")
	t.Setenv("GLIMPSER_CAPTURE_SHUTDOWN_MS", "2500")

	kc, err := NewKoanfConfig(WithYAMLFile(path))
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.MaxEncoders != 7 {
		t.Errorf("MaxEncoders = %d, want env override 7", cfg.MaxEncoders)
	}
	if cfg.EncoderBin != "/opt/encoder" {
		t.Errorf("EncoderBin = %q, want env override", cfg.EncoderBin)
	}
	if cfg.ShutdownMS != 2500 {
		t.Errorf("ShutdownMS = %d, want 2500", cfg.ShutdownMS)
	}
	if cfg.ShutdownTimeout() != 2500*time.Millisecond {
		t.Errorf("ShutdownTimeout = %v, want 2.5s", cfg.ShutdownTimeout())
	}
}

func TestKoanfEnvStreamDefinition(t *testing.T) {
	t.Setenv("GLIMPSER_STREAMS_BACKYARD_URL", "rtsp://cam9.local/live")
	t.Setenv("GLIMPSER_STREAMS_BACKYARD_KIND", "rtsp")
	t.Setenv("GLIMPSER_STREAMS_BACKYARD_MODE", "mjpeg")

	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	def, ok := cfg.StreamDef("backyard")
	if !ok {
		t.Fatal("env-defined stream missing")
	}
	if def.URL != "rtsp://cam9.local/live" {
		t.Errorf("URL = %q", def.URL)
	}
}

func TestKoanfInvalidMergeRejected(t *testing.T) {
	path := writeConfigFile(t, "max_encoders: 3\n")
	t.Setenv("GLIMPSER_MAX_ENCODERS", "0")

	kc, err := NewKoanfConfig(WithYAMLFile(path))
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}
	if _, err := kc.Load(); err == nil {
		t.Error("expected validation failure for zero encoders")
	}
}

func TestKoanfReload(t *testing.T) {
	path := writeConfigFile(t, "max_encoders: 3\n")
	kc, err := NewKoanfConfig(WithYAMLFile(path))
	if err != nil {
		t.Fatalf("loader creation failed: %v", err)
	}

	if !kc.Exists("max_encoders") {
		t.Error("max_encoders not loaded")
	}
	if err := kc.Reload(); err != nil {
		t.Errorf("reload failed: %v", err)
	}
	if len(kc.All()) == 0 {
		t.Error("merged map empty after reload")
	}
}
