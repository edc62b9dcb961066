// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/glimpser-go/internal/capture"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxEncoders != 16 {
		t.Errorf("MaxEncoders = %d, want 16", cfg.MaxEncoders)
	}
	if cfg.EncoderBin != "ffmpeg" {
		t.Errorf("EncoderBin = %q, want ffmpeg", cfg.EncoderBin)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout())
	}
	if cfg.StartTimeout != 10*time.Second {
		t.Errorf("StartTimeout = %v, want 10s", cfg.StartTimeout)
	}
	if cfg.StallTimeout != 30*time.Second {
		t.Errorf("StallTimeout = %v, want 30s", cfg.StallTimeout)
	}
	if cfg.KillGrace != time.Second {
		t.Errorf("KillGrace = %v, want 1s", cfg.KillGrace)
	}
	if cfg.OrphanKillGrace != 100*time.Millisecond {
		t.Errorf("OrphanKillGrace = %v, want 100ms", cfg.OrphanKillGrace)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
max_encoders: 4
encoder_bin: /opt/ffmpeg/bin/ffmpeg
listen_addr: 0.0.0.0:9000
streams:
  front-door:
    url: rtsp://cam1.local/stream
    kind: rtsp
    mode: mjpeg
    max_fps: 10
  lobby:
    url: http://cam2.local/snapshot.jpg
    kind: http-snapshot
    mode: snapshot
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.MaxEncoders != 4 {
		t.Errorf("MaxEncoders = %d, want 4", cfg.MaxEncoders)
	}
	if cfg.EncoderBin != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("EncoderBin = %q", cfg.EncoderBin)
	}
	// Unset keys keep their defaults.
	if cfg.StartTimeout != 10*time.Second {
		t.Errorf("StartTimeout = %v, want default 10s", cfg.StartTimeout)
	}

	def, ok := cfg.StreamDef("front-door")
	if !ok {
		t.Fatal("front-door stream missing")
	}
	if def.ID != "front-door" {
		t.Errorf("ID = %q, want front-door", def.ID)
	}
	if def.Kind != capture.KindRTSP || def.Mode != capture.ModeMJPEG || def.MaxFPS != 10 {
		t.Errorf("front-door definition mismatch: %+v", def)
	}

	if _, ok := cfg.StreamDef("garage"); ok {
		t.Error("unknown stream id resolved")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero encoders", "max_encoders: 0\n"},
		{"empty encoder bin", "encoder_bin: \"\"\n"},
		{"bad stream kind", "streams:\n  x:\n    url: rtsp://a\n    kind: webrtc\n    mode: mjpeg\n"},
		{"stream missing url", "streams:\n  x:\n    kind: rtsp\n    mode: mjpeg\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEncoders = 8
	cfg.Streams["cam"] = capture.StreamDef{
		URL:  "rtsp://cam.local/live",
		Kind: capture.KindRTSP,
		Mode: capture.ModeMJPEG,
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.MaxEncoders != 8 {
		t.Errorf("MaxEncoders = %d, want 8", loaded.MaxEncoders)
	}
	if _, ok := loaded.StreamDef("cam"); !ok {
		t.Error("stream lost in round trip")
	}
}
