// SPDX-License-Identifier: MIT

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/stream/front-door/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/stream/front-door/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/stream/garage/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown stream"}`))
	})
	mux.HandleFunc("GET /api/stream/front-door/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"running","last_frame_age_ms":40,"bytes_read":1024,"frames":12,"stderr_tail":""}`))
	})
	mux.HandleFunc("GET /api/stream/front-door/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2026-01-02T03:04:05Z","encoders":1,` +
			`"streams":[{"id":"front-door","state":"running","last_frame_age_ms":40,"bytes_read":1024,"frames":12,"stderr_tail":""}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientStartStop(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)

	ctx := context.Background()
	if err := c.Start(ctx, "front-door"); err != nil {
		t.Errorf("start failed: %v", err)
	}
	if err := c.Stop(ctx, "front-door"); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}

func TestClientAPIError(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)

	err := c.Start(context.Background(), "garage")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "unknown stream" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClientStreamHealth(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)

	health, err := c.StreamHealth(context.Background(), "front-door")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.ID != "front-door" || health.State != "running" || health.BytesRead != 1024 {
		t.Errorf("health = %+v", health)
	}

	live, err := c.IsStreamLive(context.Background(), "front-door")
	if err != nil {
		t.Fatalf("IsStreamLive failed: %v", err)
	}
	if !live {
		t.Error("running stream reported not live")
	}
}

func TestClientDaemonHealth(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)

	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.Status != "healthy" || health.Encoders != 1 || len(health.Streams) != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestClientSnapshot(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)

	frame, err := c.Snapshot(context.Background(), "front-door", 2*time.Second)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(frame) < 2 || frame[0] != 0xFF || frame[1] != 0xD8 {
		t.Errorf("snapshot bytes = %x", frame)
	}
}

func TestClientUnreachableDaemon(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", WithTimeout(300*time.Millisecond))
	if _, err := c.Health(context.Background()); err == nil {
		t.Error("expected error for unreachable daemon")
	}
}

func TestClientDefaults(t *testing.T) {
	c := NewClient("")
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want default", c.baseURL)
	}
}
