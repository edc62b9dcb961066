// SPDX-License-Identifier: MIT

// Package httpapi exposes the capture subsystem upward: per-stream
// snapshot, MJPEG, start/stop and health endpoints, an aggregate health
// check, and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/harperreed/glimpser-go/internal/capture"
	"github.com/harperreed/glimpser-go/internal/config"
)

// Service errors mapped to HTTP status codes by the handlers.
var (
	ErrUnknownStream  = errors.New("unknown stream")
	ErrAlreadyRunning = errors.New("stream already running")
	ErrNotRunning     = errors.New("stream not running")
)

// CaptureService owns the handle-per-stream registry between the HTTP
// handlers and the capture core. Retry policy lives here, not in the core:
// the core fails fast and this layer surfaces the failure as a status
// code.
type CaptureService struct {
	cfg    *config.Config
	pool   *capture.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]*capture.Handle
}

// NewCaptureService creates the service for the configured streams.
func NewCaptureService(cfg *config.Config, pool *capture.Pool, logger *slog.Logger) *CaptureService {
	return &CaptureService{
		cfg:     cfg,
		pool:    pool,
		logger:  logger,
		handles: make(map[string]*capture.Handle),
	}
}

// Start begins a capture for the stream id. A stream whose previous
// capture reached a terminal state is restarted; a live one conflicts.
func (s *CaptureService) Start(ctx context.Context, id string) error {
	def, ok := s.cfg.StreamDef(id)
	if !ok {
		return ErrUnknownStream
	}

	s.mu.Lock()
	if h, exists := s.handles[id]; exists {
		switch h.State() {
		case capture.SourceStopped, capture.SourceFailed:
			// Terminal; replace below.
			delete(s.handles, id)
		default:
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	s.mu.Unlock()

	h, err := capture.StartCapture(ctx, capture.SourceConfig{
		Def:             def,
		Pool:            s.pool,
		EncoderBin:      s.cfg.EncoderBin,
		StartTimeout:    s.cfg.StartTimeout,
		StallTimeout:    s.cfg.StallTimeout,
		KillGrace:       s.cfg.KillGrace,
		SubscriberDepth: s.cfg.SubscriberDepth,
		Logger:          s.logger,
	}, s.cfg.ShutdownTimeout())
	if err != nil {
		captureStarts.WithLabelValues(startResult(err)).Inc()
		return err
	}

	s.mu.Lock()
	// A concurrent Start for the same id may have won; the loser's capture
	// must not leak.
	if _, exists := s.handles[id]; exists {
		s.mu.Unlock()
		_ = h.Close()
		return ErrAlreadyRunning
	}
	s.handles[id] = h
	s.mu.Unlock()

	captureStarts.WithLabelValues("ok").Inc()
	return nil
}

// Stop gracefully stops the capture for the stream id.
func (s *CaptureService) Stop(ctx context.Context, id string) error {
	if _, ok := s.cfg.StreamDef(id); !ok {
		return ErrUnknownStream
	}

	s.mu.Lock()
	h, exists := s.handles[id]
	if exists {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if !exists {
		return ErrNotRunning
	}

	captureStops.Inc()
	if err := h.Stop(ctx); err != nil {
		// The handle's drop still guarantees the kill.
		_ = h.Close()
		return err
	}
	return h.Close()
}

// Handle returns the live handle for a stream id.
func (s *CaptureService) Handle(id string) (*capture.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// Reports returns health snapshots for all streams, including configured
// ones that are not running.
func (s *CaptureService) Reports() []capture.HealthReport {
	s.mu.RLock()
	live := make(map[string]*capture.Handle, len(s.handles))
	for id, h := range s.handles {
		live[id] = h
	}
	s.mu.RUnlock()

	reports := make([]capture.HealthReport, 0, len(s.cfg.Streams))
	for id := range s.cfg.Streams {
		if h, ok := live[id]; ok {
			reports = append(reports, h.Health())
		} else {
			reports = append(reports, capture.HealthReport{
				StreamID:     id,
				State:        capture.SourceStopped,
				LastFrameAge: -1,
			})
		}
	}
	return reports
}

// Shutdown stops every live capture. Called once at daemon shutdown,
// before the pool itself shuts down.
func (s *CaptureService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*capture.Handle, 0, len(s.handles))
	for id, h := range s.handles {
		handles = append(handles, h)
		delete(s.handles, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *capture.Handle) {
			defer wg.Done()
			_ = h.Close()
		}(h)
	}
	wg.Wait()
}

// startResult labels a start failure for metrics.
func startResult(err error) string {
	switch {
	case errors.Is(err, capture.ErrAtCapacity):
		return "at_capacity"
	case errors.Is(err, capture.ErrStartTimeout):
		return "start_timeout"
	default:
		return "error"
	}
}
