// SPDX-License-Identifier: MIT

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harperreed/glimpser-go/internal/capture"
)

// mjpegBoundary separates JPEG parts in the multipart stream.
const mjpegBoundary = "glimpserframe"

// Handler routes the Glimpser HTTP API.
type Handler struct {
	svc    *CaptureService
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates the API handler for a capture service.
func NewHandler(svc *CaptureService, logger *slog.Logger) *Handler {
	h := &Handler{
		svc:    svc,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /api/stream/{id}/start", h.handleStart)
	h.mux.HandleFunc("POST /api/stream/{id}/stop", h.handleStop)
	h.mux.HandleFunc("GET /api/stream/{id}/snapshot", h.handleSnapshot)
	h.mux.HandleFunc("GET /api/stream/{id}/mjpeg", h.handleMJPEG)
	h.mux.HandleFunc("GET /api/stream/{id}/health", h.handleStreamHealth)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.svc.Start(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrUnknownStream):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, capture.ErrAtCapacity):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, capture.ErrStartTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.svc.Stop(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrUnknownStream):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleSnapshot serves a single JPEG from the stream's live capture.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rx, ok := h.subscribe(w, id)
	if !ok {
		return
	}
	defer rx.Close()

	// Bound the read so a snapshot request cannot hang past the capture's
	// own frame cadence expectations.
	ctx, cancel := context.WithTimeout(r.Context(), h.svc.cfg.StartTimeout)
	defer cancel()

	frame, err := rx.Next(ctx)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, fmt.Errorf("no frame available: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame)
}

// handleMJPEG serves a multipart/x-mixed-replace stream of JPEG frames
// until the client disconnects or the capture terminates.
func (h *Handler) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rx, ok := h.subscribe(w, id)
	if !ok {
		return
	}
	defer rx.Close()

	mjpegClients.Inc()
	defer mjpegClients.Dec()

	if h.logger != nil {
		h.logger.Debug("mjpeg client connected", "stream", id, "remote", r.RemoteAddr)
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	mw := multipart.NewWriter(w)
	_ = mw.SetBoundary(mjpegBoundary)

	for {
		frame, err := rx.Next(r.Context())
		if err != nil {
			// io.EOF: clean stop. ErrLagged: this client fell behind.
			// Either way the multipart stream just ends.
			_ = mw.Close()
			return
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", "image/jpeg")
		header.Set("Content-Length", fmt.Sprintf("%d", len(frame)))
		part, err := mw.CreatePart(header)
		if err != nil {
			return
		}
		if _, err := part.Write(frame); err != nil {
			return // client gone
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// streamHealthBody is the per-stream health JSON shape.
type streamHealthBody struct {
	State          string `json:"state"`
	LastFrameAgeMS int64  `json:"last_frame_age_ms"`
	BytesRead      int64  `json:"bytes_read"`
	Frames         int64  `json:"frames"`
	Subscribers    int    `json:"subscribers"`
	StderrTail     string `json:"stderr_tail"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	Failure        string `json:"failure,omitempty"`
}

func healthBody(rep capture.HealthReport) streamHealthBody {
	body := streamHealthBody{
		State:          rep.State.String(),
		LastFrameAgeMS: -1,
		BytesRead:      rep.BytesRead,
		Frames:         rep.Frames,
		Subscribers:    rep.Subscribers,
		StderrTail:     rep.StderrTail,
		ExitCode:       rep.ExitCode,
		Failure:        rep.Failure,
	}
	if rep.LastFrameAge >= 0 {
		body.LastFrameAgeMS = rep.LastFrameAge.Milliseconds()
	}
	return body
}

func (h *Handler) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.svc.cfg.StreamDef(id); !ok {
		writeError(w, http.StatusNotFound, ErrUnknownStream)
		return
	}

	var rep capture.HealthReport
	if handle, ok := h.svc.Handle(id); ok {
		rep = handle.Health()
	} else {
		rep = capture.HealthReport{StreamID: id, State: capture.SourceStopped, LastFrameAge: -1}
	}

	writeJSON(w, http.StatusOK, healthBody(rep))
}

// subscribe resolves the stream id to a live capture and registers a frame
// receiver, writing the error response itself on failure.
func (h *Handler) subscribe(w http.ResponseWriter, id string) (*capture.FrameReceiver, bool) {
	if _, ok := h.svc.cfg.StreamDef(id); !ok {
		writeError(w, http.StatusNotFound, ErrUnknownStream)
		return nil, false
	}
	handle, ok := h.svc.Handle(id)
	if !ok {
		writeError(w, http.StatusConflict, ErrNotRunning)
		return nil, false
	}
	rx, err := handle.Subscribe()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return nil, false
	}
	return rx, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
