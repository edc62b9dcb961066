// SPDX-License-Identifier: MIT

package httpapi

import (
	"net/http"
	"time"

	"github.com/harperreed/glimpser-go/internal/capture"
)

// healthzStream is one stream's entry in the aggregate health response.
type healthzStream struct {
	ID string `json:"id"`
	streamHealthBody
}

// healthzResponse is the body of GET /healthz, suitable for systemd
// watchdog or load balancer probes.
type healthzResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Encoders  int             `json:"encoders"`
	Streams   []healthzStream `json:"streams"`
}

// handleHealthz reports aggregate daemon health. The daemon is degraded
// when any capture sits in the failed state.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	reports := h.svc.Reports()

	resp := healthzResponse{
		Timestamp: time.Now(),
		Encoders:  h.svc.pool.Live(),
		Streams:   make([]healthzStream, 0, len(reports)),
	}

	status := http.StatusOK
	resp.Status = "healthy"
	for _, rep := range reports {
		resp.Streams = append(resp.Streams, healthzStream{
			ID:               rep.StreamID,
			streamHealthBody: healthBody(rep),
		})
		if rep.State == capture.SourceFailed {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
