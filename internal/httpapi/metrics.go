// SPDX-License-Identifier: MIT

package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimpser_capture_starts_total",
		Help: "Total number of capture start attempts",
	}, []string{"result"})

	captureStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glimpser_capture_stops_total",
		Help: "Total number of graceful capture stops",
	})

	orphansReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glimpser_orphans_reaped_total",
		Help: "Encoder orphans killed by the startup reaper",
	})

	mjpegClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glimpser_mjpeg_clients",
		Help: "Currently connected MJPEG stream clients",
	})
)

// RecordOrphansReaped feeds the startup reap count into the metrics.
func RecordOrphansReaped(n int) {
	orphansReaped.Add(float64(n))
}

// RegisterPoolGauge exposes the live encoder count from fn as a gauge.
func RegisterPoolGauge(fn func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "glimpser_live_encoders",
		Help: "Encoder children currently admitted to the pool",
	}, func() float64 { return float64(fn()) }))
}
