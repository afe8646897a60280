// Package metrics defines Prometheus collectors for the VNC agent
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics collectors
var (
	// Connection lifecycle

	ConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnc_connects_total",
			Help: "Total number of VNC connection attempts",
		},
		[]string{"status"},
	)

	HandshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vnc_handshake_duration_seconds",
			Help:    "RFB handshake duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vnc_sessions_active",
			Help: "Number of currently connected VNC sessions",
		},
	)

	// Framebuffer

	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnc_frames_total",
			Help: "Total number of fully decoded framebuffer updates",
		},
	)

	DesktopResizesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnc_desktop_resizes_total",
			Help: "Total number of DesktopSize framebuffer reallocations",
		},
	)

	BytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnc_bytes_read_total",
			Help: "Total bytes read from VNC transports",
		},
	)

	// Caller operations

	ScreenshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vnc_screenshot_duration_seconds",
			Help:    "Screenshot capture duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5},
		},
	)

	ScreenshotTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnc_screenshot_timeouts_total",
			Help: "Screenshots resolved from a stale buffer after the frame wait timed out",
		},
	)
)
