// Package metrics is the process-wide Prometheus registry: histograms and
// gauges shared across the ingest, egress, and publication components.
// Registration is idempotent by construction; a second Init call fails with
// a clear error rather than silently replacing the global.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/histogram/gauge the pipeline publishes.
type Registry struct {
	reg *prometheus.Registry

	ThumbnailGenerationSeconds *prometheus.HistogramVec
	PlaybackRate               *prometheus.HistogramVec
	BlockOnSeconds             *prometheus.HistogramVec
	UploadLatencySeconds       *prometheus.HistogramVec

	TotalViewers prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec
}

var (
	globalMu sync.Mutex
	global   *Registry
)

// New constructs a fresh Registry with its own prometheus.Registry, for
// tests and for multi-instance embedding.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ThumbnailGenerationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livepipe_thumbnail_generation_seconds",
			Help:    "Time taken to generate a stream thumbnail.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stream_id"}),
		PlaybackRate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livepipe_playback_rate",
			Help:    "observed_fps / target_fps per pipeline.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 0.95, 1.0, 1.05, 1.1, 1.25, 1.5, 2.0},
		}, []string{"pipeline_id"}),
		BlockOnSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livepipe_block_on_seconds",
			Help:    "Latency of blocking FFI bridge calls into the codec library.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"op"}),
		UploadLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livepipe_upload_latency_seconds",
			Help:    "Per-request blob mirror upload latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mirror"}),
		TotalViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livepipe_total_viewers",
			Help: "Total viewers currently tracked across all live streams.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livepipe_errors_total",
			Help: "Errors observed by component, keyed by taxonomy error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		r.ThumbnailGenerationSeconds,
		r.PlaybackRate,
		r.BlockOnSeconds,
		r.UploadLatencySeconds,
		r.TotalViewers,
		r.ErrorsTotal,
	)

	return r
}

// InitGlobal initializes the process-wide singleton. A second call fails:
// the global registry has a single initialization call and read-only
// accessors elsewhere.
func InitGlobal() (*Registry, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return nil, fmt.Errorf("metrics registry already initialized")
	}
	global = New()
	return global, nil
}

// Global returns the process-wide registry, or nil if InitGlobal was never
// called.
func Global() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Handler returns an http.Handler exposing the registry in Prometheus text
// exposition format, for mounting at the well-known /metrics path.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
