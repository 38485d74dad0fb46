package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for card issuing.
// Tracks exports, rasterization attempts, shares and HTTP traffic.
type Metrics struct {
	Exports         *prometheus.CounterVec
	ExportDuration  prometheus.Histogram
	RasterAttempts  *prometheus.CounterVec
	Crops           *prometheus.CounterVec
	Shares          *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	ArtifactsStored prometheus.Counter
}

// New registers every collector with reg, or with the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membercard_exports_total",
			Help: "Card exports by result",
		}, []string{"result"}),
		ExportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "membercard_export_duration_seconds",
			Help:    "Duration of a full card export",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RasterAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membercard_raster_attempts_total",
			Help: "Rasterization attempts by outcome",
		}, []string{"outcome"}),
		Crops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membercard_crops_total",
			Help: "Crop flattens by output format",
		}, []string{"format"}),
		Shares: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membercard_share_plans_total",
			Help: "Share plans served by first transport",
		}, []string{"transport"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membercard_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "membercard_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ArtifactsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "membercard_artifacts_stored_total",
			Help: "Artifacts put into the temporary store",
		}),
	}
}

// ObserveExport records one export; it satisfies export.Observer.
func (m *Metrics) ObserveExport(result string, d time.Duration) {
	m.Exports.WithLabelValues(result).Inc()
	m.ExportDuration.Observe(d.Seconds())
}

// ObserveRasterAttempt records one rasterization attempt.
func (m *Metrics) ObserveRasterAttempt(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.RasterAttempts.WithLabelValues(outcome).Inc()
}

// IncrementCrop records a flattened crop.
func (m *Metrics) IncrementCrop(format string) {
	m.Crops.WithLabelValues(format).Inc()
}

// IncrementShare records a served share plan.
func (m *Metrics) IncrementShare(transport string) {
	m.Shares.WithLabelValues(transport).Inc()
}

// IncrementArtifact records a stored artifact.
func (m *Metrics) IncrementArtifact() {
	m.ArtifactsStored.Inc()
}

// ObserveRequest records one HTTP request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(route string, status int, start time.Time) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
