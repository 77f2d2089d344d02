package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates Prometheus collectors for the supervisor: HTTP request
// counters, stream lifecycle events, per-stream bitrate gauges, and viewer
// totals. All methods are safe to call on a nil Recorder so components can be
// wired without metrics in tests.
type Recorder struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeStreams   prometheus.Gauge
	streamEvents    *prometheus.CounterVec
	streamBitrate   *prometheus.GaugeVec
	viewersTotal    prometheus.Gauge
}

// New creates and registers the supervisor's Prometheus collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streampulse_http_requests_total",
		Help: "Total number of HTTP requests received",
	}, []string{"method", "status"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streampulse_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streampulse_active_streams",
		Help: "Number of streams with a recorded source URL",
	})
	streamEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streampulse_stream_events_total",
		Help: "Stream lifecycle events by type",
	}, []string{"event"})
	streamBitrate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streampulse_stream_bitrate_mbps",
		Help: "Last measured output bitrate per stream in Mbps",
	}, []string{"stream"})
	viewersTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streampulse_viewers",
		Help: "Active playback sessions across all streams",
	})

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		activeStreams,
		streamEvents,
		streamBitrate,
		viewersTotal,
	)

	return &Recorder{
		registry:        registry,
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		activeStreams:   activeStreams,
		streamEvents:    streamEvents,
		streamBitrate:   streamBitrate,
		viewersTotal:    viewersTotal,
	}
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(method string, status int, seconds float64) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(seconds)
}

// ObserveStreamEvent counts a stream lifecycle event by type.
func (r *Recorder) ObserveStreamEvent(event string) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(event).Inc()
}

// SetActiveStreams sets the active stream gauge.
func (r *Recorder) SetActiveStreams(n int) {
	if r == nil {
		return
	}
	r.activeStreams.Set(float64(n))
}

// SetStreamBitrate records the latest bitrate sample for a stream.
func (r *Recorder) SetStreamBitrate(id string, mbps float64) {
	if r == nil {
		return
	}
	r.streamBitrate.WithLabelValues(id).Set(mbps)
}

// RemoveStream drops the per-stream series once a session is torn down.
func (r *Recorder) RemoveStream(id string) {
	if r == nil {
		return
	}
	r.streamBitrate.DeleteLabelValues(id)
}

// AddViewers adjusts the global viewer gauge by delta.
func (r *Recorder) AddViewers(delta int) {
	if r == nil {
		return
	}
	r.viewersTotal.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
