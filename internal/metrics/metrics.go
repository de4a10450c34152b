package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - prometheus collectors shared by the tunnel sessions of a process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsOpen   prometheus.Gauge
	StreamsStarted prometheus.Counter
	Samples        prometheus.Counter
	SampleSize     prometheus.Histogram
	BytesReceived  prometheus.Counter
	Retries        prometheus.Counter
	Errors         *prometheus.CounterVec
}

// New - create the collectors and register them on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bambusource_sessions_open",
			Help: "Current number of sessions with an established TLS connection",
		}),
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bambusource_streams_started_total",
			Help: "Total number of start packets sent",
		}),
		Samples: factory.NewCounter(prometheus.CounterOpts{
			Name: "bambusource_samples_total",
			Help: "Total number of samples delivered",
		}),
		SampleSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bambusource_sample_size_bytes",
			Help:    "Size of delivered samples",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to 512KB
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "bambusource_received_bytes_total",
			Help: "Total number of frame bytes (headers included) consumed from the device",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "bambusource_read_retries_total",
			Help: "Total number of ReadSample calls that ended without a sample",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bambusource_errors_total",
			Help: "Total number of failed operations",
		}, []string{"kind"}),
	}
}

// SessionOpened - a session finished its handshake
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

// SessionClosed - an opened session was destroyed
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}

// StreamStarted - a start packet went out
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsStarted.Inc()
}

// ObserveSample - a sample of size bytes was delivered
func (m *Metrics) ObserveSample(size int) {
	if m == nil {
		return
	}
	m.Samples.Inc()
	m.SampleSize.Observe(float64(size))
}

// AddBytes - n bytes were consumed from the stream
func (m *Metrics) AddBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// Retry - a read ended without a sample
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Error - an operation failed with an error of the given kind
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}
