package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the whisper sidecar
type Metrics struct {
	// Inference metrics
	InferenceRequests prometheus.Counter
	InferenceFailures prometheus.Counter
	InferenceDuration prometheus.Histogram
	AudioDuration     prometheus.Histogram
	RealtimeFactor    prometheus.Histogram

	// Decode metrics
	DecodeErrors prometheus.Counter

	// Model lifecycle metrics
	ModelLoads        prometheus.Counter
	ModelLoadFailures prometheus.Counter
	ModelLoadDuration prometheus.Histogram
	ModelReady        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Inference metrics
		InferenceRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisper_inference_requests_total",
			Help: "Total number of inference calls executed",
		}),
		InferenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisper_inference_failures_total",
			Help: "Total number of inference calls that returned an engine error",
		}),
		InferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_inference_duration_seconds",
			Help:    "Wall time spent inside the inference engine",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		AudioDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Duration of audio submitted for transcription",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2 minutes
		}),
		RealtimeFactor: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_realtime_factor",
			Help:    "Inference time divided by audio time (lower is faster)",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 0.05x to ~6x realtime
		}),

		// Decode metrics
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisper_decode_errors_total",
			Help: "Total number of uploads that could not be decoded",
		}),

		// Model lifecycle metrics
		ModelLoads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_loads_total",
			Help: "Total number of successful model loads",
		}),
		ModelLoadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_load_failures_total",
			Help: "Total number of failed model loads",
		}),
		ModelLoadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_model_load_duration_seconds",
			Help:    "Time spent constructing engine instances",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~4 minutes
		}),
		ModelReady: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_model_ready",
			Help: "Whether a model is loaded and serving (1) or not (0)",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordInference records one successful inference call
func (m *Metrics) RecordInference(inferenceSeconds, audioSeconds float64) {
	m.InferenceRequests.Inc()
	m.InferenceDuration.Observe(inferenceSeconds)
	m.AudioDuration.Observe(audioSeconds)
	if audioSeconds > 0 {
		m.RealtimeFactor.Observe(inferenceSeconds / audioSeconds)
	}
}

// RecordInferenceFailure records one failed inference call
func (m *Metrics) RecordInferenceFailure() {
	m.InferenceRequests.Inc()
	m.InferenceFailures.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordModelLoad records a successful model load
func (m *Metrics) RecordModelLoad(durationSeconds float64) {
	m.ModelLoads.Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
}

// RecordModelLoadFailure records a failed model load
func (m *Metrics) RecordModelLoadFailure(durationSeconds float64) {
	m.ModelLoadFailures.Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
}

// SetModelReady sets the model readiness gauge
func (m *Metrics) SetModelReady(ready bool) {
	if ready {
		m.ModelReady.Set(1)
	} else {
		m.ModelReady.Set(0)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
