// Package metrics exposes the Prometheus collectors of the prediction
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal counts predictions by model and outcome.
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamline_predictions_total",
			Help: "Number of predictions served, by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	// PredictionLatencySeconds is a histogram for pipeline latency excluding
	// transport overhead.
	PredictionLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beamline_prediction_latency_seconds",
			Help:    "Histogram of featurize, infer and postprocess latency (seconds).",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"model"},
	)

	// AbsorberSites tracks how many absorbing sites each prediction covers.
	AbsorberSites = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beamline_absorber_sites",
			Help:    "Histogram of absorbing sites per predicted structure.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// CacheRequestsTotal counts prediction cache lookups by result.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamline_cache_requests_total",
			Help: "Prediction cache lookups, by result (hit or miss).",
		},
		[]string{"result"},
	)

	// ModelsLoaded is the number of models ready to serve.
	ModelsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beamline_models_loaded",
			Help: "Number of models loaded and ready to serve.",
		},
	)

	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// HTTPServerHandlingSeconds is a histogram for HTTP operation latencies.
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP operations.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
)

// RecordPrediction records the outcome and latency of a prediction.
func RecordPrediction(model string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PredictionsTotal.WithLabelValues(model, outcome).Inc()
	PredictionLatencySeconds.WithLabelValues(model).Observe(seconds)
}

// RecordAbsorberSites records the number of absorbing sites predicted.
func RecordAbsorberSites(n int) {
	AbsorberSites.Observe(float64(n))
}

// RecordCache records a cache lookup.
func RecordCache(hit bool) {
	if hit {
		CacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// SetModelsLoaded sets the number of ready models.
func SetModelsLoaded(n int) {
	ModelsLoaded.Set(float64(n))
}

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordHTTPLatency records the latency of an HTTP operation.
func RecordHTTPLatency(operation, status string, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(operation, status).Observe(seconds)
}
