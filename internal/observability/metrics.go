package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speakdrill_recordings_started_total",
		Help: "Number of recordings started",
	})

	recordingsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakdrill_recordings_finished_total",
		Help: "Number of recordings finished, by outcome",
	}, []string{"outcome"})

	utterancesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakdrill_utterances_dropped_total",
		Help: "Number of finalized utterances dropped before the answer pipeline",
	}, []string{"reason"})

	pipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speakdrill_answer_pipeline_seconds",
		Help:    "End-to-end latency of the submit/reply pipeline",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	remoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakdrill_remote_requests_total",
		Help: "Remote practice API calls, by operation and status",
	}, []string{"op", "status"})

	remoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speakdrill_remote_request_seconds",
		Help:    "Remote practice API latency, by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"op"})
)

// RecordingStarted counts a device acquisition that reached Recording.
func RecordingStarted() {
	recordingsStarted.Inc()
}

// RecordingFinished counts a recording leaving the engine:
// completed, cancelled, superseded, or empty.
func RecordingFinished(outcome string) {
	recordingsFinished.WithLabelValues(outcome).Inc()
}

// UtteranceDropped counts an utterance rejected before submission:
// busy, stale, or empty.
func UtteranceDropped(reason string) {
	utterancesDropped.WithLabelValues(reason).Inc()
}

// ObservePipeline records the latency of one full answer pipeline run.
func ObservePipeline(d time.Duration) {
	pipelineLatency.Observe(d.Seconds())
}

// ObserveRemote records the outcome and latency of one remote call.
func ObserveRemote(op string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	remoteRequests.WithLabelValues(op, status).Inc()
	remoteLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ServeMetrics exposes the Prometheus endpoint on addr. Blocks; run it on its
// own goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
