// Package metrics defines the Prometheus instrumentation for the voice
// analysis service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice analysis service
type Metrics struct {
	// Analysis request metrics
	AnalysesStarted   prometheus.Counter
	AnalysesComplete  *prometheus.CounterVec
	AnalysesRejected  prometheus.Counter
	ActiveAnalyses    prometheus.Gauge
	AnalysisDuration  prometheus.Histogram
	RecordingDuration prometheus.Histogram

	// Pipeline stage metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// VAD metrics
	SpeechSegments  prometheus.Histogram
	SpeakingRatio   prometheus.Histogram
	NoSpeechOutcome prometheus.Counter

	// Classification metrics
	ToneResults          *prometheus.CounterVec
	ClassifierConfidence prometheus.Histogram
	DegenerateInputs     prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Analysis request metrics
		AnalysesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_analyses_started_total",
			Help: "Total number of analysis requests admitted",
		}),
		AnalysesComplete: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_analyses_finished_total",
			Help: "Total number of finished analyses by terminal state",
		}, []string{"state"}),
		AnalysesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_analyses_rejected_total",
			Help: "Total number of analysis requests rejected at admission",
		}),
		ActiveAnalyses: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_analyses",
			Help: "Current number of in-flight analyses",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_analysis_duration_seconds",
			Help:    "End-to-end duration of analysis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_recording_duration_seconds",
			Help:    "Duration of analyzed recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Pipeline stage metrics
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"stage"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_stage_errors_total",
			Help: "Total number of pipeline stage failures",
		}, []string{"stage"}),

		// VAD metrics
		SpeechSegments: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_speech_segments",
			Help:    "Number of speech segments per recording",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		}),
		SpeakingRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_speaking_ratio",
			Help:    "Fraction of recording time covered by speech",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		NoSpeechOutcome: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_no_speech_total",
			Help: "Total number of recordings with no detectable speech",
		}),

		// Classification metrics
		ToneResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_tone_results_total",
			Help: "Total number of tone classifications by category",
		}, []string{"category"}),
		ClassifierConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_classifier_confidence",
			Help:    "Confidence of tone classifications",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		DegenerateInputs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_degenerate_inputs_total",
			Help: "Total number of recordings too unvoiced to classify",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordAnalysisStarted increments the started counter and active gauge
func (m *Metrics) RecordAnalysisStarted() {
	m.AnalysesStarted.Inc()
	m.ActiveAnalyses.Inc()
}

// RecordAnalysisFinished records a terminal analysis state
func (m *Metrics) RecordAnalysisFinished(state string, durationSeconds float64) {
	m.AnalysesComplete.WithLabelValues(state).Inc()
	m.AnalysisDuration.Observe(durationSeconds)
	m.ActiveAnalyses.Dec()
}

// RecordAnalysisRejected increments the admission rejection counter
func (m *Metrics) RecordAnalysisRejected() {
	m.AnalysesRejected.Inc()
}

// RecordRecordingDuration records the duration of an analyzed recording
func (m *Metrics) RecordRecordingDuration(seconds float64) {
	m.RecordingDuration.Observe(seconds)
}

// RecordStage records the duration of one pipeline stage
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageError increments the error counter for a pipeline stage
func (m *Metrics) RecordStageError(stage string) {
	m.StageErrors.WithLabelValues(stage).Inc()
}

// RecordSegmentation records VAD outcome statistics
func (m *Metrics) RecordSegmentation(segments int, speakingRatio float64) {
	m.SpeechSegments.Observe(float64(segments))
	m.SpeakingRatio.Observe(speakingRatio)
}

// RecordNoSpeech increments the no-speech counter
func (m *Metrics) RecordNoSpeech() {
	m.NoSpeechOutcome.Inc()
}

// RecordClassification records a tone classification outcome
func (m *Metrics) RecordClassification(category string, confidence float64, degenerate bool) {
	m.ToneResults.WithLabelValues(category).Inc()
	m.ClassifierConfidence.Observe(confidence)
	if degenerate {
		m.DegenerateInputs.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
