package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidgin/therapy-assistant-agent/internal/analysis"
	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/config"
	"github.com/davidgin/therapy-assistant-agent/internal/metrics"
	"github.com/davidgin/therapy-assistant-agent/internal/transcription"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

// HTTPServer exposes the analysis API and monitoring endpoints.
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	analyzer     *analysis.Analyzer
	transcriber  *transcription.Client // nil when transcription is disabled
	metrics      *metrics.Metrics
	maxBodyBytes int64

	startTime time.Time
}

// analyzeRequest is the JSON body accepted by POST /analyze.
type analyzeRequest struct {
	Audio      string `json:"audio"` // base64-encoded payload
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer creates the API server. transcriber may be nil.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	analyzer *analysis.Analyzer, transcriber *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:       logger,
		config:       appConfig,
		analyzer:     analyzer,
		transcriber:  transcriber,
		metrics:      m,
		maxBodyBytes: cfg.MaxBodyBytes,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/analyze", h.withMetrics("/analyze", h.handleAnalyze))
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, endpoint,
				fmt.Sprintf("%d", ww.statusCode), time.Since(startTime).Seconds())
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleAnalyze implements POST /analyze. The request carries the
// recording as base64; the response is the full analysis result.
func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	audioData, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "audio field is not valid base64")
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), &analysis.Request{
		AudioData:  audioData,
		Encoding:   req.Encoding,
		SampleRate: req.SampleRate,
		Language:   req.Language,
		SessionID:  req.SessionID,
	})
	if err != nil {
		h.writeAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// writeAnalysisError maps pipeline errors onto HTTP status codes.
func (h *HTTPServer) writeAnalysisError(w http.ResponseWriter, err error) {
	var insufficientErr *audio.InsufficientAudioError
	var decodeErr *audio.DecodeError

	switch {
	case errors.Is(err, analysis.ErrServiceBusy):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, analysis.ErrEmptyAudio):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &decodeErr):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficientErr):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, vad.ErrNoSpeechDetected):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "analysis deadline exceeded")
	default:
		h.logger.Error("Analysis request failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	transcriptionStatus := "disabled"
	if h.transcriber != nil {
		transcriptionStatus = "running"
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "therapy-assistant-agent",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"analyzer": map[string]interface{}{
				"status": "running",
			},
			"transcription": map[string]interface{}{
				"status": transcriptionStatus,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"target_sample_rate": h.config.Audio.TargetSampleRate,
			"min_duration":       h.config.Audio.MinDuration,
			"target_peak":        h.config.Audio.TargetPeak,
		},
		"vad": map[string]interface{}{
			"frame_duration":       h.config.VAD.FrameDuration,
			"overlap_ratio":        h.config.VAD.OverlapRatio,
			"energy_threshold":     h.config.VAD.EnergyThreshold,
			"zcr_ceiling":          h.config.VAD.ZCRCeiling,
			"min_speech_duration":  h.config.VAD.MinSpeechDuration,
			"min_silence_duration": h.config.VAD.MinSilenceDuration,
		},
		"features": map[string]interface{}{
			"frame_duration":    h.config.Features.FrameDuration,
			"pitch_min_hz":      h.config.Features.PitchMinHz,
			"pitch_max_hz":      h.config.Features.PitchMaxHz,
			"voicing_threshold": h.config.Features.VoicingThreshold,
		},
		"classifier": map[string]interface{}{
			"temperature":         h.config.Classifier.Temperature,
			"tie_margin":          h.config.Classifier.TieMargin,
			"min_voiced_fraction": h.config.Classifier.MinVoicedFraction,
		},
		"transcription": map[string]interface{}{
			"enabled":        h.config.Transcription.Enabled,
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted
		},
		"analysis": map[string]interface{}{
			"max_concurrent":  h.config.Analysis.MaxConcurrent,
			"request_timeout": h.config.Analysis.RequestTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.transcriber != nil {
		stats["transcription"] = h.transcriber.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Therapy Assistant Voice Analysis",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /analyze": "Analyze a voice recording",
			"GET /health":   "Service health check",
			"GET /config":   "Get service configuration",
			"GET /stats":    "Get service statistics",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
