package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidgin/therapy-assistant-agent/internal/analysis"
	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/classify"
	"github.com/davidgin/therapy-assistant-agent/internal/config"
	"github.com/davidgin/therapy-assistant-agent/internal/features"
	"github.com/davidgin/therapy-assistant-agent/internal/metrics"
	"github.com/davidgin/therapy-assistant-agent/internal/server"
	"github.com/davidgin/therapy-assistant-agent/internal/speech"
	"github.com/davidgin/therapy-assistant-agent/internal/transcription"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "therapy-assistant-agent"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	profilesPath := flag.String("profiles", "", "Path to classification profiles file (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("target_sample_rate", cfg.Audio.TargetSampleRate),
		slog.Float64("vad_energy_threshold", cfg.VAD.EnergyThreshold),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Int("analysis_max_concurrent", cfg.Analysis.MaxConcurrent),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Load classification profiles; fall back to built-in tables when
	// no file is configured.
	path := cfg.Classifier.ProfilesPath
	if *profilesPath != "" {
		path = *profilesPath
	}
	profiles := classify.DefaultProfiles()
	if path != "" {
		profiles, err = classify.LoadProfiles(path)
		if err != nil {
			logger.Error("Failed to load classification profiles", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Classification profiles loaded", slog.String("path", path))
	} else {
		logger.Info("Using built-in classification profiles")
	}

	// Build pipeline stages
	preprocessor, err := audio.NewPreprocessor(audio.PreprocessorConfig{
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		MinDuration:      cfg.Audio.GetMinDuration(),
		SilenceRMS:       cfg.Audio.SilenceRMS,
		GateThreshold:    cfg.Audio.GateThreshold,
		TargetPeak:       cfg.Audio.TargetPeak,
	})
	if err != nil {
		logger.Error("Failed to create preprocessor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	detector, err := vad.NewDetector(vad.Config{
		FrameDuration:   cfg.VAD.GetFrameDuration(),
		OverlapRatio:    cfg.VAD.OverlapRatio,
		EnergyThreshold: cfg.VAD.EnergyThreshold,
		ZCRCeiling:      cfg.VAD.ZCRCeiling,
		MinSpeechDur:    cfg.VAD.GetMinSpeechDuration(),
		MinPauseDur:     cfg.VAD.GetMinSilenceDuration(),
	})
	if err != nil {
		logger.Error("Failed to create voice activity detector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	extractor, err := features.NewExtractor(features.Config{
		FrameDuration:    cfg.Features.GetFrameDuration(),
		OverlapRatio:     cfg.Features.OverlapRatio,
		PitchMinHz:       cfg.Features.PitchMinHz,
		PitchMaxHz:       cfg.Features.PitchMaxHz,
		VoicingThreshold: cfg.Features.VoicingThreshold,
		RolloffFraction:  cfg.Features.RolloffFraction,
	})
	if err != nil {
		logger.Error("Failed to create feature extractor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	classifier, err := classify.NewClassifier(classify.Config{
		Temperature:       cfg.Classifier.Temperature,
		TieMargin:         cfg.Classifier.TieMargin,
		MinVoicedFraction: cfg.Classifier.MinVoicedFraction,
	}, profiles, logger)
	if err != nil {
		logger.Error("Failed to create classifier", slog.String("error", err.Error()))
		os.Exit(1)
	}

	calculator, err := speech.NewCalculator(speech.Config{
		TargetWPM:          cfg.Speech.TargetWPM,
		WPMTolerance:       cfg.Speech.WPMTolerance,
		MaxPausesPerMinute: cfg.Speech.MaxPausesPerMinute,
		MaxSegmentCV:       cfg.Speech.MaxSegmentCV,
		RateWeight:         cfg.Speech.RateWeight,
		PauseWeight:        cfg.Speech.PauseWeight,
		VariabilityWeight:  cfg.Speech.VariabilityWeight,
	})
	if err != nil {
		logger.Error("Failed to create speech metrics calculator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize transcription client (if enabled)
	var transcriber *transcription.Client
	var analyzerTranscriber analysis.Transcriber
	if cfg.Transcription.Enabled {
		transcriber, err = transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
			OnRetry:       appMetrics.RecordTranscriptionRetry,
		})
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		analyzerTranscriber = transcriber
		logger.Info("Transcription client initialized",
			slog.String("endpoint", cfg.Transcription.Endpoint),
			slog.Int("max_concurrent", cfg.Transcription.MaxConcurrent),
		)
	} else {
		logger.Info("Transcription disabled, analyses will omit transcripts")
	}

	// Initialize analyzer
	analyzer, err := analysis.NewAnalyzer(analysis.Config{
		MaxConcurrent:  cfg.Analysis.MaxConcurrent,
		RequestTimeout: cfg.Analysis.GetRequestTimeout(),
	}, preprocessor, detector, extractor, classifier, calculator, analyzerTranscriber, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create analyzer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Analysis pipeline initialized",
		slog.Int("max_concurrent", cfg.Analysis.MaxConcurrent),
		slog.Duration("request_timeout", cfg.Analysis.GetRequestTimeout()),
	)

	// Initialize and start HTTP API server
	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, analyzer, transcriber, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Drain in-flight transcription requests
	if transcriber != nil {
		if err := transcriber.Close(); err != nil {
			logger.Error("Error closing transcription client", slog.String("error", err.Error()))
		}

		stats := transcriber.GetStats()
		logger.Info("Final transcription statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("success_requests", stats.SuccessRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
			slog.Uint64("total_retries", stats.TotalRetries),
		)
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
