package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Features      FeaturesConfig      `yaml:"features"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Speech        SpeechConfig        `yaml:"speech"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
	ReadTimeout     int    `yaml:"read_timeout"`     // seconds
	WriteTimeout    int    `yaml:"write_timeout"`    // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig contains audio preprocessing parameters
type AudioConfig struct {
	TargetSampleRate int     `yaml:"target_sample_rate"`
	MinDuration      float64 `yaml:"min_duration"` // seconds
	SilenceRMS       float64 `yaml:"silence_rms"`
	GateThreshold    float64 `yaml:"gate_threshold"`
	TargetPeak       float64 `yaml:"target_peak"`
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	FrameDuration      float64 `yaml:"frame_duration"` // seconds
	OverlapRatio       float64 `yaml:"overlap_ratio"`
	EnergyThreshold    float64 `yaml:"energy_threshold"`
	ZCRCeiling         float64 `yaml:"zcr_ceiling"`
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
}

// FeaturesConfig contains acoustic feature extraction configuration
type FeaturesConfig struct {
	FrameDuration    float64 `yaml:"frame_duration"` // seconds
	OverlapRatio     float64 `yaml:"overlap_ratio"`
	PitchMinHz       float64 `yaml:"pitch_min_hz"`
	PitchMaxHz       float64 `yaml:"pitch_max_hz"`
	VoicingThreshold float64 `yaml:"voicing_threshold"`
	RolloffFraction  float64 `yaml:"rolloff_fraction"`
}

// ClassifierConfig contains tone/emotion classification configuration
type ClassifierConfig struct {
	ProfilesPath      string  `yaml:"profiles_path"`
	Temperature       float64 `yaml:"temperature"`
	TieMargin         float64 `yaml:"tie_margin"`
	MinVoicedFraction float64 `yaml:"min_voiced_fraction"`
}

// SpeechConfig contains speech metrics configuration
type SpeechConfig struct {
	TargetWPM          float64 `yaml:"target_wpm"`
	WPMTolerance       float64 `yaml:"wpm_tolerance"`
	MaxPausesPerMinute float64 `yaml:"max_pauses_per_minute"`
	MaxSegmentCV       float64 `yaml:"max_segment_cv"`
	RateWeight         float64 `yaml:"rate_weight"`
	PauseWeight        float64 `yaml:"pause_weight"`
	VariabilityWeight  float64 `yaml:"variability_weight"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// AnalysisConfig contains orchestration configuration
type AnalysisConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	RequestTimeout int `yaml:"request_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a section is absent from
// the config file.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "0.0.0.0",
			MaxBodyBytes:    32 << 20,
			ReadTimeout:     60,
			WriteTimeout:    120,
			ShutdownTimeout: 15,
		},
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			MinDuration:      0.5,
			SilenceRMS:       0.001,
			GateThreshold:    0.1,
			TargetPeak:       0.9,
		},
		VAD: VADConfig{
			FrameDuration:      0.025,
			OverlapRatio:       0.5,
			EnergyThreshold:    0.02,
			ZCRCeiling:         0.25,
			MinSpeechDuration:  0.1,
			MinSilenceDuration: 0.3,
		},
		Features: FeaturesConfig{
			FrameDuration:    0.032,
			OverlapRatio:     0.5,
			PitchMinHz:       50,
			PitchMaxHz:       500,
			VoicingThreshold: 0.3,
			RolloffFraction:  0.85,
		},
		Classifier: ClassifierConfig{
			Temperature:       2.0,
			TieMargin:         0.05,
			MinVoicedFraction: 0.1,
		},
		Speech: SpeechConfig{
			TargetWPM:          150,
			WPMTolerance:       100,
			MaxPausesPerMinute: 12,
			MaxSegmentCV:       1.0,
			RateWeight:         0.4,
			PauseWeight:        0.3,
			VariabilityWeight:  0.3,
		},
		Transcription: TranscriptionConfig{
			Enabled:       true,
			Endpoint:      "http://localhost:9000/transcribe",
			Timeout:       60,
			MaxRetries:    3,
			MaxConcurrent: 4,
			Language:      "en",
		},
		Analysis: AnalysisConfig{
			MaxConcurrent:  8,
			RequestTimeout: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults, so partial
// files only need the sections they override.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features config: %w", err)
	}

	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", h.MaxBodyBytes)
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	if h.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", h.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate < 8000 || a.TargetSampleRate > 48000 {
		return fmt.Errorf("target_sample_rate must be between 8000 and 48000 Hz, got %d", a.TargetSampleRate)
	}

	if a.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive, got %f", a.MinDuration)
	}

	if a.SilenceRMS <= 0 || a.SilenceRMS >= 1 {
		return fmt.Errorf("silence_rms must be in (0, 1), got %f", a.SilenceRMS)
	}

	if a.GateThreshold < 0 || a.GateThreshold >= 1 {
		return fmt.Errorf("gate_threshold must be in [0, 1), got %f", a.GateThreshold)
	}

	if a.TargetPeak <= 0 || a.TargetPeak > 1 {
		return fmt.Errorf("target_peak must be in (0, 1], got %f", a.TargetPeak)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.FrameDuration <= 0 || v.FrameDuration > 0.1 {
		return fmt.Errorf("frame_duration must be in (0, 0.1] seconds, got %f", v.FrameDuration)
	}

	if v.OverlapRatio < 0 || v.OverlapRatio >= 1 {
		return fmt.Errorf("overlap_ratio must be between 0 and 1 (exclusive), got %f", v.OverlapRatio)
	}

	if v.EnergyThreshold <= 0 || v.EnergyThreshold >= 1 {
		return fmt.Errorf("energy_threshold must be in (0, 1), got %f", v.EnergyThreshold)
	}

	if v.ZCRCeiling <= 0 || v.ZCRCeiling > 1 {
		return fmt.Errorf("zcr_ceiling must be in (0, 1], got %f", v.ZCRCeiling)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	return nil
}

// Validate validates feature extraction configuration
func (f *FeaturesConfig) Validate() error {
	if f.FrameDuration <= 0 || f.FrameDuration > 0.1 {
		return fmt.Errorf("frame_duration must be in (0, 0.1] seconds, got %f", f.FrameDuration)
	}

	if f.OverlapRatio < 0 || f.OverlapRatio >= 1 {
		return fmt.Errorf("overlap_ratio must be between 0 and 1 (exclusive), got %f", f.OverlapRatio)
	}

	if f.PitchMinHz <= 0 {
		return fmt.Errorf("pitch_min_hz must be positive, got %f", f.PitchMinHz)
	}

	if f.PitchMaxHz <= f.PitchMinHz {
		return fmt.Errorf("pitch_max_hz (%f) must be greater than pitch_min_hz (%f)",
			f.PitchMaxHz, f.PitchMinHz)
	}

	if f.VoicingThreshold <= 0 || f.VoicingThreshold >= 1 {
		return fmt.Errorf("voicing_threshold must be in (0, 1), got %f", f.VoicingThreshold)
	}

	if f.RolloffFraction <= 0 || f.RolloffFraction >= 1 {
		return fmt.Errorf("rolloff_fraction must be in (0, 1), got %f", f.RolloffFraction)
	}

	return nil
}

// Validate validates classifier configuration
func (cl *ClassifierConfig) Validate() error {
	if cl.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %f", cl.Temperature)
	}

	if cl.TieMargin < 0 || cl.TieMargin >= 1 {
		return fmt.Errorf("tie_margin must be in [0, 1), got %f", cl.TieMargin)
	}

	if cl.MinVoicedFraction < 0 || cl.MinVoicedFraction > 1 {
		return fmt.Errorf("min_voiced_fraction must be in [0, 1], got %f", cl.MinVoicedFraction)
	}

	return nil
}

// Validate validates speech metrics configuration
func (s *SpeechConfig) Validate() error {
	if s.TargetWPM <= 0 {
		return fmt.Errorf("target_wpm must be positive, got %f", s.TargetWPM)
	}

	if s.WPMTolerance <= 0 {
		return fmt.Errorf("wpm_tolerance must be positive, got %f", s.WPMTolerance)
	}

	if s.MaxPausesPerMinute <= 0 {
		return fmt.Errorf("max_pauses_per_minute must be positive, got %f", s.MaxPausesPerMinute)
	}

	if s.MaxSegmentCV <= 0 {
		return fmt.Errorf("max_segment_cv must be positive, got %f", s.MaxSegmentCV)
	}

	if s.RateWeight < 0 || s.PauseWeight < 0 || s.VariabilityWeight < 0 {
		return fmt.Errorf("weights cannot be negative")
	}

	if s.RateWeight+s.PauseWeight+s.VariabilityWeight <= 0 {
		return fmt.Errorf("at least one weight must be positive")
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates analysis configuration
func (a *AnalysisConfig) Validate() error {
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	if a.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", a.RequestTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMinDuration returns the minimum recording duration as a time.Duration
func (a *AudioConfig) GetMinDuration() time.Duration {
	return time.Duration(a.MinDuration * float64(time.Second))
}

// GetFrameDuration returns the VAD frame length as a time.Duration
func (v *VADConfig) GetFrameDuration() time.Duration {
	return time.Duration(v.FrameDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}

// GetFrameDuration returns the feature frame length as a time.Duration
func (f *FeaturesConfig) GetFrameDuration() time.Duration {
	return time.Duration(f.FrameDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRequestTimeout returns the per-request analysis deadline as a time.Duration
func (a *AnalysisConfig) GetRequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown limit as a time.Duration
func (h *HTTPConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}
