package server

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davidgin/therapy-assistant-agent/internal/analysis"
	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/classify"
	"github.com/davidgin/therapy-assistant-agent/internal/config"
	"github.com/davidgin/therapy-assistant-agent/internal/features"
	"github.com/davidgin/therapy-assistant-agent/internal/speech"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.Enabled = false

	pre, err := audio.NewPreprocessor(audio.PreprocessorConfig{
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		MinDuration:      cfg.Audio.GetMinDuration(),
		SilenceRMS:       cfg.Audio.SilenceRMS,
		GateThreshold:    cfg.Audio.GateThreshold,
		TargetPeak:       cfg.Audio.TargetPeak,
	})
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
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
		t.Fatalf("NewDetector failed: %v", err)
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
		t.Fatalf("NewExtractor failed: %v", err)
	}
	classifier, err := classify.NewClassifier(classify.DefaultConfig(), classify.DefaultProfiles(), nil)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	calculator, err := speech.NewCalculator(speech.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}
	analyzer, err := analysis.NewAnalyzer(
		analysis.Config{MaxConcurrent: 2, RequestTimeout: 30 * time.Second},
		pre, detector, extractor, classifier, calculator, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := NewHTTPServer(cfg.HTTP, logger, cfg, analyzer, nil, nil)

	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func tonePCM16Base64(duration time.Duration) string {
	n := int(duration.Seconds() * 16000)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*200*float64(i)/16000))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// clickPCM16Base64 is a 40ms click followed by near-silence: loud
// enough to pass decoding but carrying no usable speech.
func clickPCM16Base64() string {
	n := 16000 * 5 / 2
	click := int(0.040 * 16000)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		amp := 0.001
		if i < click {
			amp = 1.0
		}
		v := int16(amp * 32767 * math.Sin(2*math.Pi*200*float64(i)/16000))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func postAnalyze(t *testing.T, ts *httptest.Server, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+"/analyze", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /analyze failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postAnalyze(t, ts, map[string]any{
		"audio":       tonePCM16Base64(2 * time.Second),
		"encoding":    "pcm16",
		"sample_rate": 16000,
		"session_id":  "s-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result analysis.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.State != analysis.StateComplete {
		t.Errorf("state = %s, want %s", result.State, analysis.StateComplete)
	}
	if result.SessionID != "s-1" {
		t.Errorf("session ID = %q, want s-1", result.SessionID)
	}
	if result.Classification.Tone.Category == "" {
		t.Error("tone category missing")
	}
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{
			name:       "invalid base64",
			body:       map[string]any{"audio": "!!!not-base64!!!", "encoding": "pcm16", "sample_rate": 16000},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty audio",
			body:       map[string]any{"audio": "", "encoding": "pcm16", "sample_rate": 16000},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "recording too short",
			body:       map[string]any{"audio": tonePCM16Base64(100 * time.Millisecond), "encoding": "pcm16", "sample_rate": 16000},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "no speech in recording",
			body:       map[string]any{"audio": clickPCM16Base64(), "encoding": "pcm16", "sample_rate": 16000},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown encoding",
			body:       map[string]any{"audio": tonePCM16Base64(2 * time.Second), "encoding": "flac", "sample_rate": 16000},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postAnalyze(t, ts, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var errResp errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if errResp.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/analyze")
	if err != nil {
		t.Fatalf("GET /analyze failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", health["status"])
	}
}

func TestConfigEndpointOmitsAPIKey(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()

	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	transcription, ok := cfg["transcription"].(map[string]any)
	if !ok {
		t.Fatal("transcription section missing")
	}
	if _, leaked := transcription["api_key"]; leaked {
		t.Error("API key exposed in /config response")
	}
}
