package vad

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
)

const testSampleRate = 16000

func testVADConfig() Config {
	return Config{
		FrameDuration:   25 * time.Millisecond,
		OverlapRatio:    0.5,
		EnergyThreshold: 0.02,
		ZCRCeiling:      0.35,
		MinSpeechDur:    100 * time.Millisecond,
		MinPauseDur:     200 * time.Millisecond,
	}
}

// tone appends a sine tone to samples.
func tone(samples []float64, freq float64, duration time.Duration, amplitude float64) []float64 {
	n := int(duration.Seconds() * testSampleRate)
	offset := len(samples)
	for i := 0; i < n; i++ {
		samples = append(samples, amplitude*math.Sin(2*math.Pi*freq*float64(offset+i)/testSampleRate))
	}
	return samples
}

// silence appends zero samples.
func silence(samples []float64, duration time.Duration) []float64 {
	n := int(duration.Seconds() * testSampleRate)
	return append(samples, make([]float64, n)...)
}

func buffer(samples []float64) *audio.Buffer {
	return &audio.Buffer{Samples: samples, SampleRate: testSampleRate}
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero frame duration", func(c *Config) { c.FrameDuration = 0 }, true},
		{"overlap ratio one", func(c *Config) { c.OverlapRatio = 1 }, true},
		{"zero energy threshold", func(c *Config) { c.EnergyThreshold = 0 }, true},
		{"zcr ceiling above one", func(c *Config) { c.ZCRCeiling = 1.5 }, true},
		{"zero min speech", func(c *Config) { c.MinSpeechDur = 0 }, true},
		{"zero min pause", func(c *Config) { c.MinPauseDur = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testVADConfig()
			tt.modify(&cfg)
			_, err := NewDetector(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDetector() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectSpeechPauseSpeech(t *testing.T) {
	d, err := NewDetector(testVADConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	var samples []float64
	samples = tone(samples, 200, time.Second, 0.6)
	samples = silence(samples, 500*time.Millisecond)
	samples = tone(samples, 200, time.Second, 0.6)

	seg, err := d.Detect(buffer(samples))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(seg.Segments) != 2 {
		t.Fatalf("Expected 2 speech segments, got %d", len(seg.Segments))
	}

	if len(seg.Pauses) != 1 {
		t.Fatalf("Expected 1 pause, got %d", len(seg.Pauses))
	}

	pauseDur := seg.Pauses[0].Duration()
	if pauseDur < 350*time.Millisecond || pauseDur > 600*time.Millisecond {
		t.Errorf("Expected pause of ~500ms, got %s", pauseDur)
	}

	for _, s := range seg.Segments {
		if s.MeanEnergy <= 0 {
			t.Errorf("Expected positive segment mean energy, got %f", s.MeanEnergy)
		}
	}
}

func TestDetectPartitionCoversRecording(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	var samples []float64
	samples = silence(samples, 300*time.Millisecond)
	samples = tone(samples, 180, 800*time.Millisecond, 0.5)
	samples = silence(samples, 700*time.Millisecond)
	samples = tone(samples, 220, 1200*time.Millisecond, 0.7)
	samples = silence(samples, 400*time.Millisecond)

	seg, err := d.Detect(buffer(samples))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	var covered time.Duration
	for _, s := range seg.Segments {
		covered += s.Duration()
	}
	for _, p := range seg.Pauses {
		covered += p.Duration()
	}

	epsilon := 5 * time.Millisecond
	if diff := covered - seg.TotalDuration; diff < -epsilon || diff > epsilon {
		t.Errorf("Segments+pauses cover %s, expected total %s", covered, seg.TotalDuration)
	}

	// Regions must be sorted and non-overlapping.
	prev := time.Duration(-1)
	for _, s := range seg.Segments {
		if s.Start <= prev {
			t.Errorf("Segments out of order at %s", s.Start)
		}
		if s.End <= s.Start {
			t.Errorf("Segment with non-positive duration at %s", s.Start)
		}
		prev = s.Start
	}
}

func TestDetectNoSpeech(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	samples := silence(nil, 2*time.Second)
	_, err := d.Detect(buffer(samples))

	if !errors.Is(err, ErrNoSpeechDetected) {
		t.Fatalf("Expected ErrNoSpeechDetected, got %v", err)
	}
}

func TestDetectTransientSpikeSuppressed(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	// A 50ms click inside silence is below the minimum segment length and
	// must not produce a speech segment.
	var samples []float64
	samples = silence(samples, time.Second)
	samples = tone(samples, 200, 50*time.Millisecond, 0.8)
	samples = silence(samples, time.Second)

	_, err := d.Detect(buffer(samples))
	if !errors.Is(err, ErrNoSpeechDetected) {
		t.Fatalf("Expected ErrNoSpeechDetected after spike suppression, got %v", err)
	}
}

func TestDetectBriefDipMerged(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	// A 100ms dip is below the minimum pause length and should be
	// absorbed into one continuous speech segment.
	var samples []float64
	samples = tone(samples, 200, time.Second, 0.6)
	samples = silence(samples, 100*time.Millisecond)
	samples = tone(samples, 200, time.Second, 0.6)

	seg, err := d.Detect(buffer(samples))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(seg.Segments) != 1 {
		t.Errorf("Expected 1 merged segment, got %d", len(seg.Segments))
	}

	if len(seg.Pauses) != 0 {
		t.Errorf("Expected 0 pauses, got %d", len(seg.Pauses))
	}
}

func TestDetectContinuousSpeechHasZeroPauses(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	samples := tone(nil, 200, 2*time.Second, 0.6)
	seg, err := d.Detect(buffer(samples))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(seg.Pauses) != 0 {
		t.Errorf("Expected zero pauses for continuous speech, got %d", len(seg.Pauses))
	}

	speaking := seg.SpeakingDuration()
	if diff := speaking - seg.TotalDuration; diff < -5*time.Millisecond || diff > 5*time.Millisecond {
		t.Errorf("Expected speaking duration ~%s, got %s", seg.TotalDuration, speaking)
	}
}

func TestDetectNoiseLikeFramesRejected(t *testing.T) {
	d, _ := NewDetector(testVADConfig())

	// Alternating-sign samples have a zero-crossing rate near 1. At a
	// moderate level they must be vetoed by the ZCR ceiling.
	n := 2 * testSampleRate
	samples := make([]float64, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.04
		} else {
			samples[i] = -0.04
		}
	}

	_, err := d.Detect(buffer(samples))
	if !errors.Is(err, ErrNoSpeechDetected) {
		t.Fatalf("Expected noise-like input to yield ErrNoSpeechDetected, got %v", err)
	}
}
