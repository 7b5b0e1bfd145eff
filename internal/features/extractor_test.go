package features

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

const testSampleRate = 16000

func testFeatureConfig() Config {
	return Config{
		FrameDuration:    32 * time.Millisecond,
		OverlapRatio:     0.5,
		PitchMinHz:       50,
		PitchMaxHz:       500,
		VoicingThreshold: 0.3,
		RolloffFraction:  0.85,
	}
}

func sineBuffer(freq float64, duration time.Duration, amplitude float64) *audio.Buffer {
	n := int(duration.Seconds() * testSampleRate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate)
	}
	return &audio.Buffer{Samples: samples, SampleRate: testSampleRate}
}

func fullSegmentation(buf *audio.Buffer) *vad.Segmentation {
	return &vad.Segmentation{
		Segments: []vad.SpeechSegment{{
			Start:       0,
			End:         buf.Duration(),
			StartSample: 0,
			EndSample:   buf.NumSamples(),
			MeanEnergy:  buf.RMS(),
		}},
		TotalDuration: buf.Duration(),
	}
}

func TestNewExtractorValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero frame duration", func(c *Config) { c.FrameDuration = 0 }, true},
		{"overlap ratio one", func(c *Config) { c.OverlapRatio = 1 }, true},
		{"inverted pitch band", func(c *Config) { c.PitchMinHz = 500; c.PitchMaxHz = 50 }, true},
		{"voicing threshold one", func(c *Config) { c.VoicingThreshold = 1 }, true},
		{"zero rolloff fraction", func(c *Config) { c.RolloffFraction = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testFeatureConfig()
			tt.modify(&cfg)
			_, err := NewExtractor(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExtractor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractPitchOfSine(t *testing.T) {
	e, err := NewExtractor(testFeatureConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	buf := sineBuffer(200, 2*time.Second, 0.6)
	v, err := e.Extract(buf, fullSegmentation(buf))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// A pure 200 Hz tone should pitch-track to ~200 Hz on every frame.
	if math.Abs(v.PitchMean-200) > 10 {
		t.Errorf("Expected pitch mean ~200 Hz, got %f", v.PitchMean)
	}

	if v.VoicedFraction < 0.95 {
		t.Errorf("Expected near-total voicing for a pure tone, got %f", v.VoicedFraction)
	}

	if v.PitchVariance < 0 {
		t.Errorf("Pitch variance must be non-negative, got %f", v.PitchVariance)
	}

	// Spectral centroid of a 200 Hz tone sits near the tone frequency.
	if v.SpectralCentroid < 100 || v.SpectralCentroid > 500 {
		t.Errorf("Expected spectral centroid near 200 Hz, got %f", v.SpectralCentroid)
	}

	if v.SpectralRolloff < v.SpectralCentroid*0.5 {
		t.Errorf("Rolloff %f implausibly below centroid %f", v.SpectralRolloff, v.SpectralCentroid)
	}

	// ZCR of a 200 Hz sine at 16 kHz is 2*200/16000.
	if math.Abs(v.ZeroCrossingRate-0.025) > 0.01 {
		t.Errorf("Expected ZCR ~0.025, got %f", v.ZeroCrossingRate)
	}
}

func TestExtractInvariants(t *testing.T) {
	e, _ := NewExtractor(testFeatureConfig())

	buf := sineBuffer(150, time.Second, 0.4)
	v, err := e.Extract(buf, fullSegmentation(buf))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if v.VoicedFraction < 0 || v.VoicedFraction > 1 {
		t.Errorf("Voiced fraction out of [0,1]: %f", v.VoicedFraction)
	}

	if v.EnergyVariance < 0 {
		t.Errorf("Energy variance must be non-negative, got %f", v.EnergyVariance)
	}

	for name, value := range v.Dimensions() {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			t.Errorf("Dimension %s is not finite: %f", name, value)
		}
	}
}

func TestExtractDeterminism(t *testing.T) {
	e, _ := NewExtractor(testFeatureConfig())

	buf := sineBuffer(180, 1500*time.Millisecond, 0.5)
	seg := fullSegmentation(buf)

	v1, err := e.Extract(buf, seg)
	if err != nil {
		t.Fatalf("First extract failed: %v", err)
	}

	v2, err := e.Extract(buf, seg)
	if err != nil {
		t.Fatalf("Second extract failed: %v", err)
	}

	if *v1 != *v2 {
		t.Errorf("Extraction is not deterministic:\nfirst:  %+v\nsecond: %+v", v1, v2)
	}
}

func TestExtractUnvoicedNoise(t *testing.T) {
	e, _ := NewExtractor(testFeatureConfig())

	// Seeded noise has no periodic structure in the voice band; every
	// frame must be marked unvoiced and pitch stays 0.
	rng := rand.New(rand.NewSource(42))
	n := testSampleRate
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.6*rng.Float64() - 0.3
	}
	buf := &audio.Buffer{Samples: samples, SampleRate: testSampleRate}

	v, err := e.Extract(buf, fullSegmentation(buf))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if v.VoicedFraction != 0 {
		t.Errorf("Expected zero voiced fraction for alternating noise, got %f", v.VoicedFraction)
	}

	if v.PitchMean != 0 || v.PitchVariance != 0 {
		t.Errorf("Expected zero pitch stats with no voiced frames, got mean=%f var=%f", v.PitchMean, v.PitchVariance)
	}
}

func TestExtractSegmentsTooShortForFrames(t *testing.T) {
	e, _ := NewExtractor(testFeatureConfig())

	// A segment shorter than one analysis frame yields no frames; all
	// statistics must default to zero rather than NaN.
	buf := sineBuffer(200, time.Second, 0.5)
	seg := &vad.Segmentation{
		Segments: []vad.SpeechSegment{{
			Start:       0,
			End:         10 * time.Millisecond,
			StartSample: 0,
			EndSample:   160,
		}},
		TotalDuration: buf.Duration(),
	}

	v, err := e.Extract(buf, seg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if v.EnergyMean != 0 || v.VoicedFraction != 0 || v.Tempo != 0 {
		t.Errorf("Expected zeroed vector for frameless input, got %+v", v)
	}
}
