// Package speech derives clinical speech metrics from a transcript and
// a voice activity segmentation: speaking rate, pause statistics, and a
// bounded fluency score.
package speech

import (
	"fmt"
	"math"
	"strings"

	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

// Config holds the reference points the fluency score is normalized
// against. The defaults reflect typical conversational speech; they are
// placeholder values pending clinical calibration.
type Config struct {
	// TargetWPM is the speaking rate treated as maximally fluent.
	TargetWPM float64
	// WPMTolerance is the deviation from TargetWPM at which the rate
	// component of the fluency score reaches zero.
	WPMTolerance float64
	// MaxPausesPerMinute is the pause frequency at which the pause
	// component of the fluency score reaches zero.
	MaxPausesPerMinute float64
	// MaxSegmentCV is the coefficient of variation of speech segment
	// lengths at which the variability component reaches zero.
	MaxSegmentCV float64
	// RateWeight, PauseWeight and VariabilityWeight blend the three
	// components. They must sum to a positive value; the score is
	// normalized by their sum.
	RateWeight        float64
	PauseWeight       float64
	VariabilityWeight float64
}

func DefaultConfig() Config {
	return Config{
		TargetWPM:          150,
		WPMTolerance:       100,
		MaxPausesPerMinute: 12,
		MaxSegmentCV:       1.0,
		RateWeight:         0.4,
		PauseWeight:        0.3,
		VariabilityWeight:  0.3,
	}
}

func (c *Config) Validate() error {
	if c.TargetWPM <= 0 {
		return fmt.Errorf("target WPM must be positive, got %g", c.TargetWPM)
	}
	if c.WPMTolerance <= 0 {
		return fmt.Errorf("WPM tolerance must be positive, got %g", c.WPMTolerance)
	}
	if c.MaxPausesPerMinute <= 0 {
		return fmt.Errorf("max pauses per minute must be positive, got %g", c.MaxPausesPerMinute)
	}
	if c.MaxSegmentCV <= 0 {
		return fmt.Errorf("max segment CV must be positive, got %g", c.MaxSegmentCV)
	}
	if c.RateWeight < 0 || c.PauseWeight < 0 || c.VariabilityWeight < 0 {
		return fmt.Errorf("weights must be non-negative, got rate=%g pause=%g variability=%g",
			c.RateWeight, c.PauseWeight, c.VariabilityWeight)
	}
	if c.RateWeight+c.PauseWeight+c.VariabilityWeight <= 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

// Metrics is the speech-timing summary for one recording.
type Metrics struct {
	WordCount        int     `json:"word_count"`
	SpeakingRateWPM  float64 `json:"speaking_rate_wpm"`
	SpeakingDuration float64 `json:"speaking_duration_seconds"`
	PauseCount       int     `json:"pause_count"`
	PausesPerMinute  float64 `json:"pauses_per_minute"`
	AvgPauseDuration float64 `json:"avg_pause_duration_seconds"`
	MaxPauseDuration float64 `json:"max_pause_duration_seconds"`
	SegmentLengthCV  float64 `json:"segment_length_cv"`
	FluencyScore     float64 `json:"fluency_score"`
}

// Calculator computes Metrics from transcripts and segmentations.
type Calculator struct {
	config Config
}

func NewCalculator(config Config) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid speech config: %w", err)
	}
	return &Calculator{config: config}, nil
}

// Calculate derives the metrics. The speaking rate divides words by
// speaking time, not recording time, so long silences do not deflate
// it; pause frequency divides by total recording time, so dense pauses
// in a short recording register as frequent. Both divisions guard the
// zero case and yield zero rather than NaN.
func (c *Calculator) Calculate(transcript string, seg *vad.Segmentation) Metrics {
	words := countWords(transcript)
	speaking := seg.SpeakingDuration().Seconds()
	total := seg.TotalDuration.Seconds()

	m := Metrics{
		WordCount:        words,
		SpeakingDuration: speaking,
		PauseCount:       len(seg.Pauses),
	}

	if speaking > 0 {
		m.SpeakingRateWPM = float64(words) / (speaking / 60.0)
	}
	if total > 0 {
		m.PausesPerMinute = float64(len(seg.Pauses)) / (total / 60.0)
	}

	if len(seg.Pauses) > 0 {
		var sum, max float64
		for _, d := range seg.PauseDurations() {
			secs := d.Seconds()
			sum += secs
			if secs > max {
				max = secs
			}
		}
		m.AvgPauseDuration = sum / float64(len(seg.Pauses))
		m.MaxPauseDuration = max
	}

	m.SegmentLengthCV = segmentLengthCV(seg.Segments)
	m.FluencyScore = c.fluency(m.SpeakingRateWPM, m.PausesPerMinute, m.SegmentLengthCV)
	return m
}

// fluency blends a speaking-rate component peaking at the target rate,
// a pause component falling linearly with pause frequency, and a
// variability component falling linearly with the spread of speech
// segment lengths. The result is clamped to [0, 1].
func (c *Calculator) fluency(wpm, pausesPerMinute, segmentCV float64) float64 {
	rate := 1.0 - clamp01(abs(wpm-c.config.TargetWPM)/c.config.WPMTolerance)
	pause := 1.0 - clamp01(pausesPerMinute/c.config.MaxPausesPerMinute)
	steadiness := 1.0 - clamp01(segmentCV/c.config.MaxSegmentCV)
	score := (c.config.RateWeight*rate + c.config.PauseWeight*pause + c.config.VariabilityWeight*steadiness) /
		(c.config.RateWeight + c.config.PauseWeight + c.config.VariabilityWeight)
	return clamp01(score)
}

// segmentLengthCV is the coefficient of variation of the speech segment
// durations. Fewer than two segments carry no variability and score
// zero.
func segmentLengthCV(segments []vad.SpeechSegment) float64 {
	if len(segments) < 2 {
		return 0
	}

	var sum float64
	for _, s := range segments {
		sum += (s.End - s.Start).Seconds()
	}
	mean := sum / float64(len(segments))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, s := range segments {
		d := (s.End - s.Start).Seconds() - mean
		variance += d * d
	}
	variance /= float64(len(segments))

	return math.Sqrt(variance) / mean
}

// countWords treats any whitespace-separated token as a word, matching
// how the transcription service reports its own word counts.
func countWords(transcript string) int {
	return len(strings.Fields(transcript))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
