package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/classify"
	"github.com/davidgin/therapy-assistant-agent/internal/features"
	"github.com/davidgin/therapy-assistant-agent/internal/speech"
	"github.com/davidgin/therapy-assistant-agent/internal/transcription"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

const testSampleRate = 16000

// stubTranscriber returns a canned response or error, optionally
// blocking until released.
type stubTranscriber struct {
	text    string
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubTranscriber) Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Response, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &transcription.Response{
		RequestID:  request.RequestID,
		Text:       s.text,
		Confidence: 0.9,
	}, nil
}

func newTestAnalyzer(t *testing.T, config Config, transcriber Transcriber) *Analyzer {
	t.Helper()

	pre, err := audio.NewPreprocessor(audio.PreprocessorConfig{
		TargetSampleRate: testSampleRate,
		MinDuration:      500 * time.Millisecond,
		SilenceRMS:       0.001,
		GateThreshold:    0.05,
		TargetPeak:       0.9,
	})
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	detector, err := vad.NewDetector(vad.Config{
		FrameDuration:   25 * time.Millisecond,
		OverlapRatio:    0.5,
		EnergyThreshold: 0.02,
		ZCRCeiling:      0.25,
		MinSpeechDur:    100 * time.Millisecond,
		MinPauseDur:     300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	extractor, err := features.NewExtractor(features.Config{
		FrameDuration:    32 * time.Millisecond,
		OverlapRatio:     0.5,
		PitchMinHz:       50,
		PitchMaxHz:       500,
		VoicingThreshold: 0.3,
		RolloffFraction:  0.85,
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

	analyzer, err := NewAnalyzer(config, pre, detector, extractor, classifier, calculator, transcriber, nil, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	return analyzer
}

func testAnalysisConfig() Config {
	return Config{MaxConcurrent: 4, RequestTimeout: 30 * time.Second}
}

func pcm16Bytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func toneSamples(freq float64, duration time.Duration, amp float64) []float64 {
	n := int(duration.Seconds() * testSampleRate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate)
	}
	return samples
}

// speechWithPause is ~3.5s: 1.5s of tone, a 0.5s pause, 1.5s of tone.
func speechWithPause() []byte {
	var samples []float64
	samples = append(samples, toneSamples(200, 1500*time.Millisecond, 0.5)...)
	samples = append(samples, make([]float64, testSampleRate/2)...)
	samples = append(samples, toneSamples(200, 1500*time.Millisecond, 0.5)...)
	return pcm16Bytes(samples)
}

func testRequest() *Request {
	return &Request{
		AudioData:  speechWithPause(),
		Encoding:   audio.EncodingPCM16,
		SampleRate: testSampleRate,
		SessionID:  "session-1",
	}
}

func TestAnalyzeCompleteResult(t *testing.T) {
	transcriber := &stubTranscriber{text: "one two three four five six seven eight nine ten"}
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), transcriber)

	result, err := analyzer.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.State != StateComplete {
		t.Errorf("state = %s, want %s (flags %v)", result.State, StateComplete, result.Flags)
	}
	if result.RequestID == "" {
		t.Error("request ID not assigned")
	}
	if result.Transcript == "" {
		t.Error("transcript missing")
	}
	if len(result.Segments) < 1 {
		t.Fatal("no speech segments in result")
	}
	if result.Speech.WordCount != 10 {
		t.Errorf("word count = %d, want 10", result.Speech.WordCount)
	}
	if result.Speech.SpeakingRateWPM <= 0 {
		t.Errorf("speaking rate = %g, want positive", result.Speech.SpeakingRateWPM)
	}
	if result.Classification.Tone.Category == "" {
		t.Error("tone category missing")
	}
	if result.OverallConfidence <= 0 || result.OverallConfidence > 1 {
		t.Errorf("overall confidence = %g, want within (0, 1]", result.OverallConfidence)
	}
	if result.Duration < 3.0 || result.Duration > 4.0 {
		t.Errorf("duration = %g, want about 3.5", result.Duration)
	}
}

func TestAnalyzeTranscriptionFailureDegrades(t *testing.T) {
	transcriber := &stubTranscriber{err: errors.New("transcription backend down")}
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), transcriber)

	result, err := analyzer.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.State != StatePartiallyComplete {
		t.Errorf("state = %s, want %s", result.State, StatePartiallyComplete)
	}
	if !hasFlag(result, FlagTranscriptionFailed) {
		t.Errorf("flags = %v, want %s", result.Flags, FlagTranscriptionFailed)
	}
	// Acoustic results survive the failed branch.
	if result.Classification.Tone.Category == "" {
		t.Error("tone category missing despite acoustic analysis succeeding")
	}
	if result.Speech.SpeakingRateWPM != 0 {
		t.Errorf("speaking rate = %g, want 0 without transcript", result.Speech.SpeakingRateWPM)
	}
	if result.Speech.PauseCount < 1 {
		t.Errorf("pause count = %d, want pause metrics independent of transcript", result.Speech.PauseCount)
	}
}

func TestAnalyzeWithoutTranscriber(t *testing.T) {
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), nil)

	result, err := analyzer.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.State != StateComplete {
		t.Errorf("state = %s, want %s", result.State, StateComplete)
	}
	if result.Transcript != "" {
		t.Errorf("transcript = %q, want empty", result.Transcript)
	}
}

func TestAnalyzeEmptyAudio(t *testing.T) {
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), nil)

	_, err := analyzer.Analyze(context.Background(), &Request{Encoding: audio.EncodingPCM16})
	if !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("error = %v, want ErrEmptyAudio", err)
	}
}

func TestAnalyzeRejectsWhenBusy(t *testing.T) {
	transcriber := &stubTranscriber{
		text:    "held",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	analyzer := newTestAnalyzer(t, Config{MaxConcurrent: 1, RequestTimeout: 30 * time.Second}, transcriber)

	done := make(chan error, 1)
	go func() {
		_, err := analyzer.Analyze(context.Background(), testRequest())
		done <- err
	}()

	// Wait until the first request is inside the pipeline.
	select {
	case <-transcriber.started:
	case <-time.After(10 * time.Second):
		t.Fatal("first request never reached transcription")
	}

	_, err := analyzer.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrServiceBusy) {
		t.Errorf("error = %v, want ErrServiceBusy", err)
	}

	close(transcriber.release)
	if err := <-done; err != nil {
		t.Errorf("first request failed: %v", err)
	}
}

func TestAnalyzeNoSpeech(t *testing.T) {
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), nil)

	// A 40ms click followed by near-silence: the click is too short to
	// count as speech and everything else is below the energy floor.
	var samples []float64
	samples = append(samples, toneSamples(200, 40*time.Millisecond, 1.0)...)
	quiet := make([]float64, testSampleRate*5/2)
	for i := range quiet {
		quiet[i] = 0.001 * math.Sin(2*math.Pi*100*float64(i)/testSampleRate)
	}
	samples = append(samples, quiet...)

	result, err := analyzer.Analyze(context.Background(), &Request{
		AudioData:  pcm16Bytes(samples),
		Encoding:   audio.EncodingPCM16,
		SampleRate: testSampleRate,
	})
	if !errors.Is(err, vad.ErrNoSpeechDetected) {
		t.Fatalf("error = %v, want ErrNoSpeechDetected", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil for a silence-only recording", result)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	analyzer := newTestAnalyzer(t, testAnalysisConfig(), nil)
	request := testRequest()

	first, err := analyzer.Analyze(context.Background(), request)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	second, err := analyzer.Analyze(context.Background(), request)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if fmt.Sprintf("%+v", first.Features) != fmt.Sprintf("%+v", second.Features) {
		t.Error("feature vectors differ between identical runs")
	}
	if first.Classification.Tone.Category != second.Classification.Tone.Category {
		t.Error("tone classification differs between identical runs")
	}
	if first.Speech != second.Speech {
		t.Error("speech metrics differ between identical runs")
	}
}

func hasFlag(result *Result, flag string) bool {
	for _, f := range result.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
