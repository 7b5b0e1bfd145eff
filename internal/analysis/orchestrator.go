package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/classify"
	"github.com/davidgin/therapy-assistant-agent/internal/features"
	"github.com/davidgin/therapy-assistant-agent/internal/metrics"
	"github.com/davidgin/therapy-assistant-agent/internal/speech"
	"github.com/davidgin/therapy-assistant-agent/internal/transcription"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

// State tracks an analysis request through its lifecycle.
type State string

const (
	StateValidating        State = "validating"
	StateProcessing        State = "processing"
	StateAggregating       State = "aggregating"
	StateComplete          State = "complete"
	StatePartiallyComplete State = "partially_complete"
	StateFailed            State = "failed"
)

// Result flags describing degraded outcomes.
const (
	FlagTranscriptionFailed = "transcription_failed"
	FlagDegenerateVoicing   = "degenerate_voicing"
)

// Transcriber is the transcription dependency. The production
// implementation is *transcription.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Response, error)
}

// Config contains orchestration parameters.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout)
	}
	return nil
}

// Request is one recording submitted for analysis.
type Request struct {
	AudioData  []byte
	Encoding   string
	SampleRate int
	Language   string
	SessionID  string
}

// SegmentSummary is the per-segment timing exposed in results.
type SegmentSummary struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	MeanEnergy float64 `json:"mean_energy"`
}

// Result is the complete analysis outcome for one recording.
type Result struct {
	RequestID string   `json:"request_id"`
	SessionID string   `json:"session_id,omitempty"`
	State     State    `json:"state"`
	Flags     []string `json:"flags,omitempty"`

	Duration         float64          `json:"duration_seconds"`
	SpeakingDuration float64          `json:"speaking_duration_seconds"`
	Segments         []SegmentSummary `json:"segments"`

	Features       *features.Vector        `json:"features"`
	Classification classify.Classification `json:"classification"`
	Speech         speech.Metrics          `json:"speech_metrics"`

	Transcript           string  `json:"transcript"`
	TranscriptConfidence float32 `json:"transcript_confidence"`

	// OverallConfidence summarizes how much signal the analysis had to
	// work with, independent of any single classifier axis.
	OverallConfidence float64 `json:"overall_confidence"`

	ProcessedAt time.Time `json:"processed_at"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

type transcriptOutcome struct {
	response *transcription.Response
	err      error
}

// Analyzer runs the full pipeline for incoming recordings.
type Analyzer struct {
	config       Config
	preprocessor *audio.Preprocessor
	detector     *vad.Detector
	extractor    *features.Extractor
	classifier   *classify.Classifier
	calculator   *speech.Calculator
	transcriber  Transcriber // nil when transcription is disabled
	metrics      *metrics.Metrics
	logger       *slog.Logger
	semaphore    chan struct{}
}

// NewAnalyzer wires the pipeline stages together. transcriber and m may
// be nil; the analyzer then skips transcription and instrumentation.
func NewAnalyzer(
	config Config,
	preprocessor *audio.Preprocessor,
	detector *vad.Detector,
	extractor *features.Extractor,
	classifier *classify.Classifier,
	calculator *speech.Calculator,
	transcriber Transcriber,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}
	if preprocessor == nil || detector == nil || extractor == nil ||
		classifier == nil || calculator == nil {
		return nil, fmt.Errorf("all pipeline stages must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		config:       config,
		preprocessor: preprocessor,
		detector:     detector,
		extractor:    extractor,
		classifier:   classifier,
		calculator:   calculator,
		transcriber:  transcriber,
		metrics:      m,
		logger:       logger,
		semaphore:    make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Analyze runs the pipeline for one recording. Admission is fail-fast:
// when MaxConcurrent analyses are already in flight the request is
// rejected with ErrServiceBusy rather than queued, so callers see
// backpressure immediately.
func (a *Analyzer) Analyze(ctx context.Context, request *Request) (*Result, error) {
	if len(request.AudioData) == 0 {
		return nil, ErrEmptyAudio
	}

	select {
	case a.semaphore <- struct{}{}:
		defer func() { <-a.semaphore }()
	default:
		if a.metrics != nil {
			a.metrics.RecordAnalysisRejected()
		}
		return nil, ErrServiceBusy
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	requestID := uuid.New().String()
	started := time.Now()
	logger := a.logger.With(
		slog.String("request_id", requestID),
		slog.String("session_id", request.SessionID))

	if a.metrics != nil {
		a.metrics.RecordAnalysisStarted()
	}

	result, err := a.run(ctx, requestID, request, logger)
	elapsed := time.Since(started)

	if err != nil {
		logger.Error("Analysis failed",
			slog.String("state", string(StateFailed)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		if a.metrics != nil {
			a.metrics.RecordAnalysisFinished(string(StateFailed), elapsed.Seconds())
		}
		return nil, err
	}

	result.ElapsedMS = elapsed.Milliseconds()
	logger.Info("Analysis finished",
		slog.String("state", string(result.State)),
		slog.Duration("elapsed", elapsed),
		slog.Float64("duration", result.Duration),
		slog.String("tone", result.Classification.Tone.Category))
	if a.metrics != nil {
		a.metrics.RecordAnalysisFinished(string(result.State), elapsed.Seconds())
	}
	return result, nil
}

func (a *Analyzer) run(ctx context.Context, requestID string, request *Request, logger *slog.Logger) (*Result, error) {
	logger.Debug("Analysis state change", slog.String("state", string(StateValidating)))

	buf, err := runStage(a, "preprocess", func() (*audio.Buffer, error) {
		return a.preprocessor.Process(request.AudioData, request.Encoding, request.SampleRate)
	})
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordRecordingDuration(buf.Duration().Seconds())
	}

	logger.Debug("Analysis state change", slog.String("state", string(StateProcessing)))

	// The transcription branch uploads the cleaned audio while the
	// signal branch runs locally; both share the request deadline.
	transcriptCh := a.startTranscription(ctx, requestID, request, buf, logger)

	result := &Result{
		RequestID:   requestID,
		SessionID:   request.SessionID,
		Duration:    buf.Duration().Seconds(),
		ProcessedAt: time.Now().UTC(),
	}

	seg, err := runStage(a, "vad", func() (*vad.Segmentation, error) {
		return a.detector.Detect(buf)
	})
	if err != nil {
		if errors.Is(err, vad.ErrNoSpeechDetected) {
			logger.Info("No speech detected in recording",
				slog.Float64("duration", result.Duration))
			if a.metrics != nil {
				a.metrics.RecordNoSpeech()
			}
		}
		// The transcription goroutine, if started, delivers into a
		// buffered channel and exits on its own.
		return nil, err
	}
	if a.metrics != nil && seg.TotalDuration > 0 {
		a.metrics.RecordSegmentation(len(seg.Segments),
			seg.SpeakingDuration().Seconds()/seg.TotalDuration.Seconds())
	}

	vec, err := runStage(a, "features", func() (*features.Vector, error) {
		return a.extractor.Extract(buf, seg)
	})
	if err != nil {
		return nil, err
	}
	result.Features = vec
	result.SpeakingDuration = seg.SpeakingDuration().Seconds()
	result.Segments = summarize(seg)

	result.Classification = a.classifier.Classify(vec)
	if result.Classification.Degenerate {
		result.Flags = append(result.Flags, FlagDegenerateVoicing)
	}
	if a.metrics != nil {
		a.metrics.RecordClassification(
			result.Classification.Tone.Category,
			result.Classification.Tone.Confidence,
			result.Classification.Degenerate)
	}

	logger.Debug("Analysis state change", slog.String("state", string(StateAggregating)))

	transcript := a.collectTranscript(result, transcriptCh, logger)
	result.Speech = a.calculator.Calculate(transcript, seg)
	result.OverallConfidence = overallConfidence(result)

	if result.State == "" {
		result.State = StateComplete
	}
	return result, nil
}

// startTranscription launches the upload in the background and returns
// the channel the outcome arrives on, or nil when transcription is off.
func (a *Analyzer) startTranscription(ctx context.Context, requestID string, request *Request, buf *audio.Buffer, logger *slog.Logger) <-chan transcriptOutcome {
	if a.transcriber == nil {
		return nil
	}

	ch := make(chan transcriptOutcome, 1)
	go func() {
		started := time.Now()
		if a.metrics != nil {
			a.metrics.RecordTranscriptionRequest()
		}

		wavData, err := audio.EncodeWAV(buf.Samples, buf.SampleRate)
		if err != nil {
			ch <- transcriptOutcome{err: fmt.Errorf("failed to encode audio for transcription: %w", err)}
			return
		}

		response, err := a.transcriber.Transcribe(ctx, &transcription.Request{
			RequestID:  requestID,
			AudioData:  wavData,
			SampleRate: buf.SampleRate,
			Duration:   buf.Duration(),
			Language:   request.Language,
		})
		if a.metrics != nil {
			if err != nil {
				a.metrics.RecordTranscriptionFailure(time.Since(started).Seconds())
			} else {
				a.metrics.RecordTranscriptionSuccess(time.Since(started).Seconds())
			}
		}
		if err != nil {
			logger.Warn("Transcription failed", slog.String("error", err.Error()))
		}
		ch <- transcriptOutcome{response: response, err: err}
	}()
	return ch
}

// collectTranscript joins the transcription branch. A failed or absent
// transcription degrades the result to partially complete; the acoustic
// results stand on their own.
func (a *Analyzer) collectTranscript(result *Result, ch <-chan transcriptOutcome, logger *slog.Logger) string {
	if ch == nil {
		return ""
	}

	outcome := <-ch
	if outcome.err != nil {
		result.State = StatePartiallyComplete
		result.Flags = append(result.Flags, FlagTranscriptionFailed)
		return ""
	}

	result.Transcript = outcome.response.Text
	result.TranscriptConfidence = outcome.response.Confidence
	logger.Debug("Transcript received",
		slog.Int("length", len(outcome.response.Text)),
		slog.Float64("confidence", float64(outcome.response.Confidence)))
	return outcome.response.Text
}

// runStage wraps one pipeline step with timing and error metrics.
func runStage[T any](a *Analyzer, name string, fn func() (T, error)) (T, error) {
	started := time.Now()
	value, err := fn()
	if a.metrics != nil {
		a.metrics.RecordStage(name, time.Since(started).Seconds())
		if err != nil {
			a.metrics.RecordStageError(name)
		}
	}
	return value, err
}

func summarize(seg *vad.Segmentation) []SegmentSummary {
	out := make([]SegmentSummary, len(seg.Segments))
	for i, s := range seg.Segments {
		out[i] = SegmentSummary{
			Start:      s.Start.Seconds(),
			End:        s.End.Seconds(),
			MeanEnergy: s.MeanEnergy,
		}
	}
	return out
}

// overallConfidence is a coarse heuristic over the amount of usable
// signal: longer recordings, audible energy, and a non-trivial
// transcript each add to a 0.5 base, capped at 1.
func overallConfidence(result *Result) float64 {
	confidence := 0.5
	if result.Duration >= 3.0 {
		confidence += 0.2
	}
	if result.Features != nil && result.Features.EnergyMean > 0.01 {
		confidence += 0.2
	}
	if result.Speech.WordCount > 5 {
		confidence += 0.1
	}
	if result.Classification.Degenerate {
		confidence = 0.5 * confidence
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
