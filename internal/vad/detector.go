package vad

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
)

// ErrNoSpeechDetected indicates that no analysis frame was classified as
// speech, so there is nothing to analyze. It is fatal for the request.
var ErrNoSpeechDetected = errors.New("no speech detected in recording")

// Config contains voice activity detection parameters.
type Config struct {
	FrameDuration   time.Duration // analysis window length (typically 20-30ms)
	OverlapRatio    float64       // window overlap, [0, 1)
	EnergyThreshold float64       // frame RMS at or above this is speech-like
	ZCRCeiling      float64       // frames above this zero-crossing rate are noise-like
	MinSpeechDur    time.Duration // speech runs shorter than this are spikes
	MinPauseDur     time.Duration // silences shorter than this are intra-speech dips
}

// SpeechSegment is a continuous region of detected speech.
type SpeechSegment struct {
	Start       time.Duration `json:"start"`
	End         time.Duration `json:"end"`
	MeanEnergy  float64       `json:"mean_energy"`
	StartSample int           `json:"-"`
	EndSample   int           `json:"-"`
}

// Duration returns the segment length.
func (s SpeechSegment) Duration() time.Duration {
	return s.End - s.Start
}

// PauseInterval is a continuous region of detected silence long enough to
// count as a pause rather than a dip between syllables.
type PauseInterval struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns the pause length.
func (p PauseInterval) Duration() time.Duration {
	return p.End - p.Start
}

// Segmentation is the complete partition of a recording into speech
// segments and pauses. Segments and pauses are sorted by start time,
// non-overlapping, and together cover [0, TotalDuration).
type Segmentation struct {
	Segments      []SpeechSegment
	Pauses        []PauseInterval
	TotalDuration time.Duration
}

// SpeakingDuration returns the sum of all speech segment durations.
func (sg *Segmentation) SpeakingDuration() time.Duration {
	var total time.Duration
	for _, s := range sg.Segments {
		total += s.Duration()
	}
	return total
}

// PauseDurations returns the duration of each pause in order.
func (sg *Segmentation) PauseDurations() []time.Duration {
	durations := make([]time.Duration, len(sg.Pauses))
	for i, p := range sg.Pauses {
		durations[i] = p.Duration()
	}
	return durations
}

// Detector partitions audio buffers into speech and silence. It is
// stateless and safe for concurrent use.
type Detector struct {
	config Config
}

// NewDetector creates a detector and validates its configuration.
func NewDetector(config Config) (*Detector, error) {
	if config.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %s", config.FrameDuration)
	}

	if config.OverlapRatio < 0 || config.OverlapRatio >= 1 {
		return nil, fmt.Errorf("overlap ratio must be in [0, 1), got %f", config.OverlapRatio)
	}

	if config.EnergyThreshold <= 0 {
		return nil, fmt.Errorf("energy threshold must be positive, got %f", config.EnergyThreshold)
	}

	if config.ZCRCeiling <= 0 || config.ZCRCeiling > 1 {
		return nil, fmt.Errorf("zcr ceiling must be in (0, 1], got %f", config.ZCRCeiling)
	}

	if config.MinSpeechDur <= 0 {
		return nil, fmt.Errorf("min speech duration must be positive, got %s", config.MinSpeechDur)
	}

	if config.MinPauseDur <= 0 {
		return nil, fmt.Errorf("min pause duration must be positive, got %s", config.MinPauseDur)
	}

	return &Detector{config: config}, nil
}

// Detect slides an overlapping analysis window across the buffer,
// classifies each frame as speech or silence, and merges frames into the
// final segmentation. Returns ErrNoSpeechDetected when no speech frame
// survives classification and minimum-length filtering.
func (d *Detector) Detect(buf *audio.Buffer) (*Segmentation, error) {
	if buf == nil || buf.NumSamples() == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}

	frameLen := int(d.config.FrameDuration.Seconds() * float64(buf.SampleRate))
	if frameLen <= 0 {
		frameLen = 1
	}
	hop := int(float64(frameLen) * (1 - d.config.OverlapRatio))
	if hop <= 0 {
		hop = 1
	}

	n := buf.NumSamples()
	numFrames := (n + hop - 1) / hop

	speech := make([]bool, numFrames)
	energies := make([]float64, numFrames)
	anySpeech := false

	for i := 0; i < numFrames; i++ {
		start := i * hop
		end := start + frameLen
		if end > n {
			end = n
		}

		frame := buf.Samples[start:end]
		energy := frameRMS(frame)
		zcr := zeroCrossingRate(frame)
		energies[i] = energy

		// Energy decides; ZCR vetoes noise-like frames unless the
		// frame is decisively loud (voiceless fricatives).
		isSpeech := energy >= d.config.EnergyThreshold &&
			(zcr <= d.config.ZCRCeiling || energy >= 3*d.config.EnergyThreshold)

		speech[i] = isSpeech
		if isSpeech {
			anySpeech = true
		}
	}

	if !anySpeech {
		return nil, ErrNoSpeechDetected
	}

	hopDur := time.Duration(float64(hop) / float64(buf.SampleRate) * float64(time.Second))

	// Suppress transient spikes, then bridge brief intra-speech dips.
	minSpeechFrames := framesFor(d.config.MinSpeechDur, hopDur)
	minPauseFrames := framesFor(d.config.MinPauseDur, hopDur)
	suppressShortRuns(speech, true, minSpeechFrames)
	suppressShortRuns(speech, false, minPauseFrames)

	seg := d.buildSegmentation(buf, speech, energies, hop)
	if len(seg.Segments) == 0 {
		return nil, ErrNoSpeechDetected
	}

	return seg, nil
}

// buildSegmentation converts the smoothed per-frame speech mask into
// segments and pauses partitioning [0, duration). Each frame owns one hop
// of timeline; the final frame extends to the end of the buffer.
func (d *Detector) buildSegmentation(buf *audio.Buffer, speech []bool, energies []float64, hop int) *Segmentation {
	n := buf.NumSamples()
	seg := &Segmentation{TotalDuration: buf.Duration()}

	sampleTime := func(sample int) time.Duration {
		return time.Duration(float64(sample) / float64(buf.SampleRate) * float64(time.Second))
	}

	runStart := 0
	for i := 1; i <= len(speech); i++ {
		if i < len(speech) && speech[i] == speech[runStart] {
			continue
		}

		startSample := runStart * hop
		endSample := i * hop
		if i == len(speech) || endSample > n {
			endSample = n
		}

		if speech[runStart] {
			var energySum float64
			for f := runStart; f < i; f++ {
				energySum += energies[f]
			}

			seg.Segments = append(seg.Segments, SpeechSegment{
				Start:       sampleTime(startSample),
				End:         sampleTime(endSample),
				MeanEnergy:  energySum / float64(i-runStart),
				StartSample: startSample,
				EndSample:   endSample,
			})
		} else {
			seg.Pauses = append(seg.Pauses, PauseInterval{
				Start: sampleTime(startSample),
				End:   sampleTime(endSample),
			})
		}

		runStart = i
	}

	return seg
}

// suppressShortRuns flips runs of the given value shorter than minFrames.
func suppressShortRuns(mask []bool, value bool, minFrames int) {
	if minFrames <= 1 {
		return
	}

	runStart := -1
	for i := 0; i <= len(mask); i++ {
		if i < len(mask) && mask[i] == value {
			if runStart < 0 {
				runStart = i
			}
			continue
		}

		if runStart >= 0 && i-runStart < minFrames {
			for f := runStart; f < i; f++ {
				mask[f] = !value
			}
		}
		runStart = -1
	}
}

// framesFor returns the number of hop-length frames covering a duration.
func framesFor(d, hopDur time.Duration) int {
	if hopDur <= 0 {
		return 1
	}
	frames := int(math.Ceil(float64(d) / float64(hopDur)))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// frameRMS computes the root-mean-square amplitude of one frame.
func frameRMS(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose
// signs differ.
func zeroCrossingRate(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}
