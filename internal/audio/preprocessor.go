package audio

import (
	"bytes"
	"fmt"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Supported payload encodings.
const (
	EncodingWAV   = "wav"
	EncodingPCM16 = "pcm16"
)

// PreprocessorConfig contains audio preprocessing parameters.
type PreprocessorConfig struct {
	TargetSampleRate int           // canonical rate for all downstream stages
	MinDuration      time.Duration // recordings shorter than this are rejected
	SilenceRMS       float64       // whole-buffer RMS below this is treated as silence
	GateThreshold    float64       // frame RMS below GateThreshold*bufferRMS is attenuated
	TargetPeak       float64       // peak level after normalization, (0, 1]
}

// Preprocessor decodes raw audio payloads into canonical mono buffers.
// It is stateless and safe for concurrent use.
type Preprocessor struct {
	config PreprocessorConfig
}

// Soft gate attenuation keeps gated frames slightly above zero so the
// timeline stays intact for segmentation.
const gateAttenuation = 0.1

// Frame length used by the noise gate.
const gateFrameDuration = 20 * time.Millisecond

// NewPreprocessor creates a preprocessor and validates its configuration.
func NewPreprocessor(config PreprocessorConfig) (*Preprocessor, error) {
	if config.TargetSampleRate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", config.TargetSampleRate)
	}

	if config.MinDuration <= 0 {
		return nil, fmt.Errorf("min duration must be positive, got %s", config.MinDuration)
	}

	if config.SilenceRMS < 0 {
		return nil, fmt.Errorf("silence RMS cannot be negative, got %f", config.SilenceRMS)
	}

	if config.GateThreshold < 0 || config.GateThreshold >= 1 {
		return nil, fmt.Errorf("gate threshold must be in [0, 1), got %f", config.GateThreshold)
	}

	if config.TargetPeak <= 0 || config.TargetPeak > 1 {
		return nil, fmt.Errorf("target peak must be in (0, 1], got %f", config.TargetPeak)
	}

	return &Preprocessor{config: config}, nil
}

// Process decodes an audio payload and produces a canonical buffer at the
// target sample rate: mono, peak-normalized, noise-gated. declaredRate is
// only consulted for raw PCM payloads; WAV carries its own rate.
//
// Returns *DecodeError for malformed payloads and *InsufficientAudioError
// for recordings that are too short or silence-only.
func (p *Preprocessor) Process(data []byte, encoding string, declaredRate int) (*Buffer, error) {
	samples, sourceRate, err := p.decode(data, encoding, declaredRate)
	if err != nil {
		return nil, err
	}

	if sourceRate != p.config.TargetSampleRate {
		samples = resampleLinear(samples, sourceRate, p.config.TargetSampleRate)
	}

	buf := &Buffer{Samples: samples, SampleRate: p.config.TargetSampleRate}

	if buf.Duration() < p.config.MinDuration {
		return nil, &InsufficientAudioError{
			Duration: buf.Duration(),
			RMS:      buf.RMS(),
			Reason:   fmt.Sprintf("recording shorter than minimum %s", p.config.MinDuration),
		}
	}

	level := buf.RMS()
	if level < p.config.SilenceRMS {
		return nil, &InsufficientAudioError{
			Duration: buf.Duration(),
			RMS:      level,
			Reason:   "recording is silence-only",
		}
	}

	p.normalizePeak(buf.Samples)
	p.applyNoiseGate(buf)

	return buf, nil
}

// decode converts the raw payload into float64 samples plus the source rate.
func (p *Preprocessor) decode(data []byte, encoding string, declaredRate int) ([]float64, int, error) {
	switch encoding {
	case EncodingWAV:
		return p.decodeWAV(data)
	case EncodingPCM16:
		return p.decodePCM16(data, declaredRate)
	default:
		return nil, 0, &DecodeError{Encoding: encoding, Reason: "unsupported encoding"}
	}
}

// decodeWAV decodes a WAV payload, downmixing multi-channel audio to mono.
func (p *Preprocessor) decodeWAV(data []byte) ([]float64, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, &DecodeError{Encoding: EncodingWAV, Reason: "not a valid WAV file"}
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, &DecodeError{Encoding: EncodingWAV, Reason: err.Error()}
	}

	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, &DecodeError{Encoding: EncodingWAV, Reason: "missing format information"}
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	samples, err := downmix(buf, bitDepth)
	if err != nil {
		return nil, 0, &DecodeError{Encoding: EncodingWAV, Reason: err.Error()}
	}

	return samples, buf.Format.SampleRate, nil
}

// downmix averages the channels of an interleaved PCM buffer into mono
// float64 samples scaled to [-1, 1].
func downmix(buf *goaudio.IntBuffer, bitDepth int) ([]float64, error) {
	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, fmt.Errorf("no audio channels")
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("no audio data")
	}

	scale := float64(int64(1) << (bitDepth - 1))
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}

	return samples, nil
}

// decodePCM16 decodes raw little-endian 16-bit mono PCM at the declared rate.
func (p *Preprocessor) decodePCM16(data []byte, declaredRate int) ([]float64, int, error) {
	if declaredRate <= 0 {
		return nil, 0, &DecodeError{Encoding: EncodingPCM16, Reason: "sample rate metadata required for raw PCM"}
	}

	if len(data) == 0 || len(data)%2 != 0 {
		return nil, 0, &DecodeError{
			Encoding: EncodingPCM16,
			Reason:   fmt.Sprintf("payload length must be a positive multiple of 2, got %d", len(data)),
		}
	}

	samples := make([]float64, len(data)/2)
	for i := range samples {
		v := int16(data[2*i]) | int16(data[2*i+1])<<8
		samples[i] = float64(v) / 32768.0
	}

	return samples, declaredRate, nil
}

// normalizePeak scales the signal so its absolute peak equals the target
// level. A silent signal is left untouched.
func (p *Preprocessor) normalizePeak(samples []float64) {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return
	}

	gain := p.config.TargetPeak / peak
	for i := range samples {
		samples[i] *= gain
	}
}

// applyNoiseGate attenuates frames whose energy sits below the gate
// threshold relative to the whole-buffer RMS. Frames are attenuated in
// place rather than dropped so time offsets survive for the VAD.
func (p *Preprocessor) applyNoiseGate(buf *Buffer) {
	if p.config.GateThreshold == 0 {
		return
	}

	frameLen := int(gateFrameDuration.Seconds() * float64(buf.SampleRate))
	if frameLen <= 0 {
		return
	}

	floor := p.config.GateThreshold * buf.RMS()
	for start := 0; start < len(buf.Samples); start += frameLen {
		end := start + frameLen
		if end > len(buf.Samples) {
			end = len(buf.Samples)
		}

		frame := buf.Samples[start:end]
		if rms(frame) < floor {
			for i := range frame {
				frame[i] *= gateAttenuation
			}
		}
	}
}

// resampleLinear converts samples between rates by linear interpolation.
// It is deterministic and adequate for the narrowband features computed
// downstream.
func resampleLinear(samples []float64, sourceRate, targetRate int) []float64 {
	if sourceRate == targetRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}

	return out
}
