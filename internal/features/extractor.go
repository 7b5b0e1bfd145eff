package features

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/davidgin/therapy-assistant-agent/internal/audio"
	"github.com/davidgin/therapy-assistant-agent/internal/vad"
)

// Config contains feature extraction parameters.
type Config struct {
	FrameDuration    time.Duration // analysis frame length
	OverlapRatio     float64       // frame overlap, [0, 1)
	PitchMinHz       float64       // lower bound of the plausible voice band
	PitchMaxHz       float64       // upper bound of the plausible voice band
	VoicingThreshold float64       // minimum normalized autocorrelation peak for a voiced frame
	RolloffFraction  float64       // spectral energy fraction for the rolloff frequency
}

// Vector is the aggregated feature statistics for one recording. All
// statistics are taken over speech frames only; fields default to 0 when
// no frame qualifies, never NaN.
type Vector struct {
	PitchMean         float64 `json:"pitch_mean"`         // Hz, voiced frames only
	PitchVariance     float64 `json:"pitch_variance"`     // Hz², voiced frames only
	VoicedFraction    float64 `json:"voiced_fraction"`    // voiced / total speech frames
	EnergyMean        float64 `json:"energy_mean"`        // frame RMS mean
	EnergyVariance    float64 `json:"energy_variance"`    // frame RMS variance
	SpectralCentroid  float64 `json:"spectral_centroid"`  // Hz
	SpectralBandwidth float64 `json:"spectral_bandwidth"` // Hz
	SpectralRolloff   float64 `json:"spectral_rolloff"`   // Hz
	ZeroCrossingRate  float64 `json:"zero_crossing_rate"` // crossings per sample pair
	Tempo             float64 `json:"tempo"`              // energy-envelope peaks per second
}

// Dimensions returns the vector as named dimensions for profile matching.
func (v *Vector) Dimensions() map[string]float64 {
	return map[string]float64{
		"pitch_mean":         v.PitchMean,
		"pitch_variance":     v.PitchVariance,
		"voiced_fraction":    v.VoicedFraction,
		"energy_mean":        v.EnergyMean,
		"energy_variance":    v.EnergyVariance,
		"spectral_centroid":  v.SpectralCentroid,
		"spectral_bandwidth": v.SpectralBandwidth,
		"spectral_rolloff":   v.SpectralRolloff,
		"zero_crossing_rate": v.ZeroCrossingRate,
		"tempo":              v.Tempo,
	}
}

// Extractor computes feature vectors over the speech regions of a buffer.
// It is stateless and safe for concurrent use.
type Extractor struct {
	config Config
}

// NewExtractor creates an extractor and validates its configuration.
func NewExtractor(config Config) (*Extractor, error) {
	if config.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %s", config.FrameDuration)
	}

	if config.OverlapRatio < 0 || config.OverlapRatio >= 1 {
		return nil, fmt.Errorf("overlap ratio must be in [0, 1), got %f", config.OverlapRatio)
	}

	if config.PitchMinHz <= 0 || config.PitchMaxHz <= config.PitchMinHz {
		return nil, fmt.Errorf("pitch band [%f, %f] is invalid", config.PitchMinHz, config.PitchMaxHz)
	}

	if config.VoicingThreshold <= 0 || config.VoicingThreshold >= 1 {
		return nil, fmt.Errorf("voicing threshold must be in (0, 1), got %f", config.VoicingThreshold)
	}

	if config.RolloffFraction <= 0 || config.RolloffFraction > 1 {
		return nil, fmt.Errorf("rolloff fraction must be in (0, 1], got %f", config.RolloffFraction)
	}

	return &Extractor{config: config}, nil
}

// Extract computes the aggregate feature vector over the speech segments
// of the buffer. The result is deterministic for identical inputs.
func (e *Extractor) Extract(buf *audio.Buffer, seg *vad.Segmentation) (*Vector, error) {
	if buf == nil || buf.NumSamples() == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}

	if seg == nil {
		return nil, fmt.Errorf("missing segmentation")
	}

	frameLen := int(e.config.FrameDuration.Seconds() * float64(buf.SampleRate))
	if frameLen < 2 {
		return nil, fmt.Errorf("frame duration %s too short for sample rate %d", e.config.FrameDuration, buf.SampleRate)
	}
	hop := int(float64(frameLen) * (1 - e.config.OverlapRatio))
	if hop <= 0 {
		hop = 1
	}

	fft := fourier.NewFFT(frameLen)
	window := hammingWindow(frameLen)
	windowed := make([]float64, frameLen)

	var (
		pitches    []float64
		energies   []float64
		zcrs       []float64
		centroids  []float64
		bandwidths []float64
		rolloffs   []float64
		total      int
	)

	for _, s := range seg.Segments {
		for start := s.StartSample; start+frameLen <= s.EndSample && start+frameLen <= buf.NumSamples(); start += hop {
			frame := buf.Samples[start : start+frameLen]
			total++

			energies = append(energies, frameRMS(frame))
			zcrs = append(zcrs, zeroCrossingRate(frame))

			if f0, voiced := e.estimatePitch(frame, buf.SampleRate); voiced {
				pitches = append(pitches, f0)
			}

			for i, sample := range frame {
				windowed[i] = sample * window[i]
			}
			coeffs := fft.Coefficients(nil, windowed)
			magnitudes := spectrumMagnitudes(coeffs)

			centroid, bandwidth := spectralCentroidBandwidth(magnitudes, buf.SampleRate, frameLen)
			centroids = append(centroids, centroid)
			bandwidths = append(bandwidths, bandwidth)
			rolloffs = append(rolloffs, spectralRolloff(magnitudes, buf.SampleRate, frameLen, e.config.RolloffFraction))
		}
	}

	v := &Vector{
		EnergyMean:        mean(energies),
		EnergyVariance:    variance(energies),
		SpectralCentroid:  mean(centroids),
		SpectralBandwidth: mean(bandwidths),
		SpectralRolloff:   mean(rolloffs),
		ZeroCrossingRate:  mean(zcrs),
		PitchMean:         mean(pitches),
		PitchVariance:     variance(pitches),
	}

	if total > 0 {
		v.VoicedFraction = float64(len(pitches)) / float64(total)
	}

	v.Tempo = envelopeTempo(energies, seg.SpeakingDuration())

	return v, nil
}

// estimatePitch finds the fundamental frequency of a frame via normalized
// autocorrelation restricted to the configured voice band. It reports
// voiced=false when no sufficiently strong periodic peak exists.
func (e *Extractor) estimatePitch(frame []float64, sampleRate int) (float64, bool) {
	var r0 float64
	for _, s := range frame {
		r0 += s * s
	}
	if r0 == 0 {
		return 0, false
	}

	minLag := int(float64(sampleRate) / e.config.PitchMaxHz)
	maxLag := int(float64(sampleRate) / e.config.PitchMinHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(frame) {
		maxLag = len(frame) - 1
	}
	if minLag > maxLag {
		return 0, false
	}

	bestLag := 0
	bestValue := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i < len(frame)-lag; i++ {
			sum += frame[i] * frame[i+lag]
		}
		if sum > bestValue {
			bestValue = sum
			bestLag = lag
		}
	}

	if bestLag == 0 || bestValue/r0 < e.config.VoicingThreshold {
		return 0, false
	}

	return float64(sampleRate) / float64(bestLag), true
}

// spectrumMagnitudes converts real-FFT coefficients to a magnitude
// spectrum up to the Nyquist frequency.
func spectrumMagnitudes(coeffs []complex128) []float64 {
	magnitudes := make([]float64, len(coeffs))
	for i, c := range coeffs {
		magnitudes[i] = cmplx.Abs(c)
	}
	return magnitudes
}

// spectralCentroidBandwidth computes the magnitude-weighted mean frequency
// and the weighted spread around it.
func spectralCentroidBandwidth(magnitudes []float64, sampleRate, fftLen int) (float64, float64) {
	var weightedSum, totalMagnitude float64
	for i, mag := range magnitudes {
		freq := binFrequency(i, sampleRate, fftLen)
		weightedSum += freq * mag
		totalMagnitude += mag
	}

	if totalMagnitude == 0 {
		return 0, 0
	}

	centroid := weightedSum / totalMagnitude

	var spread float64
	for i, mag := range magnitudes {
		freq := binFrequency(i, sampleRate, fftLen)
		diff := freq - centroid
		spread += diff * diff * mag
	}

	return centroid, math.Sqrt(spread / totalMagnitude)
}

// spectralRolloff returns the frequency below which the given fraction of
// total spectral energy is contained.
func spectralRolloff(magnitudes []float64, sampleRate, fftLen int, fraction float64) float64 {
	var totalEnergy float64
	for _, mag := range magnitudes {
		totalEnergy += mag * mag
	}
	if totalEnergy == 0 {
		return 0
	}

	target := fraction * totalEnergy
	var cumulative float64
	for i, mag := range magnitudes {
		cumulative += mag * mag
		if cumulative >= target {
			return binFrequency(i, sampleRate, fftLen)
		}
	}

	return binFrequency(len(magnitudes)-1, sampleRate, fftLen)
}

// binFrequency maps an FFT bin index to its center frequency.
func binFrequency(bin, sampleRate, fftLen int) float64 {
	return float64(bin) * float64(sampleRate) / float64(fftLen)
}

// envelopeTempo counts energy-envelope peaks per second of speaking time,
// a coarse articulation-rate proxy. A peak is a local maximum above the
// envelope mean.
func envelopeTempo(envelope []float64, speakingDuration time.Duration) float64 {
	seconds := speakingDuration.Seconds()
	if seconds <= 0 || len(envelope) < 3 {
		return 0
	}

	m := mean(envelope)
	peaks := 0
	for i := 1; i < len(envelope)-1; i++ {
		if envelope[i] > envelope[i-1] && envelope[i] >= envelope[i+1] && envelope[i] > m {
			peaks++
		}
	}

	return float64(peaks) / seconds
}

// hammingWindow builds a Hamming window of the given length.
func hammingWindow(n int) []float64 {
	window := make([]float64, n)
	for i := range window {
		window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return window
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

// mean returns the arithmetic mean, 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance returns the population variance, 0 for an empty slice.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		diff := v - m
		sum += diff * diff
	}
	return sum / float64(len(values))
}
