package classify

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/davidgin/therapy-assistant-agent/internal/features"
)

// Config controls the scoring behavior shared by all three axes.
type Config struct {
	// Temperature flattens (higher) or sharpens (lower) the softmax
	// over category scores.
	Temperature float64
	// TieMargin is the minimum top-two probability gap required to
	// commit to the leading category.
	TieMargin float64
	// MinVoicedFraction below which the input is considered too
	// unvoiced to classify.
	MinVoicedFraction float64
}

// DefaultConfig returns the scoring parameters used when the config
// file leaves the classifier section empty.
func DefaultConfig() Config {
	return Config{
		Temperature:       2.0,
		TieMargin:         0.05,
		MinVoicedFraction: 0.1,
	}
}

func (c *Config) Validate() error {
	if c.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %g", c.Temperature)
	}
	if c.TieMargin < 0 || c.TieMargin >= 1 {
		return fmt.Errorf("tie margin must be in [0, 1), got %g", c.TieMargin)
	}
	if c.MinVoicedFraction < 0 || c.MinVoicedFraction > 1 {
		return fmt.Errorf("min voiced fraction must be in [0, 1], got %g", c.MinVoicedFraction)
	}
	return nil
}

// Result is the outcome of one classification axis. Probabilities sums
// to one over the axis's categories; Confidence is the probability gap
// between the top two categories, so a confident call requires a clear
// winner rather than merely a plurality.
type Result struct {
	Category      string             `json:"category"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classification bundles the three axes for one recording.
type Classification struct {
	Tone      Result `json:"tone"`
	Emotion   Result `json:"emotion"`
	Sentiment Result `json:"sentiment"`
	// Degenerate marks recordings with too little voiced speech to
	// score; all axes are then neutral with zero confidence.
	Degenerate bool `json:"degenerate"`
}

// Classifier scores feature vectors against profile tables.
type Classifier struct {
	config   Config
	profiles *Profiles
	logger   *slog.Logger
}

func NewClassifier(config Config, profiles *Profiles, logger *slog.Logger) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	if err := profiles.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{config: config, profiles: profiles, logger: logger}, nil
}

// Classify scores the vector on all three axes. A vector whose voiced
// fraction falls below the configured minimum is not scored at all:
// pitch statistics are meaningless without voiced frames, so the result
// is neutral everywhere with zero confidence and Degenerate set.
func (c *Classifier) Classify(vec *features.Vector) Classification {
	if vec.VoicedFraction < c.config.MinVoicedFraction {
		c.logger.Debug("Voiced fraction below minimum, returning neutral classification",
			slog.Float64("voiced_fraction", vec.VoicedFraction),
			slog.Float64("minimum", c.config.MinVoicedFraction))
		return Classification{
			Tone:       neutralResult(c.profiles.Tone),
			Emotion:    neutralResult(c.profiles.Emotion),
			Sentiment:  neutralResult(c.profiles.Sentiment),
			Degenerate: true,
		}
	}

	dims := vec.Dimensions()
	return Classification{
		Tone:      c.scoreAxis(c.profiles.Tone, dims),
		Emotion:   c.scoreAxis(c.profiles.Emotion, dims),
		Sentiment: c.scoreAxis(c.profiles.Sentiment, dims),
	}
}

// scoreAxis computes a weighted squared normalized distance from the
// vector to each category center, turns the negated distances into a
// probability distribution via softmax, and commits to the top category
// only when it leads the runner-up by at least the tie margin.
func (c *Classifier) scoreAxis(table map[string]Profile, dims map[string]float64) Result {
	scores := make(map[string]float64, len(table))
	for name, prof := range table {
		scores[name] = -distance(prof, dims)
	}
	probs := softmax(scores, c.config.Temperature)

	names := make([]string, 0, len(probs))
	for name := range probs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if probs[names[i]] != probs[names[j]] {
			return probs[names[i]] > probs[names[j]]
		}
		return names[i] < names[j]
	})

	top, second := names[0], names[1]
	gap := probs[top] - probs[second]
	if gap < c.config.TieMargin {
		return Result{Category: NeutralCategory, Confidence: gap, Probabilities: probs}
	}
	return Result{Category: top, Confidence: gap, Probabilities: probs}
}

func distance(prof Profile, dims map[string]float64) float64 {
	var total float64
	for name, dim := range prof.Dimensions {
		value, ok := dims[name]
		if !ok {
			continue
		}
		weight := dim.Weight
		if weight == 0 {
			weight = 1
		}
		dev := (value - dim.Center) / dim.Scale
		total += weight * dev * dev
	}
	return total
}

// softmax is computed against the maximum score for numerical
// stability; scores here are non-positive distances.
func softmax(scores map[string]float64, temperature float64) map[string]float64 {
	var best float64
	first := true
	for _, s := range scores {
		if first || s > best {
			best = s
			first = false
		}
	}
	probs := make(map[string]float64, len(scores))
	var sum float64
	for name, s := range scores {
		e := math.Exp((s - best) / temperature)
		probs[name] = e
		sum += e
	}
	for name := range probs {
		probs[name] /= sum
	}
	return probs
}

func neutralResult(table map[string]Profile) Result {
	probs := make(map[string]float64, len(table))
	for name := range table {
		probs[name] = 0
		if name == NeutralCategory {
			probs[name] = 1
		}
	}
	return Result{Category: NeutralCategory, Confidence: 0, Probabilities: probs}
}
