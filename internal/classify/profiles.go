package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NeutralCategory must exist on every axis. It is the fallback for
// ambiguous and degenerate inputs.
const NeutralCategory = "neutral"

// Dimension describes the expected value of one feature dimension for a
// category. Scale is the tolerance band used to normalize deviation;
// Weight lets a profile emphasize its discriminative dimensions.
type Dimension struct {
	Center float64 `yaml:"center"`
	Scale  float64 `yaml:"scale"`
	Weight float64 `yaml:"weight,omitempty"`
}

// Profile is one category's expected feature region.
type Profile struct {
	Dimensions map[string]Dimension `yaml:"dimensions"`
}

// Profiles holds the category tables for all three classification axes.
type Profiles struct {
	Tone      map[string]Profile `yaml:"tone"`
	Emotion   map[string]Profile `yaml:"emotion"`
	Sentiment map[string]Profile `yaml:"sentiment"`
}

// Validate checks that every axis has at least two categories including
// neutral, and that every dimension carries a positive scale.
func (p *Profiles) Validate() error {
	axes := map[string]map[string]Profile{
		"tone":      p.Tone,
		"emotion":   p.Emotion,
		"sentiment": p.Sentiment,
	}
	for axis, table := range axes {
		if len(table) < 2 {
			return fmt.Errorf("%s: need at least two categories, got %d", axis, len(table))
		}
		if _, ok := table[NeutralCategory]; !ok {
			return fmt.Errorf("%s: missing required category %q", axis, NeutralCategory)
		}
		for name, prof := range table {
			if len(prof.Dimensions) == 0 {
				return fmt.Errorf("%s/%s: no dimensions", axis, name)
			}
			for dim, d := range prof.Dimensions {
				if d.Scale <= 0 {
					return fmt.Errorf("%s/%s/%s: scale must be positive, got %g", axis, name, dim, d.Scale)
				}
				if d.Weight < 0 {
					return fmt.Errorf("%s/%s/%s: weight must be non-negative, got %g", axis, name, dim, d.Weight)
				}
			}
		}
	}
	return nil
}

// LoadProfiles reads a profile table from a YAML file.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}
	return &p, nil
}

func dims(pairs ...any) map[string]Dimension {
	m := make(map[string]Dimension, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1].(Dimension)
	}
	return m
}

func d(center, scale float64) Dimension {
	return Dimension{Center: center, Scale: scale}
}

// DefaultProfiles returns the built-in category tables. Centers and
// scales are placeholder values pending clinical calibration; the tone
// table follows the usual prosodic picture (anxious speech runs high and
// unstable in pitch, depressed speech low and flat, agitated speech loud
// and fast).
func DefaultProfiles() *Profiles {
	return &Profiles{
		Tone: map[string]Profile{
			"calm": {Dimensions: dims(
				"pitch_mean", d(130, 10),
				"pitch_variance", d(300, 100),
				"energy_mean", d(0.18, 0.03),
				"energy_variance", d(0.002, 0.001),
				"tempo", d(2.0, 0.4),
				"spectral_centroid", d(800, 100),
			)},
			"anxious": {Dimensions: dims(
				"pitch_mean", d(235, 15),
				"pitch_variance", d(2500, 500),
				"energy_mean", d(0.30, 0.05),
				"energy_variance", d(0.010, 0.003),
				"tempo", d(5.2, 0.6),
				"spectral_centroid", d(1700, 200),
			)},
			"depressed": {Dimensions: dims(
				"pitch_mean", d(100, 10),
				"pitch_variance", d(120, 60),
				"energy_mean", d(0.07, 0.02),
				"energy_variance", d(0.0008, 0.0005),
				"tempo", d(1.2, 0.4),
				"spectral_centroid", d(600, 100),
			)},
			"agitated": {Dimensions: dims(
				"pitch_mean", d(195, 15),
				"pitch_variance", d(1700, 350),
				"energy_mean", d(0.42, 0.06),
				"energy_variance", d(0.018, 0.005),
				"tempo", d(6.5, 0.7),
				"spectral_centroid", d(2000, 200),
			)},
			NeutralCategory: {Dimensions: dims(
				"pitch_mean", d(165, 12),
				"pitch_variance", d(900, 250),
				"energy_mean", d(0.25, 0.04),
				"energy_variance", d(0.006, 0.002),
				"tempo", d(3.5, 0.5),
				"spectral_centroid", d(1200, 150),
			)},
		},
		Emotion: map[string]Profile{
			"excited": {Dimensions: dims(
				"pitch_mean", d(210, 20),
				"pitch_variance", d(1500, 400),
				"energy_mean", d(0.40, 0.06),
				"tempo", d(6.0, 0.8),
			)},
			"sad": {Dimensions: dims(
				"pitch_mean", d(105, 12),
				"pitch_variance", d(150, 80),
				"energy_mean", d(0.07, 0.02),
				"tempo", d(1.3, 0.4),
			)},
			"anxious": {Dimensions: dims(
				"pitch_mean", d(230, 15),
				"pitch_variance", d(2400, 500),
				"energy_mean", d(0.30, 0.05),
				"tempo", d(5.0, 0.6),
			)},
			NeutralCategory: {Dimensions: dims(
				"pitch_mean", d(160, 15),
				"pitch_variance", d(800, 250),
				"energy_mean", d(0.22, 0.05),
				"tempo", d(3.3, 0.6),
			)},
		},
		Sentiment: map[string]Profile{
			"positive": {Dimensions: dims(
				"pitch_mean", d(185, 15),
				"energy_mean", d(0.30, 0.05),
				"tempo", d(4.5, 0.6),
				"spectral_centroid", d(1500, 180),
			)},
			"negative": {Dimensions: dims(
				"pitch_mean", d(115, 12),
				"energy_mean", d(0.10, 0.03),
				"tempo", d(1.8, 0.5),
				"spectral_centroid", d(700, 120),
			)},
			NeutralCategory: {Dimensions: dims(
				"pitch_mean", d(155, 15),
				"energy_mean", d(0.20, 0.04),
				"tempo", d(3.2, 0.5),
				"spectral_centroid", d(1100, 150),
			)},
		},
	}
}
