package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoreWeights are the multipliers applied to each scoring component.
// They should sum to 1.0.
type ScoreWeights struct {
	Volume    float64 `yaml:"volume"`
	Value     float64 `yaml:"value"`
	Recency   float64 `yaml:"recency"`
	Strategic float64 `yaml:"strategic"`
	Urgency   float64 `yaml:"urgency"`
}

// DefaultScoreWeights returns the standard weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Volume:    0.25,
		Value:     0.20,
		Recency:   0.15,
		Strategic: 0.25,
		Urgency:   0.15,
	}
}

// LoadScoreWeights reads weight overrides from a YAML file. An empty path
// returns the defaults.
func LoadScoreWeights(path string) (ScoreWeights, error) {
	if path == "" {
		return DefaultScoreWeights(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ScoreWeights{}, fmt.Errorf("read scoring weights: %w", err)
	}

	weights := DefaultScoreWeights()
	if err := yaml.Unmarshal(data, &weights); err != nil {
		return ScoreWeights{}, fmt.Errorf("parse scoring weights: %w", err)
	}

	sum := weights.Volume + weights.Value + weights.Recency + weights.Strategic + weights.Urgency
	if sum < 0.99 || sum > 1.01 {
		return ScoreWeights{}, fmt.Errorf("scoring weights must sum to 1.0, got %.2f", sum)
	}
	return weights, nil
}
