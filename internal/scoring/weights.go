package scoring

import (
	"fmt"
	"math"
)

// Weights are the named coefficients of the overall score.
type Weights struct {
	Detection       float64 `json:"detection" yaml:"detection"`
	Severity        float64 `json:"severity" yaml:"severity"`
	Fixes           float64 `json:"fixes" yaml:"fixes"`
	Reproducibility float64 `json:"reproducibility" yaml:"reproducibility"`
}

var DefaultWeights = Weights{
	Detection:       0.4,
	Severity:        0.2,
	Fixes:           0.2,
	Reproducibility: 0.2,
}

const sumTolerance = 1e-6

func (w Weights) Sum() float64 {
	return w.Detection + w.Severity + w.Fixes + w.Reproducibility
}

func (w Weights) IsZero() bool {
	return w == Weights{}
}

// Validate rejects negative and non-finite weights, and weights whose sum
// is not finite.
func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"detection", w.Detection},
		{"severity", w.Severity},
		{"fixes", w.Fixes},
		{"reproducibility", w.Reproducibility},
	}
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			return fmt.Errorf("scoring_weights.%s must be finite", n.name)
		}
		if n.v < 0 {
			return fmt.Errorf("scoring_weights.%s must be non-negative, got %g", n.name, n.v)
		}
	}
	if math.IsInf(w.Sum(), 0) {
		return fmt.Errorf("scoring_weights sum overflows")
	}
	return nil
}

// Resolve returns weights that sum to 1. All-zero weights fall back to
// DefaultWeights; any other sum is normalized away.
func (w Weights) Resolve() (Weights, error) {
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	if w.IsZero() {
		return DefaultWeights, nil
	}
	sum := w.Sum()
	if math.Abs(sum-1) <= sumTolerance {
		return w, nil
	}
	return Weights{
		Detection:       w.Detection / sum,
		Severity:        w.Severity / sum,
		Fixes:           w.Fixes / sum,
		Reproducibility: w.Reproducibility / sum,
	}, nil
}
