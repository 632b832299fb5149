package feedback

import (
	"fmt"
	"math"

	"github.com/okian/etude/internal/domain/model"
)

// Weights maps each dimension to its share of the overall score.
type Weights map[model.Dimension]float64

// DefaultWeights returns pitch 0.4, rhythm 0.3, tempo 0.2 and dynamics 0.1.
func DefaultWeights() Weights {
	return Weights{
		model.DimensionPitch:    0.4,
		model.DimensionRhythm:   0.3,
		model.DimensionTempo:    0.2,
		model.DimensionDynamics: 0.1,
	}
}

// Sum adds the weights in canonical dimension order, so equal weights
// always give the same result.
func (w Weights) Sum() float64 {
	var s float64
	for _, d := range model.Dimensions() {
		s += w[d]
	}
	return s
}

// Validate checks that every dimension has a positive weight and that the
// weights sum to one.
func (w Weights) Validate() error {
	for _, d := range model.Dimensions() {
		if w[d] <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidWeights, d)
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return fmt.Errorf("%w: sum is %.4f", ErrInvalidWeights, w.Sum())
	}
	return nil
}

// For restricts the weights to dims and rescales them to sum to one. With
// dynamics left out each remaining weight becomes w/(1-w_dynamics). The last
// dimension takes the remainder, so the sum is exactly one.
func (w Weights) For(dims []model.Dimension) Weights {
	out := make(Weights, len(dims))
	if len(dims) == 0 {
		return out
	}
	var total float64
	for _, d := range dims {
		total += w[d]
	}
	var acc float64
	for _, d := range dims[:len(dims)-1] {
		out[d] = w[d] / total
		acc += out[d]
	}
	out[dims[len(dims)-1]] = 1 - acc
	return out
}
