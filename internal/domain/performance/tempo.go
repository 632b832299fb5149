package performance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Tempo bounds and defaults.
const (
	MinTempoBPM     = 40.0
	MaxTempoBPM     = 240.0
	DefaultTempoBPM = 120.0

	minIOI = 0.1 // seconds; shorter intervals are ornaments or double triggers
)

// TempoInput is what tempo estimators see.
type TempoInput struct {
	Onsets  []float64
	Novelty Novelty
}

// TempoCandidate is one estimator's answer.
type TempoCandidate struct {
	Estimator  string
	BPM        float64
	Confidence float64
}

// TempoEstimator proposes a tempo. ok is false when it has nothing to say.
type TempoEstimator interface {
	Name() string
	Estimate(in TempoInput) (c TempoCandidate, ok bool)
}

// DefaultTempoEstimators returns the autocorrelation, IOI-median and
// IOI-histogram estimators.
func DefaultTempoEstimators() []TempoEstimator {
	return []TempoEstimator{AutocorrelationTempo{}, MedianIOITempo{}, HistogramIOITempo{BinWidth: 0.01}}
}

// ReconcileTempo folds candidates into the tempo octave around prior and
// averages them weighted by confidence. It returns prior with zero
// confidence when no candidate carries weight.
func ReconcileTempo(cands []TempoCandidate, prior float64) (bpm, confidence float64) {
	if prior <= 0 {
		prior = DefaultTempoBPM
	}
	var values, weights []float64
	for _, c := range cands {
		if c.BPM <= 0 || c.Confidence <= 0 || math.IsNaN(c.BPM) {
			continue
		}
		values = append(values, foldTempo(c.BPM, prior))
		weights = append(weights, c.Confidence)
	}
	if len(values) == 0 || floats.Sum(weights) == 0 {
		return clampTempo(prior), 0
	}
	bpm = stat.Mean(values, weights)
	confidence = floats.Sum(weights) / float64(len(weights))
	return clampTempo(bpm), math.Min(1, confidence)
}

// foldTempo doubles or halves bpm into [prior/sqrt2, prior*sqrt2).
func foldTempo(bpm, prior float64) float64 {
	lo, hi := prior/math.Sqrt2, prior*math.Sqrt2
	for bpm < lo {
		bpm *= 2
	}
	for bpm >= hi {
		bpm /= 2
	}
	return bpm
}

func clampTempo(bpm float64) float64 {
	return math.Max(MinTempoBPM, math.Min(MaxTempoBPM, bpm))
}

func intervals(onsets []float64) []float64 {
	var out []float64
	for i := 1; i < len(onsets); i++ {
		if d := onsets[i] - onsets[i-1]; d >= minIOI {
			out = append(out, d)
		}
	}
	return out
}

// AutocorrelationTempo picks the strongest periodicity of the novelty curve
// between 40 and 240 BPM.
type AutocorrelationTempo struct{}

// Name implements TempoEstimator.
func (AutocorrelationTempo) Name() string { return "autocorrelation" }

// Estimate implements TempoEstimator.
func (AutocorrelationTempo) Estimate(in TempoInput) (TempoCandidate, bool) {
	v, hop := in.Novelty.Values, in.Novelty.Hop
	if len(v) < 4 || hop <= 0 {
		return TempoCandidate{}, false
	}
	m := stat.Mean(v, nil)
	x := make([]float64, len(v))
	for i := range v {
		x[i] = v[i] - m
	}
	r0 := floats.Dot(x, x)
	if r0 == 0 {
		return TempoCandidate{}, false
	}
	lo := max(1, int(math.Floor(60/MaxTempoBPM/hop)))
	hi := min(len(x)-1, int(math.Ceil(60/MinTempoBPM/hop)))
	best, bestR := -1, 0.0
	for lag := lo; lag <= hi; lag++ {
		r := floats.Dot(x[:len(x)-lag], x[lag:]) / r0
		if r > bestR {
			best, bestR = lag, r
		}
	}
	if best < 0 {
		return TempoCandidate{}, false
	}
	period := float64(best)
	if best > lo && best < hi {
		// Refine the lag with a parabola through its neighbours.
		l := floats.Dot(x[:len(x)-best+1], x[best-1:]) / r0
		r := floats.Dot(x[:len(x)-best-1], x[best+1:]) / r0
		if den := l - 2*bestR + r; den < 0 {
			period += 0.5 * (l - r) / den
		}
	}
	return TempoCandidate{Estimator: "autocorrelation", BPM: 60 / (period * hop), Confidence: math.Min(1, bestR)}, true
}

// MedianIOITempo reads the tempo from the median inter-onset interval.
type MedianIOITempo struct{}

// Name implements TempoEstimator.
func (MedianIOITempo) Name() string { return "ioi_median" }

// Estimate implements TempoEstimator.
func (MedianIOITempo) Estimate(in TempoInput) (TempoCandidate, bool) {
	iois := intervals(in.Onsets)
	if len(iois) < 2 {
		return TempoCandidate{}, false
	}
	sort.Float64s(iois)
	med := stat.Quantile(0.5, stat.Empirical, iois, nil)
	dev := make([]float64, len(iois))
	for i, d := range iois {
		dev[i] = math.Abs(d - med)
	}
	sort.Float64s(dev)
	mad := stat.Quantile(0.5, stat.Empirical, dev, nil)
	conf := math.Max(0, 1-mad/med) * math.Min(1, float64(len(iois))/8)
	return TempoCandidate{Estimator: "ioi_median", BPM: 60 / med, Confidence: conf}, true
}

// HistogramIOITempo reads the tempo from the most common inter-onset
// interval, with BinWidth seconds per bin.
type HistogramIOITempo struct {
	BinWidth float64
}

// Name implements TempoEstimator.
func (HistogramIOITempo) Name() string { return "ioi_histogram" }

// Estimate implements TempoEstimator.
func (h HistogramIOITempo) Estimate(in TempoInput) (TempoCandidate, bool) {
	iois := intervals(in.Onsets)
	if len(iois) < 2 || h.BinWidth <= 0 {
		return TempoCandidate{}, false
	}
	counts := map[int]int{}
	for _, d := range iois {
		counts[int(math.Round(d/h.BinWidth))]++
	}
	bestBin, bestCount := 0, -1
	for bin := range counts {
		c := counts[bin-1] + counts[bin] + counts[bin+1]
		if c > bestCount || (c == bestCount && bin < bestBin) {
			bestBin, bestCount = bin, c
		}
	}
	// Mean of the intervals that fell into the winning neighbourhood.
	var sum float64
	var n int
	for _, d := range iois {
		if b := int(math.Round(d / h.BinWidth)); b >= bestBin-1 && b <= bestBin+1 {
			sum += d
			n++
		}
	}
	conf := float64(n) / float64(len(iois))
	return TempoCandidate{Estimator: "ioi_histogram", BPM: 60 / (sum / float64(n)), Confidence: conf}, true
}
