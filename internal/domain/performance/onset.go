package performance

import (
	"math"
)

// Novelty is an onset-strength envelope sampled every Hop seconds.
type Novelty struct {
	Values []float64
	Hop    float64
}

// OnsetDetector finds note starts, in seconds.
type OnsetDetector interface {
	Detect(x []float64, rate int) ([]float64, Novelty)
}

// peakPicker selects onsets from a novelty curve.
type peakPicker struct {
	// radius is the local-maximum neighbourhood in frames.
	radius int
	// meanRadius is the adaptive-threshold window in frames.
	meanRadius int
	delta      float64
	floor      float64
	minGap     float64
}

func defaultPicker(hop float64) peakPicker {
	return peakPicker{
		radius:     max(1, int(math.Round(0.03/hop))),
		meanRadius: max(2, int(math.Round(0.1/hop))),
		delta:      0.07,
		floor:      0.1,
		minGap:     0.05,
	}
}

func (p peakPicker) pick(n Novelty) []float64 {
	v := n.Values
	if len(v) == 0 {
		return nil
	}
	top := 0.0
	for _, x := range v {
		top = math.Max(top, x)
	}
	if top <= 0 {
		return nil
	}

	var onsets []float64
	lastStrength := 0.0
	for i, x := range v {
		x /= top
		if x < p.floor {
			continue
		}
		isMax := true
		for j := max(0, i-p.radius); j <= min(len(v)-1, i+p.radius) && isMax; j++ {
			if v[j] > v[i] || (v[j] == v[i] && j < i) {
				isMax = false
			}
		}
		if !isMax {
			continue
		}
		sum, cnt := 0.0, 0
		for j := max(0, i-p.meanRadius); j <= min(len(v)-1, i+p.meanRadius); j++ {
			sum += v[j] / top
			cnt++
		}
		if x < sum/float64(cnt)+p.delta {
			continue
		}
		t := float64(i) * n.Hop
		if k := len(onsets) - 1; k >= 0 && t-onsets[k] < p.minGap {
			// Keep the stronger of two close peaks.
			if x > lastStrength {
				onsets[k] = t
				lastStrength = x
			}
			continue
		}
		onsets = append(onsets, t)
		lastStrength = x
	}
	return onsets
}

// SpectralFlux detects onsets of pitched instruments from the positive
// change of log-compressed magnitude spectra.
type SpectralFlux struct {
	size, hop int
	window    []float64
	pool      *fftPool
	// Compression is the log-compression factor applied to magnitudes.
	Compression float64
}

// NewSpectralFlux returns a detector over 1024-sample frames, 256 hop.
func NewSpectralFlux() *SpectralFlux {
	const size = 1024
	return &SpectralFlux{size: size, hop: 256, window: hann(size), pool: newFFTPool(size), Compression: 100}
}

// Detect implements OnsetDetector.
func (s *SpectralFlux) Detect(x []float64, rate int) ([]float64, Novelty) {
	st := analyze(x, s.window, s.hop, s.pool)
	mags := st.magnitudes()
	flux := make([]float64, len(mags))
	for k := 1; k < len(mags); k++ {
		var sum float64
		for b := range mags[k] {
			d := math.Log1p(s.Compression*mags[k][b]) - math.Log1p(s.Compression*mags[k-1][b])
			if d > 0 {
				sum += d
			}
		}
		flux[k] = sum
	}
	nov := Novelty{Values: flux, Hop: float64(s.hop) / float64(rate)}
	return defaultPicker(nov.Hop).pick(nov), nov
}

// EnergyNovelty detects onsets of percussive instruments from rises in
// short-time log energy.
type EnergyNovelty struct {
	size, hop int
}

// NewEnergyNovelty returns a detector over 512-sample frames, 128 hop.
func NewEnergyNovelty() *EnergyNovelty {
	return &EnergyNovelty{size: 512, hop: 128}
}

// Detect implements OnsetDetector.
func (e *EnergyNovelty) Detect(x []float64, rate int) ([]float64, Novelty) {
	half := e.size / 2
	count := len(x)/e.hop + 1
	logE := make([]float64, count)
	for k := 0; k < count; k++ {
		center := k * e.hop
		var sum float64
		for i := center - half; i < center+half; i++ {
			if i >= 0 && i < len(x) {
				sum += x[i] * x[i]
			}
		}
		logE[k] = math.Log10(1e-10 + sum/float64(e.size))
	}
	nov := make([]float64, count)
	for k := 1; k < count; k++ {
		if d := logE[k] - logE[k-1]; d > 0 {
			nov[k] = d
		}
	}
	n := Novelty{Values: nov, Hop: float64(e.hop) / float64(rate)}
	return defaultPicker(n.Hop).pick(n), n
}
