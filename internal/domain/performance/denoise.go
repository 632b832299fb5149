package performance

import (
	"math"
	"sort"
)

// Denoiser removes background noise before feature extraction.
type Denoiser interface {
	Denoise(x []float64, rate int) []float64
}

// SpectralGate is a two-pass spectral gate. The stationary pass attenuates
// bins that stay under a noise profile taken from the quietest frames; the
// non-stationary pass attenuates bins that stay near their own running
// minimum while that minimum sits at the gated noise level. A held note is
// never its own noise floor, so a steady input is scaled uniformly. Each
// pass gates softly, so gains change smoothly across frames.
type SpectralGate struct {
	size, hop int
	window    []float64
	pool      *fftPool

	// NoiseFraction is the share of quietest frames used as the profile.
	NoiseFraction float64
	// StationaryDecrease and NonStationaryDecrease are the attenuation of
	// fully gated bins, 0..1.
	StationaryDecrease    float64
	NonStationaryDecrease float64
	// RunningWindow is the span of the per-bin running minimum, in seconds.
	RunningWindow float64
	// Threshold is how far above the noise estimate a bin must be to pass
	// untouched.
	Threshold float64
}

// NewSpectralGate returns a gate over a 2048-sample Hann STFT with 50% overlap.
func NewSpectralGate() *SpectralGate {
	const size = 2048
	return &SpectralGate{
		size:                  size,
		hop:                   size / 2,
		window:                hann(size),
		pool:                  newFFTPool(size),
		NoiseFraction:         0.1,
		StationaryDecrease:    0.9,
		NonStationaryDecrease: 0.7,
		RunningWindow:         2.0,
		Threshold:             2.0,
	}
}

// Denoise implements Denoiser.
func (g *SpectralGate) Denoise(x []float64, rate int) []float64 {
	if len(x) < g.size {
		return append([]float64(nil), x...)
	}
	st := analyze(x, g.window, g.hop, g.pool)
	mags := st.magnitudes()
	bins := len(mags[0])
	// Frames that overlap the zero padding read low and would pass for noise.
	lo, hi := g.interior(len(x), len(mags))

	// Stationary pass.
	profile := g.noiseProfile(mags[lo:hi])
	for k := range mags {
		for b := 0; b < bins; b++ {
			gain := g.gain(mags[k][b], profile[b], g.StationaryDecrease)
			mags[k][b] *= gain
			st.frames[k][b] *= complex(gain, 0)
		}
	}

	// Non-stationary pass against a running minimum of the gated spectrum,
	// capped at the level the stationary pass leaves noise at.
	span := max(1, int(g.RunningWindow*float64(rate)/float64(g.hop)))
	series := make([]float64, hi-lo)
	for b := 0; b < bins; b++ {
		for k := lo; k < hi; k++ {
			series[k-lo] = mags[k][b]
		}
		floor := runningMin(series, span/2)
		limit := g.Threshold * profile[b] * (1 - g.StationaryDecrease)
		for k := range mags {
			noise := math.Min(floor[min(max(k, lo), hi-1)-lo], limit)
			gain := g.gain(mags[k][b], noise, g.NonStationaryDecrease)
			st.frames[k][b] *= complex(gain, 0)
		}
	}
	return st.synthesize(g.pool)
}

// interior returns the range of frames that lie wholly inside a signal of
// n samples.
func (g *SpectralGate) interior(n, frames int) (lo, hi int) {
	half := g.size / 2
	lo = (half + g.hop - 1) / g.hop
	hi = min(frames, (n-half)/g.hop+1)
	if lo >= hi {
		return 0, frames
	}
	return lo, hi
}

// gain is 1 at Threshold times the noise estimate and above, 1-decrease at
// the estimate and below, and linear between.
func (g *SpectralGate) gain(mag, noise, decrease float64) float64 {
	if noise <= 0 {
		return 1
	}
	r := (mag/noise - 1) / (g.Threshold - 1)
	r = math.Max(0, math.Min(1, r))
	return 1 - decrease*(1-r)
}

// noiseProfile averages each bin over the quietest frames.
func (g *SpectralGate) noiseProfile(mags [][]float64) []float64 {
	type frameEnergy struct {
		k int
		e float64
	}
	energies := make([]frameEnergy, len(mags))
	for k, m := range mags {
		var e float64
		for _, v := range m {
			e += v * v
		}
		energies[k] = frameEnergy{k, e}
	}
	sort.Slice(energies, func(i, j int) bool { return energies[i].e < energies[j].e })
	n := max(1, int(math.Ceil(g.NoiseFraction*float64(len(mags)))))

	profile := make([]float64, len(mags[0]))
	for _, fe := range energies[:n] {
		for b, v := range mags[fe.k] {
			profile[b] += v / float64(n)
		}
	}
	return profile
}

// runningMin returns the minimum of x over [i-radius, i+radius] for every i.
func runningMin(x []float64, radius int) []float64 {
	out := make([]float64, len(x))
	// Monotonic deque of indexes with increasing values.
	dq := make([]int, 0, 2*radius+1)
	next := 0
	for i := range x {
		for ; next < len(x) && next <= i+radius; next++ {
			for len(dq) > 0 && x[dq[len(dq)-1]] >= x[next] {
				dq = dq[:len(dq)-1]
			}
			dq = append(dq, next)
		}
		for dq[0] < i-radius {
			dq = dq[1:]
		}
		out[i] = x[dq[0]]
	}
	return out
}
