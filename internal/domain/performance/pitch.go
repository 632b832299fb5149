package performance

import (
	"math"

	"github.com/okian/etude/internal/domain/model"
)

// PitchFrame is one pitch-contour sample.
type PitchFrame struct {
	Time float64
	// Hz is 0 when the frame is unvoiced.
	Hz float64
	// Confidence is the YIN periodicity, 1 - d'(tau).
	Confidence float64
	Voiced     bool
}

// PitchTracker produces a confidence-weighted pitch contour. rng bounds the
// plausible pitches; detections outside it are octave-corrected or dropped.
type PitchTracker interface {
	Track(x []float64, rate int, rng model.PitchRange) []PitchFrame
}

// YIN is the YIN fundamental-frequency estimator with an FFT-computed
// difference function.
type YIN struct {
	frame, hop int
	pool       *fftPool
	// Threshold is the absolute threshold on the cumulative mean normalized
	// difference.
	Threshold float64
	// MinVoicing is the confidence a frame needs to count as voiced.
	MinVoicing float64
}

// NewYIN returns a tracker over 2048-sample frames with a 256-sample hop.
func NewYIN() *YIN {
	const frame = 2048
	return &YIN{
		frame:      frame,
		hop:        256,
		pool:       newFFTPool(2 * frame),
		Threshold:  0.15,
		MinVoicing: 0.6,
	}
}

// Hop returns the contour spacing in samples.
func (y *YIN) Hop() int { return y.hop }

// Track implements PitchTracker.
func (y *YIN) Track(x []float64, rate int, rng model.PitchRange) []PitchFrame {
	w := y.frame / 2
	fmin := math.Max(rng.Low.Frequency()/2, float64(rate)/float64(w-1))
	fmax := math.Min(rng.High.Frequency()*2, float64(rate)/4)
	tauMin := max(2, int(float64(rate)/fmax))
	tauMax := min(w-1, int(math.Ceil(float64(rate)/fmin)))

	peak := 0.0
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	quiet := peak * math.Pow(10, -45.0/20)

	f := y.pool.get()
	defer y.pool.put(f)
	n := f.Len()
	buf := make([]float64, n)
	head := make([]float64, n)
	acf := make([]float64, n)
	diff := make([]float64, tauMax+1)
	cmnd := make([]float64, tauMax+1)

	padded := make([]float64, len(x)+y.frame)
	copy(padded[w:], x)

	var out []PitchFrame
	for start := 0; start+y.frame <= len(padded); start += y.hop {
		fr := padded[start : start+y.frame]
		t := float64(start) / float64(rate)

		energy := 0.0
		for _, v := range fr[:w] {
			energy += v * v
		}
		if math.Sqrt(energy/float64(w)) <= quiet {
			out = append(out, PitchFrame{Time: t})
			continue
		}

		// acf(tau) = sum_j fr[j]*fr[j+tau] for j < w, via FFT.
		copy(buf, fr)
		clear(buf[y.frame:])
		copy(head, fr[:w])
		clear(head[w:])
		a := f.Coefficients(nil, buf)
		b := f.Coefficients(nil, head)
		for i := range a {
			a[i] *= complex(real(b[i]), -imag(b[i]))
		}
		f.Sequence(acf, a)

		// Sliding energy of fr[tau : tau+w].
		etau := energy
		for tau := 0; tau <= tauMax; tau++ {
			if tau > 0 {
				etau += fr[tau+w-1]*fr[tau+w-1] - fr[tau-1]*fr[tau-1]
			}
			diff[tau] = math.Max(0, energy+etau-2*acf[tau]/float64(n))
		}

		cmnd[0] = 1
		running := 0.0
		for tau := 1; tau <= tauMax; tau++ {
			running += diff[tau]
			if running == 0 {
				cmnd[tau] = 1
				continue
			}
			cmnd[tau] = diff[tau] * float64(tau) / running
		}

		tau := -1
		for i := tauMin; i <= tauMax; i++ {
			if cmnd[i] < y.Threshold {
				for i+1 <= tauMax && cmnd[i+1] < cmnd[i] {
					i++
				}
				tau = i
				break
			}
		}
		if tau < 0 {
			tau = tauMin
			for i := tauMin; i <= tauMax; i++ {
				if cmnd[i] < cmnd[tau] {
					tau = i
				}
			}
		}

		conf := math.Max(0, 1-cmnd[tau])
		period := float64(tau)
		if tau > tauMin && tau < tauMax {
			// Parabolic interpolation around the minimum.
			l, c, r := cmnd[tau-1], cmnd[tau], cmnd[tau+1]
			if den := l - 2*c + r; den > 0 {
				period += 0.5 * (l - r) / den
			}
		}
		hz := float64(rate) / period
		hz, inRange := foldIntoRange(hz, rng)
		voiced := conf > y.MinVoicing && inRange
		if !voiced {
			hz = 0
		}
		out = append(out, PitchFrame{Time: t, Hz: hz, Confidence: conf, Voiced: voiced})
	}
	return out
}

// foldIntoRange moves hz by octaves into rng when that is possible.
func foldIntoRange(hz float64, rng model.PitchRange) (float64, bool) {
	for i := 0; i < 4 && !rng.ContainsFrequency(hz); i++ {
		if model.FrequencyToMIDI(hz) < float64(rng.Low) {
			hz *= 2
		} else {
			hz /= 2
		}
	}
	return hz, rng.ContainsFrequency(hz)
}
