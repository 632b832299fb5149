package performance

import (
	"math"

	"github.com/okian/etude/internal/domain/model"
)

// DynamicsTracker produces the loudness trace.
type DynamicsTracker interface {
	Trace(x []float64, rate int) []model.DynamicsPoint
}

// RMSDynamics measures RMS over fixed windows in dB relative to the
// recording peak.
type RMSDynamics struct {
	// Window is the RMS window in seconds.
	Window float64
	// Floor is the lowest reported level in dB.
	Floor float64
}

// NewRMSDynamics returns a tracker with 100 ms windows and a -100 dB floor.
func NewRMSDynamics() RMSDynamics { return RMSDynamics{Window: 0.1, Floor: -100} }

// Trace implements DynamicsTracker.
func (d RMSDynamics) Trace(x []float64, rate int) []model.DynamicsPoint {
	peak := 0.0
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return nil
	}
	step := max(1, int(d.Window*float64(rate)))
	out := make([]model.DynamicsPoint, 0, len(x)/step+1)
	for i := 0; i < len(x); i += step {
		j := min(len(x), i+step)
		var sum float64
		for _, v := range x[i:j] {
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(j-i))
		db := d.Floor
		if rms > 0 {
			db = math.Max(d.Floor, 20*math.Log10(rms/peak))
		}
		out = append(out, model.DynamicsPoint{
			Time:       float64(i) / float64(rate),
			LoudnessDB: db,
			Level:      model.LevelForDB(db),
		})
	}
	return out
}

// Articulation thresholds.
const (
	staccatoMax     = 0.15
	legatoMin       = 0.5
	connectedGap    = 0.05
	connectedShare  = 0.6
	timbreFloorDB   = -40
	rolloffFraction = 0.85
)

// articulation tags the playing style from note lengths and gaps.
func articulation(notes []model.DetectedNote) []string {
	if len(notes) == 0 {
		return nil
	}
	var total float64
	for _, n := range notes {
		total += n.Duration
	}
	avg := total / float64(len(notes))
	tags := []string{model.ArticulationNormal}
	switch {
	case avg < staccatoMax:
		tags[0] = model.ArticulationStaccato
	case avg > legatoMin:
		tags[0] = model.ArticulationLegato
	}
	if len(notes) > 1 {
		connected := 0
		for i := 0; i+1 < len(notes); i++ {
			if notes[i+1].Onset-(notes[i].Onset+notes[i].Duration) <= connectedGap {
				connected++
			}
		}
		if float64(connected) > connectedShare*float64(len(notes)-1) {
			tags = append(tags, model.ArticulationConnected)
		}
	}
	return tags
}

// timbre averages spectral centroid and roll-off over frames within 40 dB
// of the loudest frame, and measures the zero-crossing rate of x.
func timbre(x []float64, rate int, mags [][]float64, size int) model.Timbre {
	var t model.Timbre
	if len(x) > 1 {
		crossings := 0
		for i := 1; i < len(x); i++ {
			if (x[i-1] >= 0) != (x[i] >= 0) {
				crossings++
			}
		}
		t.ZeroCrossingRate = float64(crossings) / float64(len(x)-1)
	}

	energies := make([]float64, len(mags))
	loudest := 0.0
	for k, m := range mags {
		for _, v := range m {
			energies[k] += v * v
		}
		loudest = math.Max(loudest, energies[k])
	}
	if loudest == 0 {
		return t
	}
	gate := loudest * math.Pow(10, timbreFloorDB/10.0)
	var centroid, rolloff float64
	frames := 0
	for k, m := range mags {
		if energies[k] < gate {
			continue
		}
		var num, den float64
		for b, v := range m {
			num += binHz(b, size, rate) * v
			den += v
		}
		if den == 0 {
			continue
		}
		centroid += num / den
		target := rolloffFraction * energies[k]
		var acc float64
		for b, v := range m {
			acc += v * v
			if acc >= target {
				rolloff += binHz(b, size, rate)
				break
			}
		}
		frames++
	}
	if frames > 0 {
		t.SpectralCentroidHz = centroid / float64(frames)
		t.SpectralRolloffHz = rolloff / float64(frames)
	}
	return t
}
