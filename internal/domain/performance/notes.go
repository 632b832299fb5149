package performance

import (
	"math"
	"sort"

	"github.com/okian/etude/internal/domain/model"
)

// Note segmentation constants.
const (
	attackSkip     = 0.03 // seconds of contour ignored after each onset
	minVoicedShare = 0.3
	releaseDrop    = 30.0 // dB under the segment peak that ends a note
	envelopeStep   = 0.01 // seconds per envelope sample
	unpitchedConf  = 0.3
)

// segmentNotes turns onsets and a pitch contour into notes. Each onset
// opens a segment that runs to the next onset; the note pitch is the median
// of the segment's voiced frames. Percussive instruments keep unvoiced
// segments as pitchless hits.
func segmentNotes(x []float64, rate int, onsets []float64, contour []PitchFrame, percussive bool) []model.DetectedNote {
	env := envelope(x, rate)
	end := float64(len(x)) / float64(rate)

	var notes []model.DetectedNote
	for i, on := range onsets {
		next := end
		if i+1 < len(onsets) {
			next = onsets[i+1]
		}

		var hz, conf []float64
		frames := 0
		lo := sort.Search(len(contour), func(k int) bool { return contour[k].Time >= on+attackSkip })
		for k := lo; k < len(contour) && contour[k].Time < next; k++ {
			frames++
			if contour[k].Voiced {
				hz = append(hz, contour[k].Hz)
				conf = append(conf, contour[k].Confidence)
			}
		}

		n := model.DetectedNote{Onset: on, Duration: noteLength(env, on, next)}
		switch {
		case len(hz) > 0 && float64(len(hz)) >= minVoicedShare*float64(frames):
			midi := make([]float64, len(hz))
			for k, f := range hz {
				midi[k] = model.FrequencyToMIDI(f)
			}
			n.Pitch = model.Pitch(math.Round(median(midi)))
			n.FrequencyHz = median(hz)
			n.Confidence = mean(conf)
		case percussive:
			n.Confidence = unpitchedConf
		default:
			continue
		}
		notes = append(notes, n)
	}
	return notes
}

// envelope is the RMS level in dB every envelopeStep seconds.
func envelope(x []float64, rate int) []float64 {
	step := max(1, int(envelopeStep*float64(rate)))
	out := make([]float64, 0, len(x)/step+1)
	for i := 0; i < len(x); i += step {
		var sum float64
		j := min(len(x), i+step)
		for _, v := range x[i:j] {
			sum += v * v
		}
		out = append(out, 10*math.Log10(1e-12+sum/float64(j-i)))
	}
	return out
}

// noteLength measures how long the envelope stays within releaseDrop of
// the segment peak.
func noteLength(env []float64, on, next float64) float64 {
	a := int(on / envelopeStep)
	b := min(len(env), int(math.Ceil(next/envelopeStep)))
	if a >= b {
		return math.Max(0, next-on)
	}
	peak := math.Inf(-1)
	for _, v := range env[a:b] {
		peak = math.Max(peak, v)
	}
	last := a
	for k := a; k < b; k++ {
		if env[k] >= peak-releaseDrop {
			last = k
		}
	}
	return math.Min(next-on, float64(last-a+1)*envelopeStep)
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
