package compare

import (
	"math"
	"sort"

	"github.com/okian/etude/internal/domain/model"
)

// pair links expected note e to detected note d; dev is the detected onset
// minus the expected onset, in beats.
type pair struct {
	e, d int
	dev  float64
}

type matching struct {
	expected []model.Note
	detected []model.DetectedNote
	// pairs is ordered by expected index.
	pairs []pair
}

func (m matching) absDeviation() float64 {
	var s float64
	for _, p := range m.pairs {
		s += math.Abs(p.dev)
	}
	return s
}

// match aligns the performance with the score in beat space. Detected onsets
// are converted with the performed tempo and shifted so that one of the
// first detected notes lands on one of the first expected notes; the shift
// that matches the most notes wins, then the one with the least deviation.
func (c *Comparator) match(score model.ScoreModel, perf model.PerformanceModel) matching {
	detected := append([]model.DetectedNote(nil), perf.DetectedNotes...)
	sort.SliceStable(detected, func(i, j int) bool { return detected[i].Onset < detected[j].Onset })
	best := matching{expected: score.Notes, detected: detected}
	if len(detected) == 0 {
		return best
	}

	bpm := perf.TempoBPMEstimate
	if bpm <= 0 || perf.TempoConfidence <= 0 {
		bpm = score.TempoBPM
	}
	beats := make([]float64, len(detected))
	for i, n := range detected {
		beats[i] = n.Onset * bpm / 60
	}

	first := true
	for a := 0; a < min(anchorCandidates, len(beats)); a++ {
		for e := 0; e < min(anchorCandidates, len(score.Notes)); e++ {
			shift := score.Notes[e].Beat - beats[a]
			m := c.greedy(score.Notes, detected, beats, shift)
			if first || better(m, best) {
				best, first = m, false
			}
		}
	}
	return best
}

func better(m, than matching) bool {
	if len(m.pairs) != len(than.pairs) {
		return len(m.pairs) > len(than.pairs)
	}
	return m.absDeviation() < than.absDeviation()-1e-9
}

// greedy pairs notes nearest-onset first. Among equally near candidates a
// pitch match is preferred, which keeps chords from stealing each other's
// notes.
func (c *Comparator) greedy(expected []model.Note, detected []model.DetectedNote, beats []float64, shift float64) matching {
	type candidate struct {
		pair
		samePitch bool
	}
	var cands []candidate
	for e, n := range expected {
		lo := sort.SearchFloat64s(beats, n.Beat-shift-c.tolerance-1e-9)
		for d := lo; d < len(beats); d++ {
			dev := beats[d] + shift - n.Beat
			if dev > c.tolerance+1e-9 {
				break
			}
			cands = append(cands, candidate{
				pair:      pair{e: e, d: d, dev: dev},
				samePitch: detected[d].Pitch == n.Pitch,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ai, aj := math.Abs(cands[i].dev), math.Abs(cands[j].dev)
		if math.Abs(ai-aj) > 1e-9 {
			return ai < aj
		}
		if cands[i].samePitch != cands[j].samePitch {
			return cands[i].samePitch
		}
		if cands[i].e != cands[j].e {
			return cands[i].e < cands[j].e
		}
		return cands[i].d < cands[j].d
	})

	usedE := make([]bool, len(expected))
	usedD := make([]bool, len(detected))
	m := matching{expected: expected, detected: detected}
	for _, cand := range cands {
		if usedE[cand.e] || usedD[cand.d] {
			continue
		}
		usedE[cand.e], usedD[cand.d] = true, true
		m.pairs = append(m.pairs, cand.pair)
	}
	sort.Slice(m.pairs, func(i, j int) bool { return m.pairs[i].e < m.pairs[j].e })
	return m
}
