package compare

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/etude/internal/domain/model"
)

// Dynamics expectations.
const (
	// Points quieter than this are silence between notes.
	dynamicsSilenceDB = -60.0

	contrastMinStdDB = 4.0
	contrastMaxStdDB = 12.0
	targetLevels     = 4
	levelLowDB       = -30.0
	levelHighDB      = -10.0
	levelPenaltyDB   = 3.0
	dynamicsFloor    = 40.0

	// Rhythm tendency threshold, in beats.
	tendencyBeats = 0.05
)

func clampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func pitchScore(score model.ScoreModel, m matching) model.DimensionScore {
	pm := &model.PitchMetrics{
		Expected: len(m.expected),
		Matched:  len(m.pairs),
		Missed:   len(m.expected) - len(m.pairs),
		Extra:    len(m.detected) - len(m.pairs),
	}
	for _, p := range m.pairs {
		want, got := m.expected[p.e], m.detected[p.d]
		if want.Pitch == got.Pitch {
			pm.Correct++
			continue
		}
		if len(pm.Errors) < maxPitchErrors {
			pm.Errors = append(pm.Errors, model.PitchError{Beat: want.Beat, Expected: want.Pitch, Played: got.Pitch})
		}
	}
	pm.Accuracy = float64(pm.Correct) / float64(pm.Expected)
	return model.DimensionScore{
		Score:      clampScore(pm.Accuracy * 100),
		Confidence: model.ConfidenceStandard,
		Detail:     model.DimensionDetail{Pitch: pm},
	}
}

func (c *Comparator) rhythmScore(m matching) model.DimensionScore {
	rm := &model.RhythmMetrics{MatchedPairs: len(m.pairs), Tendency: model.TendencySteady}
	out := model.DimensionScore{Confidence: model.ConfidenceStandard, Detail: model.DimensionDetail{Rhythm: rm}}
	if len(m.pairs) == 0 {
		return out
	}
	devs := make([]float64, len(m.pairs))
	abs := make([]float64, len(m.pairs))
	for i, p := range m.pairs {
		devs[i] = p.dev
		abs[i] = math.Abs(p.dev)
	}
	rm.MeanAbsDeviationBeats = stat.Mean(abs, nil)
	rm.MeanDeviationBeats = stat.Mean(devs, nil)
	rm.MaxDeviationBeats = floats.Max(abs)
	switch {
	case rm.MeanDeviationBeats < -tendencyBeats:
		rm.Tendency = model.TendencyRushing
	case rm.MeanDeviationBeats > tendencyBeats:
		rm.Tendency = model.TendencyDragging
	}
	out.Score = clampScore(100 * (1 - rm.MeanAbsDeviationBeats/c.maxDeviation))
	return out
}

func (c *Comparator) tempoScore(expected, actual float64) model.DimensionScore {
	tm := &model.TempoMetrics{
		ExpectedBPM:   expected,
		ActualBPM:     actual,
		DifferenceBPM: actual - expected,
	}
	tm.PercentDifference = 100 * tm.DifferenceBPM / expected
	dev := math.Abs(tm.PercentDifference)

	var score float64
	switch {
	case dev <= c.bandPct:
		score = 100
		tm.Rating = model.TempoGood
	case dev >= c.zeroPct:
		score = c.floor
	default:
		score = 100 - (100-c.floor)*(dev-c.bandPct)/(c.zeroPct-c.bandPct)
	}
	if tm.Rating == "" {
		tm.Rating = model.TempoTooFast
		if tm.DifferenceBPM < 0 {
			tm.Rating = model.TempoTooSlow
		}
	}
	return model.DimensionScore{
		Score:      clampScore(score),
		Confidence: model.ConfidenceStandard,
		Detail:     model.DimensionDetail{Tempo: tm},
	}
}

// dynamicsScore blends contrast (spread of loudness), variety (distinct
// levels used) and overall level. It reports false when the trace has no
// sounding points.
func dynamicsScore(trace []model.DynamicsPoint) (model.DimensionScore, bool) {
	var db []float64
	seen := map[model.DynamicLevel]bool{}
	for _, p := range trace {
		if p.LoudnessDB < dynamicsSilenceDB || math.IsInf(p.LoudnessDB, 0) || math.IsNaN(p.LoudnessDB) {
			continue
		}
		db = append(db, p.LoudnessDB)
		seen[p.Level] = true
	}
	if len(db) == 0 {
		return model.DimensionScore{}, false
	}

	dm := &model.DynamicsMetrics{RangeDB: floats.Max(db) - floats.Min(db)}
	var variance float64
	dm.MeanDB, variance = stat.PopMeanVariance(db, nil)
	dm.StdDB = math.Sqrt(variance)
	for l := range seen {
		dm.LevelsUsed = append(dm.LevelsUsed, l)
	}
	sort.Slice(dm.LevelsUsed, func(i, j int) bool { return dm.LevelsUsed[i] < dm.LevelsUsed[j] })
	switch n := len(dm.LevelsUsed); {
	case n >= targetLevels:
		dm.Variety = "varied"
	case n > 1:
		dm.Variety = "limited"
	default:
		dm.Variety = "flat"
	}

	var contrast float64
	switch {
	case dm.StdDB < contrastMinStdDB:
		contrast = dynamicsFloor + (100-dynamicsFloor)*dm.StdDB/contrastMinStdDB
	case dm.StdDB > contrastMaxStdDB:
		contrast = math.Max(dynamicsFloor, 100-5*(dm.StdDB-contrastMaxStdDB))
	default:
		contrast = 100
	}
	variety := 100 * math.Min(1, float64(len(dm.LevelsUsed))/targetLevels)
	level := 100.0
	switch {
	case dm.MeanDB < levelLowDB:
		level = math.Max(dynamicsFloor, 100-levelPenaltyDB*(levelLowDB-dm.MeanDB))
	case dm.MeanDB > levelHighDB:
		level = math.Max(dynamicsFloor, 100-levelPenaltyDB*(dm.MeanDB-levelHighDB))
	}

	return model.DimensionScore{
		Score:      clampScore(0.5*contrast + 0.3*variety + 0.2*level),
		Confidence: model.ConfidenceHeuristic,
		Detail:     model.DimensionDetail{Dynamics: dm},
	}, true
}
