// Package feedback turns per-dimension scores into a report for the player.
package feedback

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/okian/etude/internal/domain/compare"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/metrics"
)

// Default thresholds.
const (
	DefaultRecommendBelow     = 70
	DefaultReinforceFrom      = 90
	DefaultMaxRecommendations = 5
	strengthFrom              = 80
)

// Option applies a configuration option to the Synthesizer.
type Option func(*Synthesizer)

// WithWeights replaces the dimension weights. Weights that do not form a
// distribution are ignored.
func WithWeights(w Weights) Option {
	return func(s *Synthesizer) {
		if w.Validate() == nil {
			s.weights = w
		}
	}
}

// WithThresholds sets the score below which a dimension gets advice and
// the score from which it gets praise.
func WithThresholds(recommendBelow, reinforceFrom int) Option {
	return func(s *Synthesizer) {
		if recommendBelow <= reinforceFrom {
			s.low, s.high = recommendBelow, reinforceFrom
		}
	}
}

// WithMaxRecommendations caps the recommendation list.
func WithMaxRecommendations(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxRecs = n
		}
	}
}

// WithClock sets the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		if now != nil {
			s.now = now
		}
	}
}

// Synthesizer builds feedback reports. It is stateless after construction.
type Synthesizer struct {
	weights   Weights
	low, high int
	maxRecs   int
	now       func() time.Time
}

// NewSynthesizer creates a synthesizer with the default weights and thresholds.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		weights: DefaultWeights(),
		low:     DefaultRecommendBelow,
		high:    DefaultReinforceFrom,
		maxRecs: DefaultMaxRecommendations,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize builds the report for one comparison. An insufficient-data
// result produces a report without an overall score.
func (s *Synthesizer) Synthesize(res compare.Result, dynamicsEnabled bool) model.FeedbackReport {
	report := model.FeedbackReport{
		DynamicsEnabled: dynamicsEnabled,
		CreatedAt:       s.now().UTC(),
	}
	if !res.Sufficient() {
		metrics.RecordInsufficientData()
		report.Status = model.StatusInsufficientData
		report.Reason = res.Reason
		report.Summary = "Not enough data to score this performance."
		report.Recommendations = []string{
			"No notes could be read from the sheet music. Try a sharper scan or a higher-resolution image and record again.",
		}
		return report
	}

	scores := res.Scores
	if !dynamicsEnabled {
		scores.Dynamics = nil
	}
	dims := scores.Enabled()
	weights := s.weights.For(dims)

	var total float64
	for _, d := range dims {
		ds, _ := scores.Get(d)
		total += weights[d] * float64(ds.Score)
	}
	overall := int(math.Round(total))
	metrics.RecordOverallScore(overall)

	report.Status = model.StatusScored
	report.OverallScore = &overall
	report.PerDimension = scores
	report.Weights = weights
	report.Strengths = lo.Filter(dims, func(d model.Dimension, _ int) bool {
		ds, _ := scores.Get(d)
		return ds.Score >= strengthFrom
	})
	report.Recommendations = s.recommend(scores)
	report.Summary = summarize(overall, report.Strengths)
	return report
}

func (s *Synthesizer) recommend(scores model.DimensionScores) []string {
	dims := scores.Enabled()
	// Worst first; canonical order breaks ties.
	sort.SliceStable(dims, func(i, j int) bool {
		a, _ := scores.Get(dims[i])
		b, _ := scores.Get(dims[j])
		return a.Score < b.Score
	})

	// Every weak dimension keeps its first line; further advice and praise
	// fill whatever room the cap leaves.
	var primary, extra, praised []string
	for _, d := range dims {
		ds, _ := scores.Get(d)
		switch {
		case ds.Score < s.low:
			lines := advice(d, ds)
			if len(lines) > 0 {
				primary = append(primary, lines[0])
				extra = append(extra, lines[1:]...)
			}
		case ds.Score >= s.high:
			praised = append(praised, praise[d])
		}
	}
	primary = lo.Uniq(primary)
	if len(primary) == 0 && len(praised) == 0 {
		return []string{"A solid performance. Aim for the same accuracy across the whole piece."}
	}
	limit := max(s.maxRecs, len(primary))
	recs := primary
	for _, line := range lo.Uniq(append(extra, praised...)) {
		if len(recs) >= limit {
			break
		}
		if !lo.Contains(recs, line) {
			recs = append(recs, line)
		}
	}
	return recs
}

var praise = map[model.Dimension]string{
	model.DimensionPitch:    "Excellent intonation: almost every note was right.",
	model.DimensionRhythm:   "Your rhythm is precise. Keep that steady pulse.",
	model.DimensionTempo:    "You held the marked tempo very well.",
	model.DimensionDynamics: "Good dynamic control with clear contrast.",
}

func advice(d model.Dimension, ds model.DimensionScore) []string {
	switch d {
	case model.DimensionPitch:
		pm := ds.Detail.Pitch
		if pm == nil {
			return []string{"Practise slowly and check each note against a reference pitch."}
		}
		out := []string{fmt.Sprintf("Work on note accuracy: %d of %d notes were played correctly. Practise slowly with a tuner or reference pitch.",
			pm.Correct, pm.Expected)}
		if pm.Missed > pm.Expected/4 {
			out = append(out, fmt.Sprintf("%d notes were not heard at all. Make sure every note speaks clearly.", pm.Missed))
		}
		if len(pm.Errors) > 0 {
			e := pm.Errors[0]
			out = append(out, fmt.Sprintf("Check beat %s: the score has %s but %s was played.", formatBeat(e.Beat), e.Expected, e.Played))
		}
		return out
	case model.DimensionRhythm:
		rm := ds.Detail.Rhythm
		if rm == nil {
			return []string{"Practise with a metronome and count the subdivisions."}
		}
		switch rm.Tendency {
		case model.TendencyRushing:
			return []string{"You tend to rush ahead of the beat. Practise with a metronome and let each note take its full value."}
		case model.TendencyDragging:
			return []string{"You tend to fall behind the beat. Practise with a metronome and anticipate each entry."}
		default:
			return []string{fmt.Sprintf("Note timing is uneven (off by %.2f beats on average). Count the subdivisions with a metronome.", rm.MeanAbsDeviationBeats)}
		}
	case model.DimensionTempo:
		tm := ds.Detail.Tempo
		if tm == nil {
			return []string{"Practise with a metronome at the marked tempo."}
		}
		if tm.Rating == model.TempoTooSlow {
			return []string{fmt.Sprintf("You played at %.0f BPM against a marked %.0f BPM. Raise the metronome a few BPM at a time.", tm.ActualBPM, tm.ExpectedBPM)}
		}
		return []string{fmt.Sprintf("You played at %.0f BPM against a marked %.0f BPM. Slow down and keep control.", tm.ActualBPM, tm.ExpectedBPM)}
	case model.DimensionDynamics:
		dm := ds.Detail.Dynamics
		if dm != nil && dm.Variety != "varied" {
			return []string{"Add more dynamic contrast: make the loud passages louder and the soft ones softer."}
		}
		return []string{"Keep your loudness under control: aim for deliberate, gradual changes."}
	}
	return nil
}

func formatBeat(b float64) string {
	// Beats are zero-based internally.
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", b+1), "0"), ".")
}

func summarize(overall int, strengths []model.Dimension) string {
	var band string
	switch {
	case overall >= 90:
		band = "Outstanding performance"
	case overall >= 80:
		band = "Very good performance"
	case overall >= 70:
		band = "Good performance"
	case overall >= 60:
		band = "Fair performance"
	default:
		band = "Needs improvement"
	}
	out := fmt.Sprintf("%s (%d/100).", band, overall)
	if len(strengths) > 0 {
		out += " Strengths: " + strings.Join(lo.Map(strengths, func(d model.Dimension, _ int) string { return string(d) }), ", ") + "."
	}
	return out
}
