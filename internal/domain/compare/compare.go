// Package compare measures a performance against the score it was played from.
//
// Scores are 0..100 per dimension. Pitch, rhythm and tempo are standard
// confidence; dynamics has no reference in the score and is judged against a
// generic expectation of controlled contrast, so it is marked heuristic.
package compare

import (
	"fmt"

	"github.com/okian/etude/internal/domain/model"
)

// Comparator defaults.
const (
	DefaultOnsetTolerance     = 0.5 // beats
	DefaultMaxRhythmDeviation = 0.5 // beats
	DefaultTempoBandPct       = 5.0
	DefaultTempoZeroPct       = 30.0
	DefaultTempoFloor         = 40.0

	// anchorCandidates is how many leading notes are tried as the alignment anchor.
	anchorCandidates = 3
	// maxPitchErrors caps the wrong notes listed in the pitch detail.
	maxPitchErrors = 10
)

// Option configures a Comparator.
type Option func(*Comparator)

// WithOnsetTolerance sets the matching window, in beats either side.
func WithOnsetTolerance(beats float64) Option {
	return func(c *Comparator) {
		if beats > 0 {
			c.tolerance = beats
		}
	}
}

// WithMaxRhythmDeviation sets the mean deviation, in beats, that scores zero.
func WithMaxRhythmDeviation(beats float64) Option {
	return func(c *Comparator) {
		if beats > 0 {
			c.maxDeviation = beats
		}
	}
}

// WithTempoBand sets the tempo scoring curve: full marks within bandPct,
// floor at zeroPct and beyond, linear between.
func WithTempoBand(bandPct, zeroPct, floor float64) Option {
	return func(c *Comparator) {
		if bandPct >= 0 && zeroPct > bandPct && floor >= 0 && floor <= 100 {
			c.bandPct, c.zeroPct, c.floor = bandPct, zeroPct, floor
		}
	}
}

// Comparator compares scores and performances. It holds only thresholds
// and is safe for concurrent use.
type Comparator struct {
	tolerance    float64
	maxDeviation float64
	bandPct      float64
	zeroPct      float64
	floor        float64
}

// NewComparator creates a comparator with the default thresholds.
func NewComparator(opts ...Option) *Comparator {
	c := &Comparator{
		tolerance:    DefaultOnsetTolerance,
		maxDeviation: DefaultMaxRhythmDeviation,
		bandPct:      DefaultTempoBandPct,
		zeroPct:      DefaultTempoZeroPct,
		floor:        DefaultTempoFloor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one comparison. When Status is
// model.StatusInsufficientData, Scores is empty and Reason says why.
type Result struct {
	Status model.ReportStatus
	Scores model.DimensionScores
	Reason string
}

// Sufficient reports whether Scores can be used.
func (r Result) Sufficient() bool { return r.Status == model.StatusScored }

// InsufficientData returns the result for a comparison that cannot be scored.
func InsufficientData(reason string) Result {
	return Result{Status: model.StatusInsufficientData, Reason: reason}
}

// Compare scores perf against score. Dynamics is scored only when
// dynamics is true and the recording has a usable loudness trace.
func (c *Comparator) Compare(score model.ScoreModel, perf model.PerformanceModel, dynamics bool) Result {
	if len(score.Notes) == 0 {
		return InsufficientData("no notes were recognized in the sheet music")
	}
	if score.TempoBPM <= 0 {
		score.TempoBPM = model.DefaultTempoBPM
	}

	m := c.match(score, perf)
	out := Result{Status: model.StatusScored}
	out.Scores.Pitch = pitchScore(score, m)
	out.Scores.Rhythm = c.rhythmScore(m)
	out.Scores.Tempo = c.tempoScore(score.TempoBPM, perf.TempoBPMEstimate)
	if dynamics {
		if d, ok := dynamicsScore(perf.DynamicsTrace); ok {
			out.Scores.Dynamics = &d
		}
	}
	return out
}

func (r Result) String() string {
	if !r.Sufficient() {
		return fmt.Sprintf("insufficient data: %s", r.Reason)
	}
	return fmt.Sprintf("pitch=%d rhythm=%d tempo=%d", r.Scores.Pitch.Score, r.Scores.Rhythm.Score, r.Scores.Tempo.Score)
}
