package model

import (
	"fmt"
	"time"
)

// Dimension names one scored aspect of a performance.
type Dimension string

// Scored dimensions.
const (
	DimensionPitch    Dimension = "pitch"
	DimensionRhythm   Dimension = "rhythm"
	DimensionTempo    Dimension = "tempo"
	DimensionDynamics Dimension = "dynamics"
)

// Dimensions lists every dimension in canonical order.
func Dimensions() []Dimension {
	return []Dimension{DimensionPitch, DimensionRhythm, DimensionTempo, DimensionDynamics}
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Confidence marks how much a dimension score can be trusted.
type Confidence string

// Score confidence levels.
const (
	ConfidenceStandard  Confidence = "standard"
	ConfidenceHeuristic Confidence = "heuristic"
)

// PitchError records one wrong note.
type PitchError struct {
	Beat     float64 `json:"beat"`
	Expected Pitch   `json:"expected"`
	Played   Pitch   `json:"played"`
}

// PitchMetrics is the pitch comparison detail.
type PitchMetrics struct {
	Expected int          `json:"expected"`
	Matched  int          `json:"matched"`
	Correct  int          `json:"correct"`
	Missed   int          `json:"missed"`
	Extra    int          `json:"extra"`
	Accuracy float64      `json:"accuracy"`
	Errors   []PitchError `json:"errors,omitempty"`
}

// RhythmMetrics is the onset-timing detail, in beats.
type RhythmMetrics struct {
	MatchedPairs          int     `json:"matched_pairs"`
	MeanAbsDeviationBeats float64 `json:"mean_abs_deviation_beats"`
	MeanDeviationBeats    float64 `json:"mean_deviation_beats"`
	MaxDeviationBeats     float64 `json:"max_deviation_beats"`
	Tendency              string  `json:"tendency"`
}

// Rhythm tendencies.
const (
	TendencySteady   = "steady"
	TendencyRushing  = "rushing"
	TendencyDragging = "dragging"
)

// TempoMetrics is the tempo comparison detail.
type TempoMetrics struct {
	ExpectedBPM       float64 `json:"expected_bpm"`
	ActualBPM         float64 `json:"actual_bpm"`
	DifferenceBPM     float64 `json:"difference_bpm"`
	PercentDifference float64 `json:"percent_difference"`
	Rating            string  `json:"rating"`
}

// Tempo ratings.
const (
	TempoGood    = "good"
	TempoTooSlow = "too_slow"
	TempoTooFast = "too_fast"
)

// DynamicsMetrics is the loudness-shape detail.
type DynamicsMetrics struct {
	MeanDB     float64        `json:"mean_db"`
	StdDB      float64        `json:"std_db"`
	RangeDB    float64        `json:"range_db"`
	LevelsUsed []DynamicLevel `json:"levels_used"`
	Variety    string         `json:"variety"`
}

// DimensionDetail carries the metrics for exactly one dimension.
type DimensionDetail struct {
	Pitch    *PitchMetrics    `json:"pitch,omitempty"`
	Rhythm   *RhythmMetrics   `json:"rhythm,omitempty"`
	Tempo    *TempoMetrics    `json:"tempo,omitempty"`
	Dynamics *DynamicsMetrics `json:"dynamics,omitempty"`
}

// DimensionScore is a 0..100 score with its supporting detail.
type DimensionScore struct {
	Score      int             `json:"score"`
	Confidence Confidence      `json:"confidence"`
	Detail     DimensionDetail `json:"detail"`
}

// DimensionScores holds one score per dimension. Dynamics is nil when the
// caller disabled it.
type DimensionScores struct {
	Pitch    DimensionScore  `json:"pitch"`
	Rhythm   DimensionScore  `json:"rhythm"`
	Tempo    DimensionScore  `json:"tempo"`
	Dynamics *DimensionScore `json:"dynamics,omitempty"`
}

// Get returns the score for d and whether it is present.
func (s DimensionScores) Get(d Dimension) (DimensionScore, bool) {
	switch d {
	case DimensionPitch:
		return s.Pitch, true
	case DimensionRhythm:
		return s.Rhythm, true
	case DimensionTempo:
		return s.Tempo, true
	case DimensionDynamics:
		if s.Dynamics != nil {
			return *s.Dynamics, true
		}
	}
	return DimensionScore{}, false
}

// Enabled lists present dimensions in canonical order.
func (s DimensionScores) Enabled() []Dimension {
	dims := []Dimension{DimensionPitch, DimensionRhythm, DimensionTempo}
	if s.Dynamics != nil {
		dims = append(dims, DimensionDynamics)
	}
	return dims
}

// ReportStatus tells whether a report carries a score.
type ReportStatus string

// Report statuses.
const (
	StatusScored           ReportStatus = "scored"
	StatusInsufficientData ReportStatus = "insufficient_data"
)

// FeedbackReport is the scored comparison of one performance against its score.
type FeedbackReport struct {
	Status ReportStatus `json:"status"`
	// OverallScore is nil when Status is StatusInsufficientData.
	OverallScore    *int                  `json:"overall_score"`
	PerDimension    DimensionScores       `json:"per_dimension"`
	Weights         map[Dimension]float64 `json:"weights,omitempty"`
	DynamicsEnabled bool                  `json:"dynamics_enabled"`
	Recommendations []string              `json:"recommendations"`
	Summary         string                `json:"summary"`
	Strengths       []Dimension           `json:"strengths,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Scored reports whether the report has an overall score.
func (r FeedbackReport) Scored() bool {
	return r.Status == StatusScored && r.OverallScore != nil
}

// DimensionDelta is the change of one dimension between two attempts.
type DimensionDelta struct {
	Dimension Dimension `json:"dimension"`
	Previous  int       `json:"previous"`
	Current   int       `json:"current"`
	Delta     int       `json:"delta"`
}

// ComparisonReport summarizes progress between two attempts on one piece.
type ComparisonReport struct {
	HasPrevious bool `json:"has_previous"`
	// Comparable is false when either report could not be scored.
	Comparable      bool             `json:"comparable"`
	ScoreDelta      int              `json:"score_delta"`
	PreviousScore   *int             `json:"previous_score,omitempty"`
	CurrentScore    *int             `json:"current_score,omitempty"`
	DimensionDeltas []DimensionDelta `json:"dimension_deltas"`
	Improvements    []Dimension      `json:"improvements"`
	NeedsWork       []Dimension      `json:"needs_work"`
	TotalAttempts   int              `json:"total_attempts"`
	Message         string           `json:"message"`
}
