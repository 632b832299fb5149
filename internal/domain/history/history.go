// Package history compares a practice attempt with the previous attempt on
// the same piece. It does no storage access; the caller supplies the
// previous report and the attempt count.
package history

import (
	"fmt"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/metrics"
)

// DefaultMateriality is the smallest per-dimension change worth reporting.
const DefaultMateriality = 3

// Option configures a Comparator.
type Option func(*Comparator)

// WithMateriality sets the smallest reported per-dimension change.
func WithMateriality(points int) Option {
	return func(c *Comparator) {
		if points >= 0 {
			c.materiality = points
		}
	}
}

// Comparator builds comparison reports.
type Comparator struct {
	materiality int
}

// NewComparator creates a comparator with the default materiality.
func NewComparator(opts ...Option) *Comparator {
	c := &Comparator{materiality: DefaultMateriality}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare reports the progress from previous to current. previous is nil on
// the first attempt. totalAttempts includes the current one.
func (c *Comparator) Compare(current model.FeedbackReport, previous *model.FeedbackReport, totalAttempts int) model.ComparisonReport {
	metrics.RecordHistoryComparison(previous != nil)

	out := model.ComparisonReport{
		HasPrevious:     previous != nil,
		CurrentScore:    current.OverallScore,
		DimensionDeltas: []model.DimensionDelta{},
		Improvements:    []model.Dimension{},
		NeedsWork:       []model.Dimension{},
		TotalAttempts:   totalAttempts,
	}
	if previous == nil {
		out.Message = "First attempt on this piece. Practise again to track your progress."
		return out
	}
	out.PreviousScore = previous.OverallScore
	if !current.Scored() || !previous.Scored() {
		out.Message = "One of the attempts could not be scored, so they cannot be compared."
		return out
	}

	out.Comparable = true
	out.ScoreDelta = *current.OverallScore - *previous.OverallScore
	for _, d := range current.PerDimension.Enabled() {
		prev, ok := previous.PerDimension.Get(d)
		if !ok {
			continue
		}
		cur, _ := current.PerDimension.Get(d)
		delta := model.DimensionDelta{Dimension: d, Previous: prev.Score, Current: cur.Score, Delta: cur.Score - prev.Score}
		out.DimensionDeltas = append(out.DimensionDeltas, delta)
		switch {
		case delta.Delta >= c.materiality && delta.Delta > 0:
			out.Improvements = append(out.Improvements, d)
		case delta.Delta <= -c.materiality && delta.Delta < 0:
			out.NeedsWork = append(out.NeedsWork, d)
		}
	}
	out.Message = message(out.ScoreDelta, *previous.OverallScore, *current.OverallScore)
	return out
}

func message(delta, prev, cur int) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("Your score improved by %d points, from %d to %d.", delta, prev, cur)
	case delta < 0:
		return fmt.Sprintf("Your score decreased by %d points, from %d to %d.", -delta, prev, cur)
	default:
		return fmt.Sprintf("Your score stayed the same at %d.", cur)
	}
}
