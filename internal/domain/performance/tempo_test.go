package performance_test

import (
	"testing"

	"github.com/okian/etude/internal/domain/performance"
	. "github.com/smartystreets/goconvey/convey"
)

func evenOnsets(n int, start, ioi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*ioi
	}
	return out
}

func TestReconcileTempo(t *testing.T) {
	Convey("Candidates an octave apart are folded before averaging", t, func() {
		bpm, conf := performance.ReconcileTempo([]performance.TempoCandidate{
			{BPM: 60, Confidence: 1},
			{BPM: 121, Confidence: 1},
			{BPM: 242, Confidence: 0.5},
		}, 120)
		So(bpm, ShouldAlmostEqual, (120+121+0.5*121)/2.5, 1e-9)
		So(conf, ShouldAlmostEqual, 2.5/3, 1e-9)
	})

	Convey("The prior picks the tempo octave", t, func() {
		bpm, _ := performance.ReconcileTempo([]performance.TempoCandidate{{BPM: 180, Confidence: 1}}, 90)
		So(bpm, ShouldAlmostEqual, 90, 1e-9)
	})

	Convey("Without usable candidates the prior is returned with zero confidence", t, func() {
		bpm, conf := performance.ReconcileTempo(nil, 0)
		So(bpm, ShouldEqual, performance.DefaultTempoBPM)
		So(conf, ShouldEqual, 0)

		bpm, conf = performance.ReconcileTempo([]performance.TempoCandidate{{BPM: 100, Confidence: 0}}, 96)
		So(bpm, ShouldEqual, 96)
		So(conf, ShouldEqual, 0)
	})

	Convey("Results are clamped to the supported range", t, func() {
		bpm, _ := performance.ReconcileTempo([]performance.TempoCandidate{{BPM: 300, Confidence: 1}}, 300)
		So(bpm, ShouldEqual, performance.MaxTempoBPM)
	})
}

func TestTempoEstimators(t *testing.T) {
	Convey("Given onsets every half second", t, func() {
		onsets := evenOnsets(9, 0.2, 0.5)
		// Short double triggers are ignored by the interval estimators.
		onsets = append(onsets[:3], append([]float64{onsets[2] + 0.03}, onsets[3:]...)...)

		Convey("the IOI median reads 120 BPM", func() {
			c, ok := performance.MedianIOITempo{}.Estimate(performance.TempoInput{Onsets: onsets})
			So(ok, ShouldBeTrue)
			So(c.BPM, ShouldAlmostEqual, 120, 1e-6)
			So(c.Confidence, ShouldBeGreaterThan, 0.9)
		})

		Convey("the IOI histogram reads 120 BPM", func() {
			c, ok := performance.HistogramIOITempo{BinWidth: 0.01}.Estimate(performance.TempoInput{Onsets: onsets})
			So(ok, ShouldBeTrue)
			So(c.BPM, ShouldAlmostEqual, 120, 1e-6)
			So(c.Confidence, ShouldAlmostEqual, 7.0/8, 1e-9)
		})

		Convey("the novelty autocorrelation reads 120 BPM", func() {
			nov := performance.Novelty{Hop: 0.01, Values: make([]float64, 500)}
			for i := 20; i < len(nov.Values); i += 50 {
				nov.Values[i] = 1
			}
			c, ok := performance.AutocorrelationTempo{}.Estimate(performance.TempoInput{Novelty: nov})
			So(ok, ShouldBeTrue)
			So(c.BPM, ShouldAlmostEqual, 120, 0.5)
			So(c.Confidence, ShouldBeGreaterThan, 0.5)
		})
	})

	Convey("Too few onsets give no estimate", t, func() {
		_, ok := performance.MedianIOITempo{}.Estimate(performance.TempoInput{Onsets: []float64{1, 1.5}})
		So(ok, ShouldBeFalse)
		_, ok = performance.AutocorrelationTempo{}.Estimate(performance.TempoInput{})
		So(ok, ShouldBeFalse)
	})
}
