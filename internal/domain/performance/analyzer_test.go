package performance_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/internal/synth"
	. "github.com/smartystreets/goconvey/convey"
)

const rate = 22050

func scale(names ...string) model.ScoreModel {
	notes := make([]model.Note, 0, len(names))
	for i, n := range names {
		notes = append(notes, model.Note{Pitch: model.MustPitch(n), Beat: float64(i), Beats: 1})
	}
	return model.ScoreModel{Notes: notes, TempoBPM: 120}.Finalize()
}

type slowDenoiser struct{ d time.Duration }

func (s slowDenoiser) Denoise(x []float64, _ int) []float64 {
	time.Sleep(s.d)
	return x
}

func TestAnalyzer(t *testing.T) {
	ctx := context.Background()
	analyzer := performance.NewAnalyzer()

	Convey("Given a C major scale played at 100 BPM", t, func() {
		score := scale("C4", "D4", "E4", "F4", "G4", "A4", "B4", "C5")
		tones := synth.Tones(score, 100, 0.5)
		rec := performance.Recording{Samples: synth.Render(tones, rate, 0.5), SampleRate: rate, Channels: 1}

		pm, err := analyzer.Analyze(ctx, rec, model.Violin)
		So(err, ShouldBeNil)

		Convey("every note is detected with its pitch and onset", func() {
			So(pm.DetectedNotes, ShouldHaveLength, len(score.Notes))
			for i, n := range pm.DetectedNotes {
				So(n.Pitch, ShouldEqual, score.Notes[i].Pitch)
				So(n.Onset, ShouldAlmostEqual, tones[i].Onset, 0.03)
				So(n.Confidence, ShouldBeGreaterThan, 0.6)
				So(n.FrequencyHz, ShouldAlmostEqual, score.Notes[i].Pitch.Frequency(), score.Notes[i].Pitch.Frequency()*0.03)
			}
		})

		Convey("the tempo is estimated", func() {
			So(pm.TempoBPMEstimate, ShouldAlmostEqual, 100, 3)
			So(pm.TempoConfidence, ShouldBeGreaterThan, 0)
		})

		Convey("the loudness trace covers the recording in 100 ms steps", func() {
			window := rate / 10
			So(len(pm.DynamicsTrace), ShouldEqual, (len(rec.Samples)+window-1)/window)
			So(pm.DynamicsTrace[1].Time, ShouldAlmostEqual, 0.1, 1e-3)
			loudest := model.PPP
			for _, p := range pm.DynamicsTrace {
				loudest = max(loudest, p.Level)
			}
			So(loudest, ShouldBeGreaterThanOrEqualTo, model.FF)
		})

		Convey("articulation and timbre are described", func() {
			So(pm.ArticulationTags, ShouldNotBeEmpty)
			So(pm.Timbre.SpectralCentroidHz, ShouldBeGreaterThan, 200)
			So(pm.Timbre.SpectralRolloffHz, ShouldBeGreaterThanOrEqualTo, pm.Timbre.SpectralCentroidHz*0.5)
			So(pm.Timbre.ZeroCrossingRate, ShouldBeGreaterThan, 0)
		})

		Convey("the model echoes the input", func() {
			So(pm.Instrument, ShouldEqual, model.Violin)
			So(pm.SampleRate, ShouldEqual, rate)
			So(pm.DurationSeconds, ShouldAlmostEqual, float64(len(rec.Samples))/rate, 1e-9)
		})
	})

	Convey("Stereo input is downmixed", t, func() {
		mono := synth.Render(synth.Tones(scale("A4", "A4", "E5", "E5"), 120, 0.3), rate, 0.3)
		stereo := make([]float64, 0, 2*len(mono))
		for _, v := range mono {
			stereo = append(stereo, v, v)
		}
		pm, err := analyzer.Analyze(ctx, performance.Recording{Samples: stereo, SampleRate: rate, Channels: 2}, model.Flute)
		So(err, ShouldBeNil)
		So(pm.DetectedNotes, ShouldHaveLength, 4)
		So(pm.DetectedNotes[2].Pitch.Name(), ShouldEqual, "E5")
	})

	Convey("Percussive instruments use energy onsets", t, func() {
		var onsets []float64
		for i := 0; i < 8; i++ {
			onsets = append(onsets, 0.4+0.5*float64(i))
		}
		rec := performance.Recording{Samples: synth.Clicks(onsets, rate, 0.6), SampleRate: rate}
		pm, err := analyzer.Analyze(ctx, rec, model.Marimba)
		So(err, ShouldBeNil)
		So(pm.DetectedNotes, ShouldHaveLength, len(onsets))
		for i, n := range pm.DetectedNotes {
			So(n.Onset, ShouldAlmostEqual, onsets[i], 0.025)
		}
		So(pm.TempoBPMEstimate, ShouldAlmostEqual, 120, 3)
	})

	Convey("Invalid recordings fail with their kind", t, func() {
		long := make([]float64, 2*rate)
		long[100] = 0.5

		cases := []struct {
			name string
			rec  performance.Recording
			want error
		}{
			{"no samples", performance.Recording{SampleRate: rate}, performance.ErrEmptyRecording},
			{"digital silence", performance.Recording{Samples: make([]float64, 2*rate), SampleRate: rate}, performance.ErrEmptyRecording},
			{"too short", performance.Recording{Samples: []float64{0.1, -0.1, 0.2}, SampleRate: rate}, performance.ErrTooShort},
			{"three channels", performance.Recording{Samples: long[:3*rate/2], SampleRate: rate, Channels: 3}, performance.ErrUnsupportedFormat},
			{"low sample rate", performance.Recording{Samples: long, SampleRate: 4000}, performance.ErrUnsupportedFormat},
			{"non-finite sample", performance.Recording{Samples: append([]float64{math.NaN()}, long...), SampleRate: rate}, performance.ErrUnsupportedFormat},
		}
		for _, tc := range cases {
			_, err := analyzer.Analyze(ctx, tc.rec, model.Piano)
			So(errors.Is(err, tc.want), ShouldBeTrue)
			_, ok := performance.AsFailure(err)
			So(ok, ShouldBeTrue)
		}
	})

	Convey("An unknown instrument is rejected", t, func() {
		_, err := analyzer.Analyze(ctx, performance.Recording{Samples: []float64{1}, SampleRate: rate}, "kazoo")
		So(errors.Is(err, performance.ErrUnknownInstrument), ShouldBeTrue)
	})

	Convey("A slow analysis times out", t, func() {
		slow := performance.NewAnalyzer(
			performance.WithDenoiser(slowDenoiser{d: 300 * time.Millisecond}),
			performance.WithTimeout(20*time.Millisecond),
		)
		samples := synth.Render(synth.Tones(scale("C4", "E4"), 120, 0.5), rate, 0.5)
		_, err := slow.Analyze(ctx, performance.Recording{Samples: samples, SampleRate: rate}, model.Cello)
		So(errors.Is(err, performance.ErrAnalysisTimeout), ShouldBeTrue)
		f, ok := performance.AsFailure(err)
		So(ok, ShouldBeTrue)
		So(f.Kind.String(), ShouldEqual, "analysis_timeout")
	})
}
