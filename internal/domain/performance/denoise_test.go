package performance_test

import (
	"math"
	"testing"

	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/internal/synth"
	. "github.com/smartystreets/goconvey/convey"
)

func rms(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}

func TestSpectralGate(t *testing.T) {
	gate := performance.NewSpectralGate()

	// One second of A4 between one-second pauses.
	tone := make([]float64, 3*rate)
	for i := rate; i < 2*rate; i++ {
		tone[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate)
	}

	Convey("A clean signal passes through unchanged", t, func() {
		out := gate.Denoise(tone, rate)
		So(out, ShouldHaveLength, len(tone))
		worst := 0.0
		for i := range out {
			worst = math.Max(worst, math.Abs(out[i]-tone[i]))
		}
		So(worst, ShouldBeLessThan, 1e-9)
	})

	Convey("Background noise is attenuated and the tone kept", t, func() {
		noisy := append([]float64(nil), tone...)
		synth.AddNoise(noisy, 0.02, 42)
		out := gate.Denoise(noisy, rate)

		pause := func(x []float64) []float64 { return x[rate/10 : 9*rate/10] }
		body := func(x []float64) []float64 { return x[rate+rate/10 : 2*rate-rate/10] }

		So(rms(pause(out)), ShouldBeLessThan, 0.75*rms(pause(noisy)))
		So(rms(body(out)), ShouldAlmostEqual, rms(body(tone)), 0.1*rms(body(tone)))
	})

	Convey("A steady tone keeps a flat loudness trace", t, func() {
		steady := make([]float64, 4*rate)
		for i := range steady {
			steady[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate)
		}
		trace := performance.NewRMSDynamics().Trace(gate.Denoise(steady, rate), rate)
		So(len(trace), ShouldBeGreaterThan, 2)
		// The outer windows see the padded edge frames.
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range trace[1 : len(trace)-1] {
			lo, hi = math.Min(lo, p.LoudnessDB), math.Max(hi, p.LoudnessDB)
		}
		So(hi-lo, ShouldBeLessThan, 0.5)
	})

	Convey("A held note over a noisy background is not gated mid-note", t, func() {
		held := make([]float64, 6*rate)
		for i := rate; i < 5*rate; i++ {
			held[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate)
		}
		clean := append([]float64(nil), held...)
		synth.AddNoise(held, 0.01, 7)
		out := gate.Denoise(held, rate)

		middle := func(x []float64) []float64 { return x[2*rate : 4*rate] }
		edge := func(x []float64) []float64 { return x[rate+rate/5 : rate+rate/2] }
		So(rms(middle(out)), ShouldAlmostEqual, rms(middle(clean)), 0.1*rms(middle(clean)))
		So(rms(edge(out)), ShouldAlmostEqual, rms(middle(out)), 0.1*rms(middle(out)))
	})

	Convey("Signals shorter than one frame are copied", t, func() {
		short := []float64{0.1, 0.2, 0.3}
		out := gate.Denoise(short, rate)
		So(out, ShouldResemble, short)
		out[0] = 9
		So(short[0], ShouldEqual, 0.1)
	})
}
