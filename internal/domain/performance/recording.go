package performance

import (
	"math"
	"time"
)

// Sample rate bounds accepted by the analyzer.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// silenceFloor is the largest magnitude still treated as digital silence.
const silenceFloor = 1e-6

// Recording is decoded PCM. Multi-channel samples are interleaved.
type Recording struct {
	Samples    []float64
	SampleRate int
	// Channels is 1 or 2; 0 means 1.
	Channels int
}

// Duration returns the recording length.
func (r Recording) Duration() time.Duration {
	ch := max(1, r.Channels)
	if r.SampleRate <= 0 {
		return 0
	}
	frames := len(r.Samples) / ch
	return time.Duration(float64(frames) / float64(r.SampleRate) * float64(time.Second))
}

// mono validates r and returns its samples downmixed to one channel.
func (r Recording) mono(minDuration time.Duration) ([]float64, error) {
	ch := r.Channels
	if ch == 0 {
		ch = 1
	}
	if ch < 1 || ch > 2 {
		return nil, fail(UnsupportedFormat, "%d channels", r.Channels)
	}
	if r.SampleRate < MinSampleRate || r.SampleRate > MaxSampleRate {
		return nil, fail(UnsupportedFormat, "sample rate %d Hz", r.SampleRate)
	}
	if len(r.Samples) == 0 {
		return nil, fail(EmptyRecording, "no samples")
	}
	if len(r.Samples)%ch != 0 {
		return nil, fail(UnsupportedFormat, "%d samples do not divide into %d channels", len(r.Samples), ch)
	}

	out := make([]float64, len(r.Samples)/ch)
	loud := false
	for i := range out {
		var v float64
		for c := 0; c < ch; c++ {
			s := r.Samples[i*ch+c]
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return nil, fail(UnsupportedFormat, "non-finite sample at %d", i*ch+c)
			}
			v += s
		}
		v /= float64(ch)
		if math.Abs(v) > silenceFloor {
			loud = true
		}
		out[i] = v
	}
	if !loud {
		return nil, fail(EmptyRecording, "recording is silent")
	}
	if d := r.Duration(); d < minDuration {
		return nil, fail(TooShort, "%s is under the %s minimum", d.Round(time.Millisecond), minDuration)
	}
	return out, nil
}
