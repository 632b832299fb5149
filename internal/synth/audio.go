package synth

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/okian/etude/internal/domain/model"
)

// Tone is one rendered note.
type Tone struct {
	Pitch model.Pitch
	// Onset and Duration in seconds.
	Onset    float64
	Duration float64
	// Gain scales the tone; 0 means 1.
	Gain float64
}

// Tones re-times score notes at bpm, offset by lead seconds. Each tone
// sounds for 85% of its written length so consecutive notes re-attack.
func Tones(score model.ScoreModel, bpm, lead float64) []Tone {
	if bpm <= 0 {
		bpm = score.TempoBPM
	}
	sec := 60 / bpm
	out := make([]Tone, 0, len(score.Notes))
	for _, n := range score.Notes {
		out = append(out, Tone{
			Pitch:    n.Pitch,
			Onset:    lead + n.Beat*sec,
			Duration: 0.85 * n.Beats * sec,
		})
	}
	return out
}

var harmonics = []float64{1, 0.5, 0.25, 0.12}

const (
	attackSeconds  = 0.005
	releaseSeconds = 0.02
	peak           = 0.8
)

// Render mixes tones into a mono signal at rate. The signal runs until the
// last tone ends plus tail seconds and is normalized to a 0.8 peak.
func Render(tones []Tone, rate int, tail float64) []float64 {
	end := 0.0
	for _, t := range tones {
		end = math.Max(end, t.Onset+t.Duration)
	}
	out := make([]float64, int(math.Ceil((end+tail)*float64(rate))))
	for _, t := range tones {
		gain := t.Gain
		if gain == 0 {
			gain = 1
		}
		f := t.Pitch.Frequency()
		start := int(t.Onset * float64(rate))
		n := int(t.Duration * float64(rate))
		for i := 0; i < n && start+i < len(out); i++ {
			if start+i < 0 {
				continue
			}
			ts := float64(i) / float64(rate)
			env := 1.0
			if ts < attackSeconds {
				env = ts / attackSeconds
			}
			if rem := t.Duration - ts; rem < releaseSeconds {
				env = math.Min(env, rem/releaseSeconds)
			}
			var v float64
			for h, a := range harmonics {
				v += a * math.Sin(2*math.Pi*f*float64(h+1)*ts)
			}
			out[start+i] += gain * env * v
		}
	}
	Normalize(out, peak)
	return out
}

// Normalize scales x in place so its largest magnitude is target.
func Normalize(x []float64, target float64) {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	if m == 0 {
		return
	}
	for i := range x {
		x[i] *= target / m
	}
}

// AddNoise adds uniform noise of the given amplitude with a fixed seed.
func AddNoise(x []float64, amplitude float64, seed int64) {
	r := rand.New(rand.NewSource(seed))
	for i := range x {
		x[i] += amplitude * (2*r.Float64() - 1)
	}
}

// Clicks renders short noise bursts at each onset, for percussive input.
func Clicks(onsets []float64, rate int, tail float64) []float64 {
	end := 0.0
	for _, o := range onsets {
		end = math.Max(end, o)
	}
	out := make([]float64, int(math.Ceil((end+tail)*float64(rate))))
	r := rand.New(rand.NewSource(7))
	burst := int(0.03 * float64(rate))
	for _, o := range onsets {
		start := int(o * float64(rate))
		for i := 0; i < burst && start+i < len(out); i++ {
			decay := math.Exp(-float64(i) / (0.005 * float64(rate)))
			out[start+i] += decay * (2*r.Float64() - 1)
		}
	}
	Normalize(out, peak)
	return out
}

// WAV encodes mono samples as 16-bit PCM WAV.
func WAV(x []float64, rate int) []byte {
	var buf bytes.Buffer
	data := uint32(2 * len(x))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+data)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size       uint32
		Format     uint16
		Channels   uint16
		Rate       uint32
		ByteRate   uint32
		BlockAlign uint16
		Bits       uint16
	}{16, 1, 1, uint32(rate), uint32(2 * rate), 2, 16})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, data)
	for _, v := range x {
		v = math.Max(-1, math.Min(1, v))
		_ = binary.Write(&buf, binary.LittleEndian, int16(math.Round(v*32767)))
	}
	return buf.Bytes()
}
