package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Pitch is a MIDI note number; 60 is middle C (C4).
type Pitch int

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var stepSemitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// Name renders the pitch in scientific notation with sharps, e.g. "F#4".
func (p Pitch) Name() string {
	n := int(p)
	octave := n/12 - 1
	if n < 0 {
		octave = (n-11)/12 - 1
	}
	return pitchClassNames[((n%12)+12)%12] + strconv.Itoa(octave)
}

func (p Pitch) String() string { return p.Name() }

// Frequency returns the equal-tempered frequency in Hz (A4 = 440).
func (p Pitch) Frequency() float64 {
	return 440 * math.Pow(2, float64(int(p)-69)/12)
}

// FrequencyToMIDI converts Hz to a fractional MIDI number.
func FrequencyToMIDI(hz float64) float64 {
	if hz <= 0 {
		return math.NaN()
	}
	return 69 + 12*math.Log2(hz/440)
}

// PitchFromFrequency rounds a frequency to the nearest MIDI pitch.
func PitchFromFrequency(hz float64) Pitch {
	return Pitch(math.Round(FrequencyToMIDI(hz)))
}

// PitchFromStep builds a pitch from MusicXML-style step, alter and octave.
func PitchFromStep(step string, alter, octave int) (Pitch, error) {
	step = strings.ToUpper(strings.TrimSpace(step))
	if len(step) != 1 {
		return 0, fmt.Errorf("%w: step %q", ErrInvalidPitch, step)
	}
	semi, ok := stepSemitones[step[0]]
	if !ok {
		return 0, fmt.Errorf("%w: step %q", ErrInvalidPitch, step)
	}
	return Pitch((octave+1)*12 + semi + alter), nil
}

// ParsePitch parses names such as "C4", "F#3", "Bb5".
func ParsePitch(name string) (Pitch, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPitch, name)
	}
	step := name[:1]
	rest := name[1:]
	alter := 0
	for len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		if rest[0] == '#' {
			alter++
		} else {
			alter--
		}
		rest = rest[1:]
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPitch, name)
	}
	return PitchFromStep(step, alter, octave)
}

// MustPitch is ParsePitch for constants; it panics on malformed input.
func MustPitch(name string) Pitch {
	p, err := ParsePitch(name)
	if err != nil {
		panic(err)
	}
	return p
}
