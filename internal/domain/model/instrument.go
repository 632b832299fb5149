package model

import (
	"fmt"
	"sort"
	"strings"
)

// Instrument identifies what a recording was played on.
type Instrument string

// Supported instruments.
const (
	Piano      Instrument = "piano"
	Guitar     Instrument = "guitar"
	Violin     Instrument = "violin"
	Viola      Instrument = "viola"
	Cello      Instrument = "cello"
	DoubleBass Instrument = "double_bass"
	Flute      Instrument = "flute"
	Clarinet   Instrument = "clarinet"
	Oboe       Instrument = "oboe"
	Bassoon    Instrument = "bassoon"
	Saxophone  Instrument = "saxophone"
	Trumpet    Instrument = "trumpet"
	Trombone   Instrument = "trombone"
	FrenchHorn Instrument = "french_horn"
	Tuba       Instrument = "tuba"
	Voice      Instrument = "voice"
	Timpani    Instrument = "timpani"
	Xylophone  Instrument = "xylophone"
	Marimba    Instrument = "marimba"
)

// Category groups instruments by onset character.
type Category string

// Instrument categories.
const (
	CategoryPitched    Category = "pitched"
	CategoryPercussion Category = "percussion"
)

// PitchRange is an inclusive MIDI range.
type PitchRange struct {
	Low  Pitch `json:"low"`
	High Pitch `json:"high"`
}

// Contains reports whether p lies within the range.
func (r PitchRange) Contains(p Pitch) bool { return p >= r.Low && p <= r.High }

// ContainsFrequency reports whether hz lies within the range, allowing half a
// semitone of slack at either end.
func (r PitchRange) ContainsFrequency(hz float64) bool {
	m := FrequencyToMIDI(hz)
	return m >= float64(r.Low)-0.5 && m <= float64(r.High)+0.5
}

// DefaultRange is used for instruments without a specific range (C2..C7).
var DefaultRange = PitchRange{Low: 36, High: 96}

type instrumentSpec struct {
	category Category
	rng      PitchRange
}

var instruments = map[Instrument]instrumentSpec{
	Piano:      {CategoryPitched, PitchRange{Low: 21, High: 108}},
	Guitar:     {CategoryPitched, PitchRange{Low: 40, High: 88}},
	Violin:     {CategoryPitched, PitchRange{Low: 55, High: 103}},
	Viola:      {CategoryPitched, PitchRange{Low: 48, High: 91}},
	Cello:      {CategoryPitched, PitchRange{Low: 36, High: 81}},
	DoubleBass: {CategoryPitched, PitchRange{Low: 28, High: 67}},
	Flute:      {CategoryPitched, PitchRange{Low: 60, High: 98}},
	Clarinet:   {CategoryPitched, PitchRange{Low: 50, High: 94}},
	Oboe:       {CategoryPitched, PitchRange{Low: 58, High: 91}},
	Bassoon:    {CategoryPitched, PitchRange{Low: 34, High: 75}},
	Saxophone:  {CategoryPitched, PitchRange{Low: 49, High: 81}},
	Trumpet:    {CategoryPitched, PitchRange{Low: 54, High: 86}},
	Trombone:   {CategoryPitched, PitchRange{Low: 40, High: 77}},
	FrenchHorn: {CategoryPitched, PitchRange{Low: 34, High: 77}},
	Tuba:       {CategoryPitched, PitchRange{Low: 26, High: 65}},
	Voice:      {CategoryPitched, PitchRange{Low: 40, High: 84}},
	Timpani:    {CategoryPercussion, PitchRange{Low: 38, High: 60}},
	Xylophone:  {CategoryPercussion, PitchRange{Low: 65, High: 108}},
	Marimba:    {CategoryPercussion, PitchRange{Low: 45, High: 96}},
}

// ParseInstrument maps a name such as "Double Bass" or "french-horn" to an Instrument.
func ParseInstrument(name string) (Instrument, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	inst := Instrument(key)
	if _, ok := instruments[inst]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, name)
	}
	return inst, nil
}

// Instruments lists all supported instruments alphabetically.
func Instruments() []Instrument {
	out := make([]Instrument, 0, len(instruments))
	for inst := range instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether the instrument is known.
func (i Instrument) Valid() bool {
	_, ok := instruments[i]
	return ok
}

// Category returns percussion for struck bar and drum instruments, pitched otherwise.
func (i Instrument) Category() Category {
	if spec, ok := instruments[i]; ok {
		return spec.category
	}
	return CategoryPitched
}

// Range returns the plausible pitch range used to reject octave errors.
func (i Instrument) Range() PitchRange {
	if spec, ok := instruments[i]; ok {
		return spec.rng
	}
	return DefaultRange
}
