package model

import "strings"

// Markings are expression and structure marks printed in the score, placed
// in quarter-note beats from the start of the piece.
type Markings struct {
	Dynamics      []DynamicMark      `json:"dynamics,omitempty"`
	Hairpins      []Hairpin          `json:"hairpins,omitempty"`
	Articulations []ArticulationMark `json:"articulations,omitempty"`
	Repeats       []RepeatMark       `json:"repeats,omitempty"`
	Endings       []Ending           `json:"endings,omitempty"`
}

// Empty reports whether no marks were read.
func (m Markings) Empty() bool {
	return len(m.Dynamics)+len(m.Hairpins)+len(m.Articulations)+len(m.Repeats)+len(m.Endings) == 0
}

// DynamicMark is a printed dynamic such as "mf" or "sfz".
type DynamicMark struct {
	Beat  float64      `json:"beat"`
	Mark  string       `json:"mark"`
	Level DynamicLevel `json:"level"`
}

// Hairpin kinds.
const (
	HairpinCrescendo  = "crescendo"
	HairpinDiminuendo = "diminuendo"
)

// Hairpin is a crescendo or diminuendo wedge.
type Hairpin struct {
	Kind  string  `json:"kind"`
	Start float64 `json:"start_beat"`
	End   float64 `json:"end_beat"`
}

// ArticulationMark is a note articulation ("staccato", "accent", "tenuto",
// "fermata", ...), named as MusicXML names it.
type ArticulationMark struct {
	Beat float64 `json:"beat"`
	Kind string  `json:"kind"`
}

// RepeatMark is a repeat barline. Direction is "forward" or "backward".
type RepeatMark struct {
	Beat      float64 `json:"beat"`
	Direction string  `json:"direction"`
	Times     int     `json:"times,omitempty"`
}

// Ending is a volta bracket over alternate endings, e.g. Number "1" or "1, 2".
type Ending struct {
	Number string  `json:"number"`
	Start  float64 `json:"start_beat"`
	End    float64 `json:"end_beat"`
}

// accented dynamics map to the level they are played at.
var accentedDynamics = map[string]DynamicLevel{
	"sf": FF, "sfz": FF, "sffz": FFF, "sfp": F, "sfpp": F,
	"fz": FF, "rf": F, "rfz": F, "fp": F, "pf": P, "n": PPP,
}

// ParseDynamicMark maps a printed dynamic to its level.
func ParseDynamicMark(mark string) (DynamicLevel, bool) {
	m := strings.ToLower(strings.TrimSpace(mark))
	for i, name := range dynamicNames {
		if name == m {
			return DynamicLevel(i), true
		}
	}
	switch m {
	case "pppp", "ppppp", "pppppp":
		return PPP, true
	case "ffff", "fffff", "ffffff":
		return FFF, true
	}
	l, ok := accentedDynamics[m]
	return l, ok
}
