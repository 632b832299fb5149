// Package model contains the typed records passed between the recognition,
// analysis, comparison and feedback layers.
package model

import (
	"fmt"
	"math"
	"sort"
)

// Defaults applied when a recognizer cannot read the score metadata.
const (
	DefaultTempoBPM = 120.0
	DefaultClef     = ClefTreble
)

// Note is one expected note of a piece.
type Note struct {
	Pitch Pitch `json:"pitch"`
	// Onset and Duration are in seconds at the score tempo.
	Onset    float64 `json:"onset"`
	Duration float64 `json:"duration"`
	// Beat and Beats are the same values in quarter-note beats.
	Beat  float64 `json:"beat"`
	Beats float64 `json:"beats"`
}

// TimeSignature such as 3/4.
type TimeSignature struct {
	Beats    int `json:"beats"`
	BeatType int `json:"beat_type"`
}

// CommonTime is 4/4.
var CommonTime = TimeSignature{Beats: 4, BeatType: 4}

func (t TimeSignature) String() string { return fmt.Sprintf("%d/%d", t.Beats, t.BeatType) }

// QuarterBeatsPerMeasure returns the measure length in quarter notes.
func (t TimeSignature) QuarterBeatsPerMeasure() float64 {
	if t.Beats <= 0 || t.BeatType <= 0 {
		return 4
	}
	return float64(t.Beats) * 4 / float64(t.BeatType)
}

// KeySignature in circle-of-fifths form.
type KeySignature struct {
	Fifths int    `json:"fifths"`
	Mode   string `json:"mode"`
}

var majorKeys = map[int]string{
	-7: "Cb", -6: "Gb", -5: "Db", -4: "Ab", -3: "Eb", -2: "Bb", -1: "F",
	0: "C", 1: "G", 2: "D", 3: "A", 4: "E", 5: "B", 6: "F#", 7: "C#",
}

var minorKeys = map[int]string{
	-7: "Ab", -6: "Eb", -5: "Bb", -4: "F", -3: "C", -2: "G", -1: "D",
	0: "A", 1: "E", 2: "B", 3: "F#", 4: "C#", 5: "G#", 6: "D#", 7: "A#",
}

func (k KeySignature) String() string {
	if k.Mode == "minor" {
		if name, ok := minorKeys[k.Fifths]; ok {
			return name + " minor"
		}
	}
	if name, ok := majorKeys[k.Fifths]; ok {
		return name + " major"
	}
	return fmt.Sprintf("%d fifths", k.Fifths)
}

// Clef names the staff clef.
type Clef string

// Supported clefs.
const (
	ClefTreble     Clef = "treble"
	ClefBass       Clef = "bass"
	ClefAlto       Clef = "alto"
	ClefTenor      Clef = "tenor"
	ClefPercussion Clef = "percussion"
)

// ScoreModel is the expected musical content of a piece. Build one with
// Finalize so the ordering and range guarantees hold.
type ScoreModel struct {
	Notes         []Note        `json:"notes"`
	TimeSignature TimeSignature `json:"time_signature"`
	KeySignature  KeySignature  `json:"key_signature"`
	TempoBPM      float64       `json:"tempo_bpm"`
	Clef          Clef          `json:"clef"`
	Confidence    float64       `json:"confidence"`
	SourceEngine  string        `json:"source_engine"`
	// Markings is filled by engines that read expression marks.
	Markings *Markings `json:"markings,omitempty"`
}

// Finalize returns a copy with notes stably sorted by onset, metadata
// defaults filled in and confidence clamped to 0..1.
func (s ScoreModel) Finalize() ScoreModel {
	out := s
	out.Notes = append([]Note(nil), s.Notes...)
	sort.SliceStable(out.Notes, func(i, j int) bool {
		if out.Notes[i].Onset != out.Notes[j].Onset {
			return out.Notes[i].Onset < out.Notes[j].Onset
		}
		return out.Notes[i].Beat < out.Notes[j].Beat
	})
	if out.TempoBPM <= 0 {
		out.TempoBPM = DefaultTempoBPM
	}
	if out.TimeSignature.Beats <= 0 || out.TimeSignature.BeatType <= 0 {
		out.TimeSignature = CommonTime
	}
	if out.Clef == "" {
		out.Clef = DefaultClef
	}
	if out.KeySignature.Mode == "" {
		out.KeySignature.Mode = "major"
	}
	out.Confidence = math.Max(0, math.Min(1, out.Confidence))
	return out
}

// Validate checks the record invariants.
func (s ScoreModel) Validate() error {
	for i := 1; i < len(s.Notes); i++ {
		if s.Notes[i].Onset < s.Notes[i-1].Onset {
			return fmt.Errorf("%w: note %d at %.3fs precedes note %d at %.3fs",
				ErrUnsortedNotes, i, s.Notes[i].Onset, i-1, s.Notes[i-1].Onset)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("%w: %v", ErrConfidenceRange, s.Confidence)
	}
	return nil
}

// BeatSeconds is the length of one quarter-note beat at the score tempo.
func (s ScoreModel) BeatSeconds() float64 {
	tempo := s.TempoBPM
	if tempo <= 0 {
		tempo = DefaultTempoBPM
	}
	return 60 / tempo
}

// Measures estimates the number of measures from the last note end and the
// time signature.
func (s ScoreModel) Measures() int {
	if len(s.Notes) == 0 {
		return 0
	}
	end := 0.0
	for _, n := range s.Notes {
		end = math.Max(end, n.Beat+n.Beats)
	}
	return int(math.Ceil(end / s.TimeSignature.QuarterBeatsPerMeasure()))
}

// DurationSeconds returns the time from the first onset to the last note end.
func (s ScoreModel) DurationSeconds() float64 {
	if len(s.Notes) == 0 {
		return 0
	}
	end := 0.0
	for _, n := range s.Notes {
		end = math.Max(end, n.Onset+n.Duration)
	}
	return end - s.Notes[0].Onset
}
