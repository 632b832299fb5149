package model

import "strings"

// DetectedNote is one note heard in a recording.
type DetectedNote struct {
	Pitch       Pitch   `json:"pitch"`
	Onset       float64 `json:"onset"`
	Duration    float64 `json:"duration"`
	Confidence  float64 `json:"confidence"`
	FrequencyHz float64 `json:"frequency_hz"`
}

// DynamicLevel is one of eight loudness buckets.
type DynamicLevel int

// Loudness levels from softest to loudest.
const (
	PPP DynamicLevel = iota
	PP
	P
	MP
	MF
	F
	FF
	FFF
)

var dynamicNames = [...]string{"ppp", "pp", "p", "mp", "mf", "f", "ff", "fff"}

func (l DynamicLevel) String() string {
	if l < PPP || l > FFF {
		return "unknown"
	}
	return dynamicNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l DynamicLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *DynamicLevel) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for i, name := range dynamicNames {
		if name == s {
			*l = DynamicLevel(i)
			return nil
		}
	}
	*l = PPP
	return nil
}

// dynamicThresholds are the lower dB bounds (relative to the recording peak)
// for mf..fff, ordered loudest first.
var dynamicThresholds = []struct {
	floor float64
	level DynamicLevel
}{
	{-5, FFF}, {-12, FF}, {-18, F}, {-25, MF}, {-32, MP}, {-40, P}, {-50, PP},
}

// LevelForDB buckets a loudness in dB relative to peak.
func LevelForDB(db float64) DynamicLevel {
	for _, t := range dynamicThresholds {
		if db > t.floor {
			return t.level
		}
	}
	return PPP
}

// DynamicsPoint samples the loudness trace.
type DynamicsPoint struct {
	Time       float64      `json:"time"`
	LoudnessDB float64      `json:"loudness_db"`
	Level      DynamicLevel `json:"level"`
}

// Timbre summarizes the spectral character of a recording.
type Timbre struct {
	SpectralCentroidHz float64 `json:"spectral_centroid_hz"`
	SpectralRolloffHz  float64 `json:"spectral_rolloff_hz"`
	ZeroCrossingRate   float64 `json:"zero_crossing_rate"`
}

// Articulation tags.
const (
	ArticulationStaccato  = "staccato"
	ArticulationLegato    = "legato"
	ArticulationNormal    = "normal"
	ArticulationConnected = "connected"
)

// PerformanceModel is what was measured in one recording.
type PerformanceModel struct {
	Instrument       Instrument      `json:"instrument"`
	DetectedNotes    []DetectedNote  `json:"detected_notes"`
	TempoBPMEstimate float64         `json:"tempo_bpm_estimate"`
	TempoConfidence  float64         `json:"tempo_confidence"`
	DynamicsTrace    []DynamicsPoint `json:"dynamics_trace"`
	ArticulationTags []string        `json:"articulation_tags"`
	Timbre           Timbre          `json:"timbre"`
	DurationSeconds  float64         `json:"duration_seconds"`
	SampleRate       int             `json:"sample_rate"`
}
