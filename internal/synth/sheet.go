// Package synth draws simple printed notation and renders tones. It produces
// deterministic fixtures for recognizer and analyzer tests and for the
// command-line demo.
package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/okian/etude/internal/domain/model"
)

// Glyph is a drawable notation symbol.
type Glyph int

// Glyphs.
const (
	Whole Glyph = iota
	Half
	Quarter
	Eighth
	WholeRest
	HalfRest
	QuarterRest
)

// Beats returns the glyph length in quarter notes.
func (g Glyph) Beats() float64 {
	switch g {
	case Whole, WholeRest:
		return 4
	case Half, HalfRest:
		return 2
	case Eighth:
		return 0.5
	default:
		return 1
	}
}

// Rest reports whether the glyph is a rest.
func (g Glyph) Rest() bool { return g >= WholeRest }

// Mark is one glyph at one horizontal position. Several pitches draw a chord
// on a shared stem. Pitches are drawn on a treble staff; accidentals are
// dropped.
type Mark struct {
	Glyph   Glyph
	Pitches []model.Pitch
}

// Note returns a single-pitch mark.
func Note(g Glyph, pitch string) Mark {
	return Mark{Glyph: g, Pitches: []model.Pitch{model.MustPitch(pitch)}}
}

// Rest returns a rest mark.
func Rest(g Glyph) Mark { return Mark{Glyph: g} }

// SheetOption configures DrawSheet.
type SheetOption func(*sheet)

type sheet struct {
	spacing int
	advance float64
}

// WithSpacing sets the distance between staff lines in pixels.
func WithSpacing(px int) SheetOption {
	return func(s *sheet) {
		if px >= 6 {
			s.spacing = px
		}
	}
}

// Layout constants in staff spacings.
const (
	marginX      = 2.0
	marginY      = 5.0
	firstNoteX   = 7.0
	noteAdvance  = 4.0
	staffGap     = 14.0
	headRX       = 0.7
	headRY       = 0.42
	ringWidth    = 0.2
	stemWidth    = 0.15
	stemLength   = 3.5
	flagWidth    = 0.5
	flagLength   = 1.2
	restWidth    = 1.2
	restHeight   = 0.5
	quarterRestW = 0.6
	quarterRestH = 2.5
)

// DrawSheet renders one staff per element of staves, top to bottom.
func DrawSheet(staves [][]Mark, opts ...SheetOption) *image.Gray {
	sh := &sheet{spacing: 10, advance: noteAdvance}
	for _, opt := range opts {
		opt(sh)
	}
	s := float64(sh.spacing)

	most := 1
	for _, marks := range staves {
		most = max(most, len(marks))
	}
	w := int(math.Ceil((firstNoteX + float64(most)*sh.advance + 3) * s))
	h := int(math.Ceil((2*marginY + float64(len(staves))*staffGap) * s))
	img := image.NewGray(image.Rect(0, 0, w, h))
	fill(img, img.Rect, color.Gray{Y: 255})

	thick := max(1, int(math.Round(0.1*s)))
	for i, marks := range staves {
		top := (marginY + float64(i)*staffGap) * s
		for k := 0; k < 5; k++ {
			y := int(math.Round(top + float64(k)*s))
			fill(img, image.Rect(int(marginX*s), y, w-int(marginX*s), y+thick), color.Gray{})
		}
		bottom := top + 4*s
		for j, m := range marks {
			cx := (marginX + firstNoteX + float64(j)*sh.advance) * s
			drawMark(img, m, cx, top, bottom, s)
		}
	}
	return img
}

// PNG encodes img.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// Score returns the notes the marks of staves denote at tempo bpm.
func Score(staves [][]Mark, bpm float64) model.ScoreModel {
	var notes []model.Note
	beat := 0.0
	for _, marks := range staves {
		for _, m := range marks {
			if !m.Glyph.Rest() {
				for _, p := range m.Pitches {
					notes = append(notes, model.Note{Pitch: naturalPitch(p), Beat: beat, Beats: m.Glyph.Beats()})
				}
			}
			beat += m.Glyph.Beats()
		}
	}
	score := model.ScoreModel{Notes: notes, TempoBPM: bpm, Confidence: 1, SourceEngine: "synth"}.Finalize()
	sec := score.BeatSeconds()
	for i := range score.Notes {
		score.Notes[i].Onset = score.Notes[i].Beat * sec
		score.Notes[i].Duration = score.Notes[i].Beats * sec
	}
	return score
}

var naturalSteps = [12]int{0, 0, 1, 1, 2, 3, 3, 4, 4, 5, 5, 6}
var stepSemis = [7]int{0, 2, 4, 5, 7, 9, 11}

// staffPosition counts diatonic steps above E4.
func staffPosition(p model.Pitch) int {
	n := int(p)
	octave := n/12 - 1
	return octave*7 + naturalSteps[n%12] - 30
}

func naturalPitch(p model.Pitch) model.Pitch {
	n := int(p)
	return model.Pitch(n - n%12 + stepSemis[naturalSteps[n%12]])
}

func drawMark(img *image.Gray, m Mark, cx, top, bottom, s float64) {
	switch m.Glyph {
	case WholeRest:
		y := top + s
		fill(img, rectF(cx-restWidth*s/2, y, cx+restWidth*s/2, y+restHeight*s), color.Gray{})
		return
	case HalfRest:
		y := top + 2*s
		fill(img, rectF(cx-restWidth*s/2, y-restHeight*s, cx+restWidth*s/2, y), color.Gray{})
		return
	case QuarterRest:
		y := top + 2*s
		fill(img, rectF(cx-quarterRestW*s/2, y-quarterRestH*s/2, cx+quarterRestW*s/2, y+quarterRestH*s/2), color.Gray{})
		return
	}

	hollow := m.Glyph == Whole || m.Glyph == Half
	highest := math.Inf(1)
	lowest := math.Inf(-1)
	for _, p := range m.Pitches {
		cy := bottom - float64(staffPosition(p))*s/2
		ellipse(img, cx, cy, headRX*s, headRY*s, hollow, ringWidth*s)
		highest = math.Min(highest, cy)
		lowest = math.Max(lowest, cy)
	}
	if m.Glyph == Whole {
		return
	}
	sw := math.Max(1, math.Round(stemWidth*s))
	middle := top + 2*s
	if lowest <= middle {
		// Stem down on the left for heads on or above the middle line.
		left := math.Round(cx - headRX*s)
		tip := lowest + stemLength*s
		fill(img, rectF(left, highest, left+sw, tip), color.Gray{})
		if m.Glyph == Eighth {
			fill(img, rectF(left+sw, tip-flagLength*s, left+sw+flagWidth*s, tip), color.Gray{})
		}
		return
	}
	right := math.Round(cx + headRX*s)
	tip := highest - stemLength*s
	fill(img, rectF(right-sw, tip, right, lowest), color.Gray{})
	if m.Glyph == Eighth {
		fill(img, rectF(right, tip, right+flagWidth*s, tip+flagLength*s), color.Gray{})
	}
}

func ellipse(img *image.Gray, cx, cy, rx, ry float64, hollow bool, ring float64) {
	irx, iry := rx-ring, ry-ring
	for y := int(cy - ry - 1); y <= int(cy+ry+1); y++ {
		for x := int(cx - rx - 1); x <= int(cx+rx+1); x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if (dx*dx)/(rx*rx)+(dy*dy)/(ry*ry) > 1 {
				continue
			}
			if hollow && iry > 0 && (dx*dx)/(irx*irx)+(dy*dy)/(iry*iry) < 1 {
				continue
			}
			if image.Pt(x, y).In(img.Rect) {
				img.SetGray(x, y, color.Gray{})
			}
		}
	}
}

func rectF(x0, y0, x1, y1 float64) image.Rectangle {
	return image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
}

func fill(img *image.Gray, r image.Rectangle, c color.Gray) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, c)
		}
	}
}
