package omr

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/okian/etude/internal/domain/model"
)

// ErrNoPart is returned for MusicXML documents without a <part>.
var ErrNoPart = errors.New("musicxml: no part")

type xmlAttributes struct {
	Divisions float64 `xml:"divisions"`
	Key       *struct {
		Fifths int    `xml:"fifths"`
		Mode   string `xml:"mode"`
	} `xml:"key"`
	Time *struct {
		Beats    string `xml:"beats"`
		BeatType int    `xml:"beat-type"`
	} `xml:"time"`
	Clef *struct {
		Sign string `xml:"sign"`
		Line int    `xml:"line"`
	} `xml:"clef"`
}

type xmlPitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter"`
	Octave int     `xml:"octave"`
}

type xmlNote struct {
	Grace     *struct{} `xml:"grace"`
	Chord     *struct{} `xml:"chord"`
	Rest      *struct{} `xml:"rest"`
	Pitch     *xmlPitch `xml:"pitch"`
	Unpitched *struct {
		Step   string `xml:"display-step"`
		Octave int    `xml:"display-octave"`
	} `xml:"unpitched"`
	Duration float64 `xml:"duration"`
	Ties     []struct {
		Type string `xml:"type,attr"`
	} `xml:"tie"`
	Notations []struct {
		Articulations []xmlMarks `xml:"articulations"`
		Fermatas      []struct{} `xml:"fermata"`
	} `xml:"notations"`
}

// xmlMarks collects child elements by name, e.g. <staccato/> or <mf/>.
type xmlMarks struct {
	Marks []struct {
		XMLName xml.Name
	} `xml:",any"`
}

type xmlSound struct {
	Tempo float64 `xml:"tempo,attr"`
}

type xmlDirection struct {
	Sound     *xmlSound `xml:"sound"`
	Metronome *struct {
		BeatUnit  string  `xml:"beat-unit"`
		PerMinute float64 `xml:"per-minute"`
	} `xml:"direction-type>metronome"`
	Dynamics []xmlMarks `xml:"direction-type>dynamics"`
	Wedges   []struct {
		Type   string `xml:"type,attr"`
		Number string `xml:"number,attr"`
	} `xml:"direction-type>wedge"`
	Offset float64 `xml:"offset"`
}

type xmlBarline struct {
	Location string `xml:"location,attr"`
	Repeat   *struct {
		Direction string `xml:"direction,attr"`
		Times     int    `xml:"times,attr"`
	} `xml:"repeat"`
	Ending *struct {
		Number string `xml:"number,attr"`
		Type   string `xml:"type,attr"`
	} `xml:"ending"`
}

type xmlShift struct {
	Duration float64 `xml:"duration"`
}

var beatUnitQuarters = map[string]float64{
	"whole": 4, "half": 2, "quarter": 1, "eighth": 0.5, "16th": 0.25,
}

// musicXMLReader accumulates the first part of a score-partwise document.
type musicXMLReader struct {
	divisions    float64
	pos          float64 // quarter-note beats
	measureStart float64
	measureHi    float64
	lastOnset    float64
	tempo        float64
	score        model.ScoreModel
	openTies     map[model.Pitch]int

	marks       model.Markings
	openWedges  map[string]int
	openEndings map[string]int
}

// ParseMusicXML reads an uncompressed MusicXML document. Only the first part
// is read; the first tempo marking applies to the whole piece.
func ParseMusicXML(r io.Reader) (model.ScoreModel, error) {
	p := &musicXMLReader{
		divisions:   1,
		openTies:    map[model.Pitch]int{},
		openWedges:  map[string]int{},
		openEndings: map[string]int{},
	}
	dec := xml.NewDecoder(r)
	dec.Strict = false

	inPart, seenPart := false, false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.ScoreModel{}, fmt.Errorf("musicxml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "part" && !inPart {
				if seenPart {
					if err := dec.Skip(); err != nil {
						return model.ScoreModel{}, fmt.Errorf("musicxml: %w", err)
					}
					continue
				}
				inPart, seenPart = true, true
				continue
			}
			if !inPart {
				continue
			}
			if err := p.element(dec, t); err != nil {
				return model.ScoreModel{}, err
			}
		case xml.EndElement:
			switch {
			case !inPart:
			case t.Name.Local == "measure":
				p.pos = math.Max(p.pos, p.measureHi)
			case t.Name.Local == "part":
				inPart = false
			}
		}
	}
	if !seenPart {
		return model.ScoreModel{}, ErrNoPart
	}
	return p.finish(), nil
}

func (p *musicXMLReader) element(dec *xml.Decoder, t xml.StartElement) error {
	var err error
	switch t.Name.Local {
	case "measure":
		p.measureStart, p.measureHi = p.pos, p.pos
	case "attributes":
		var a xmlAttributes
		if err = dec.DecodeElement(&a, &t); err == nil {
			p.attributes(a)
		}
	case "note":
		var n xmlNote
		if err = dec.DecodeElement(&n, &t); err == nil {
			p.note(n)
		}
	case "backup":
		var s xmlShift
		if err = dec.DecodeElement(&s, &t); err == nil {
			p.pos = math.Max(0, p.pos-s.Duration/p.divisions)
		}
	case "forward":
		var s xmlShift
		if err = dec.DecodeElement(&s, &t); err == nil {
			p.advance(s.Duration / p.divisions)
		}
	case "direction":
		var d xmlDirection
		if err = dec.DecodeElement(&d, &t); err == nil {
			switch {
			case d.Sound != nil:
				p.setTempo(d.Sound.Tempo)
			case d.Metronome != nil:
				unit, ok := beatUnitQuarters[d.Metronome.BeatUnit]
				if !ok {
					unit = 1
				}
				p.setTempo(d.Metronome.PerMinute * unit)
			}
			p.direction(d)
		}
	case "barline":
		var b xmlBarline
		if err = dec.DecodeElement(&b, &t); err == nil {
			p.barline(b)
		}
	case "sound":
		var s xmlSound
		if err = dec.DecodeElement(&s, &t); err == nil {
			p.setTempo(s.Tempo)
		}
	}
	if err != nil {
		return fmt.Errorf("musicxml: %s: %w", t.Name.Local, err)
	}
	return nil
}

func (p *musicXMLReader) attributes(a xmlAttributes) {
	if a.Divisions > 0 {
		p.divisions = a.Divisions
	}
	if a.Key != nil {
		p.score.KeySignature = model.KeySignature{Fifths: a.Key.Fifths, Mode: strings.ToLower(a.Key.Mode)}
	}
	if a.Time != nil && p.score.TimeSignature.Beats == 0 {
		beats := 0
		for _, part := range strings.Split(a.Time.Beats, "+") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err == nil {
				beats += n
			}
		}
		if beats > 0 && a.Time.BeatType > 0 {
			p.score.TimeSignature = model.TimeSignature{Beats: beats, BeatType: a.Time.BeatType}
		}
	}
	if a.Clef != nil && p.score.Clef == "" {
		p.score.Clef = clefFor(a.Clef.Sign, a.Clef.Line)
	}
}

func clefFor(sign string, line int) model.Clef {
	switch strings.ToUpper(sign) {
	case "F":
		return model.ClefBass
	case "C":
		if line == 4 {
			return model.ClefTenor
		}
		return model.ClefAlto
	case "PERCUSSION":
		return model.ClefPercussion
	default:
		return model.ClefTreble
	}
}

func (p *musicXMLReader) setTempo(bpm float64) {
	if p.tempo == 0 && bpm > 0 {
		p.tempo = bpm
	}
}

func (p *musicXMLReader) direction(d xmlDirection) {
	beat := math.Max(0, p.pos+d.Offset/p.divisions)
	for _, dyn := range d.Dynamics {
		for _, m := range dyn.Marks {
			if level, ok := model.ParseDynamicMark(m.XMLName.Local); ok {
				p.marks.Dynamics = append(p.marks.Dynamics, model.DynamicMark{Beat: beat, Mark: m.XMLName.Local, Level: level})
			}
		}
	}
	for _, w := range d.Wedges {
		switch w.Type {
		case model.HairpinCrescendo, model.HairpinDiminuendo:
			p.marks.Hairpins = append(p.marks.Hairpins, model.Hairpin{Kind: w.Type, Start: beat, End: beat})
			p.openWedges[w.Number] = len(p.marks.Hairpins) - 1
		case "stop":
			if i, ok := p.openWedges[w.Number]; ok {
				p.marks.Hairpins[i].End = beat
				delete(p.openWedges, w.Number)
			}
		}
	}
}

// barline records repeats and volta brackets. A right barline sits at the
// end of the measure read so far.
func (p *musicXMLReader) barline(b xmlBarline) {
	beat := math.Max(p.pos, p.measureHi)
	if b.Location == "left" {
		beat = p.measureStart
	}
	if b.Repeat != nil && (b.Repeat.Direction == "forward" || b.Repeat.Direction == "backward") {
		p.marks.Repeats = append(p.marks.Repeats, model.RepeatMark{Beat: beat, Direction: b.Repeat.Direction, Times: b.Repeat.Times})
	}
	if b.Ending == nil {
		return
	}
	switch b.Ending.Type {
	case "start":
		p.marks.Endings = append(p.marks.Endings, model.Ending{Number: b.Ending.Number, Start: beat, End: beat})
		p.openEndings[b.Ending.Number] = len(p.marks.Endings) - 1
	case "stop", "discontinue":
		if i, ok := p.openEndings[b.Ending.Number]; ok {
			p.marks.Endings[i].End = beat
			delete(p.openEndings, b.Ending.Number)
		}
	}
}

func (p *musicXMLReader) articulations(n xmlNote, beat float64) {
	seen := map[string]bool{}
	for _, a := range p.marks.Articulations {
		if a.Beat == beat {
			seen[a.Kind] = true
		}
	}
	add := func(kind string) {
		if !seen[kind] {
			seen[kind] = true
			p.marks.Articulations = append(p.marks.Articulations, model.ArticulationMark{Beat: beat, Kind: kind})
		}
	}
	for _, nt := range n.Notations {
		for _, arts := range nt.Articulations {
			for _, m := range arts.Marks {
				add(m.XMLName.Local)
			}
		}
		if len(nt.Fermatas) > 0 {
			add("fermata")
		}
	}
}

func (p *musicXMLReader) advance(beats float64) {
	p.pos += beats
	p.measureHi = math.Max(p.measureHi, p.pos)
}

func (p *musicXMLReader) note(n xmlNote) {
	if n.Grace != nil {
		return
	}
	beats := n.Duration / p.divisions
	onset := p.pos
	if n.Chord != nil {
		onset = p.lastOnset
	} else {
		p.lastOnset = onset
		p.advance(beats)
	}
	p.articulations(n, onset)
	if n.Rest != nil {
		return
	}

	var pitch model.Pitch
	var err error
	switch {
	case n.Pitch != nil:
		pitch, err = model.PitchFromStep(n.Pitch.Step, int(math.Round(n.Pitch.Alter)), n.Pitch.Octave)
	case n.Unpitched != nil:
		pitch, err = model.PitchFromStep(n.Unpitched.Step, 0, n.Unpitched.Octave)
	default:
		return
	}
	if err != nil {
		return
	}

	var start, stop bool
	for _, t := range n.Ties {
		switch t.Type {
		case "start":
			start = true
		case "stop":
			stop = true
		}
	}
	if stop {
		if i, ok := p.openTies[pitch]; ok {
			p.score.Notes[i].Beats += beats
			if !start {
				delete(p.openTies, pitch)
			}
			return
		}
	}
	p.score.Notes = append(p.score.Notes, model.Note{Pitch: pitch, Beat: onset, Beats: beats})
	if start {
		p.openTies[pitch] = len(p.score.Notes) - 1
	}
}

func (p *musicXMLReader) finish() model.ScoreModel {
	p.score.TempoBPM = p.tempo
	// Unclosed wedges and brackets run to the end of the part.
	for _, i := range p.openWedges {
		p.marks.Hairpins[i].End = p.pos
	}
	for _, i := range p.openEndings {
		p.marks.Endings[i].End = p.pos
	}
	if !p.marks.Empty() {
		marks := p.marks
		p.score.Markings = &marks
	}
	out := p.score.Finalize()
	sec := out.BeatSeconds()
	for i := range out.Notes {
		out.Notes[i].Onset = out.Notes[i].Beat * sec
		out.Notes[i].Duration = out.Notes[i].Beats * sec
	}
	return out.Finalize()
}

// ParseMXL reads a compressed MusicXML archive, following
// META-INF/container.xml to the root file.
func ParseMXL(data []byte) (model.ScoreModel, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.ScoreModel{}, fmt.Errorf("mxl: %w", err)
	}
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}

	root := ""
	if c, ok := files["META-INF/container.xml"]; ok {
		var container struct {
			Rootfiles []struct {
				FullPath string `xml:"full-path,attr"`
			} `xml:"rootfiles>rootfile"`
		}
		if err := decodeZipXML(c, &container); err == nil && len(container.Rootfiles) > 0 {
			root = container.Rootfiles[0].FullPath
		}
	}
	if _, ok := files[root]; !ok {
		root = ""
		for _, f := range zr.File {
			ext := strings.ToLower(path.Ext(f.Name))
			if !strings.HasPrefix(f.Name, "META-INF/") && (ext == ".xml" || ext == ".musicxml") {
				root = f.Name
				break
			}
		}
	}
	if root == "" {
		return model.ScoreModel{}, fmt.Errorf("mxl: %w", ErrNoPart)
	}
	rc, err := files[root].Open()
	if err != nil {
		return model.ScoreModel{}, fmt.Errorf("mxl: %w", err)
	}
	defer rc.Close()
	return ParseMusicXML(rc)
}

func decodeZipXML(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// ReadMusicXMLFile parses a .musicxml, .xml or .mxl file.
func ReadMusicXMLFile(name string) (model.ScoreModel, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return model.ScoreModel{}, err
	}
	if strings.EqualFold(path.Ext(name), ".mxl") || bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return ParseMXL(data)
	}
	return ParseMusicXML(bytes.NewReader(data))
}
