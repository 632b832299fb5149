package omr

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

// Symbol geometry thresholds, in staff spacings.
const (
	clefRegion      = 5.0
	minSymbolArea   = 0.2 // squared spacings
	maxSymbolWidth  = 6.0
	barlineMaxWidth = 0.5
	barlineMinHigh  = 3.0
	headMinSpan     = 1.1
	headMinHeight   = 0.25
	stemMinHeight   = 2.0
	hollowMaxFill   = 0.7
	flagMinSpan     = 0.45
	flagMinHeight   = 0.4
	flagHeadClear   = 0.5
	chordMaxOffset  = 0.5
)

// symbolKind is what a component was classified as.
type symbolKind int

const (
	symWhole symbolKind = iota
	symHalf
	symQuarter
	symEighth
	symNoteHead
	symWholeRest
	symHalfRest
	symQuarterRest
)

var symbolShapes = map[symbolKind]struct {
	beats      float64
	confidence float64
	rest       bool
}{
	symWhole:       {4, 0.7, false},
	symHalf:        {2, 0.7, false},
	symQuarter:     {1, 0.7, false},
	symEighth:      {0.5, 0.6, false},
	symNoteHead:    {1, 0.6, false},
	symWholeRest:   {4, 0.6, true},
	symHalfRest:    {2, 0.6, true},
	symQuarterRest: {1, 0.6, true},
}

type symbol struct {
	kind  symbolKind
	x     float64
	heads []float64 // head center rows
}

// Algorithmic is the in-process recognizer. It reads single-voice printed
// notation on five-line treble staves and needs no external tools, so it is
// always available. Key and time signatures are not read; the score is
// reported in C major, 4/4, at the default tempo.
//
// PDF input goes through the normalizer's rasterizer (pdftoppm). Without it
// only scanned PDFs can be read, from the first embedded JPEG stream in file
// order, which need not be the first page. A vector PDF then fails with
// ErrUnreadableInput.
type Algorithmic struct {
	normalizer *Normalizer
	logger     logger.Logger
}

// AlgorithmicOption configures an Algorithmic engine.
type AlgorithmicOption func(*Algorithmic)

// WithAlgorithmicNormalizer sets the page normalizer.
func WithAlgorithmicNormalizer(n *Normalizer) AlgorithmicOption {
	return func(a *Algorithmic) {
		if n != nil {
			a.normalizer = n
		}
	}
}

// WithAlgorithmicLogger sets the engine logger.
func WithAlgorithmicLogger(l logger.Logger) AlgorithmicOption {
	return func(a *Algorithmic) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAlgorithmic returns the fallback recognizer.
func NewAlgorithmic(opts ...AlgorithmicOption) *Algorithmic {
	a := &Algorithmic{normalizer: NewNormalizer(), logger: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("omr.algorithmic")
	return a
}

// Name implements Engine.
func (a *Algorithmic) Name() string { return EngineAlgorithmic }

// Available implements Engine.
func (a *Algorithmic) Available(context.Context) error { return nil }

// Analyze implements Engine.
func (a *Algorithmic) Analyze(ctx context.Context, src Source) (score model.ScoreModel, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOMRAnalysis(EngineAlgorithmic, outcome(err), time.Since(start))
	}()

	page, err := a.normalizer.Page(ctx, src)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ScoreModel{}, timedOut(EngineAlgorithmic, err)
		}
		return model.ScoreModel{}, unreadable(EngineAlgorithmic, err)
	}

	b := binarize(page)
	staves := findStaves(b)
	if len(staves) == 0 {
		return model.ScoreModel{}, noSymbols(EngineAlgorithmic, "no staves found")
	}

	var (
		notes []model.Note
		confs []float64
		beat  float64
	)
	for i, st := range staves {
		if err := ctx.Err(); err != nil {
			return model.ScoreModel{}, timedOut(EngineAlgorithmic, err)
		}
		removeStaffLines(b, st)
		syms := classifyStaff(b, st)
		a.logger.Debug(ctx, "staff read",
			logger.Int("staff", i),
			logger.Float64("spacing", st.spacing),
			logger.Int("symbols", len(syms)))
		for _, group := range groupOnsets(syms, st.spacing) {
			step := math.Inf(1)
			for _, sym := range group {
				shape := symbolShapes[sym.kind]
				confs = append(confs, shape.confidence)
				step = math.Min(step, shape.beats)
				if shape.rest {
					continue
				}
				// Heads are top first; emit chords lowest pitch first.
				for k := len(sym.heads) - 1; k >= 0; k-- {
					notes = append(notes, model.Note{Pitch: trebleHeadPitch(st, sym.heads[k]), Beat: beat, Beats: shape.beats})
				}
			}
			beat += step
		}
	}
	if len(notes) == 0 {
		return model.ScoreModel{}, noSymbols(EngineAlgorithmic, "no notes found")
	}

	score = model.ScoreModel{
		Notes:         notes,
		TimeSignature: model.CommonTime,
		KeySignature:  model.KeySignature{Fifths: 0, Mode: "major"},
		TempoBPM:      model.DefaultTempoBPM,
		Clef:          model.ClefTreble,
		Confidence:    mean(confs),
		SourceEngine:  EngineAlgorithmic,
	}
	sec := score.BeatSeconds()
	for i := range score.Notes {
		score.Notes[i].Onset = score.Notes[i].Beat * sec
		score.Notes[i].Duration = score.Notes[i].Beats * sec
	}
	return score.Finalize(), nil
}

func classifyStaff(b *bitmap, st staff) []symbol {
	s := st.spacing
	left := st.left + int(math.Ceil(clefRegion*s))
	var out []symbol
	for _, c := range components(b, st.bandTop, st.bandBottom, st.left, st.right) {
		if c.x0 < left {
			continue
		}
		if sym, ok := classify(c, st); ok {
			out = append(out, sym)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].x < out[j].x })
	return out
}

func classify(c component, st staff) (symbol, bool) {
	s := st.spacing
	w, h := float64(c.width()), float64(c.height())
	switch {
	case float64(c.area) < minSymbolArea*s*s:
		return symbol{}, false
	case w > maxSymbolWidth*s:
		return symbol{}, false
	case w < barlineMaxWidth*s && h >= barlineMinHigh*s:
		return symbol{}, false
	}
	cx := float64(c.x0+c.x1) / 2
	cy := float64(c.y0+c.y1) / 2

	if h < 0.8*s && w >= 0.8*s && w <= 1.8*s && rectangular(c) {
		if cy < (st.lines[1].center()+st.lines[2].center())/2 {
			return symbol{kind: symWholeRest, x: cx}, true
		}
		return symbol{kind: symHalfRest, x: cx}, true
	}

	heads, headRows := headClusters(c, s)
	if len(heads) == 0 {
		if h >= 1.5*s && w >= 0.3*s && w <= 1.2*s {
			return symbol{kind: symQuarterRest, x: cx}, true
		}
		return symbol{}, false
	}

	// Fill ratio over head rows tells hollow from filled heads.
	var fill float64
	for _, i := range headRows {
		r := c.rows[i]
		fill += float64(r.count) / float64(r.span())
	}
	hollow := fill/float64(len(headRows)) < hollowMaxFill
	stemmed := h > stemMinHeight*s

	var kind symbolKind
	switch {
	case hollow && !stemmed:
		kind = symWhole
	case hollow:
		kind = symHalf
	case stemmed && hasFlag(c, heads, s):
		kind = symEighth
	case stemmed:
		kind = symQuarter
	default:
		kind = symNoteHead
	}
	return symbol{kind: kind, x: cx, heads: heads}, true
}

// rectangular reports whether most rows fill the component width, as rests do.
func rectangular(c component) bool {
	full := 0
	for _, r := range c.rows {
		if float64(r.span()) >= 0.9*float64(c.width()) && float64(r.count) >= 0.9*float64(r.span()) {
			full++
		}
	}
	return float64(full) >= 0.75*float64(c.height())
}

// headClusters returns the center rows of runs of head-wide rows and the
// row indexes that belong to them.
func headClusters(c component, s float64) ([]float64, []int) {
	var heads []float64
	var rows []int
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if float64(end-start) >= headMinHeight*s {
			heads = append(heads, float64(c.y0)+float64(start+end-1)/2)
			for i := start; i < end; i++ {
				rows = append(rows, i)
			}
		}
		start = -1
	}
	for i, r := range c.rows {
		if float64(r.span()) >= headMinSpan*s {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(c.rows))
	return heads, rows
}

// hasFlag looks for wide rows away from every head.
func hasFlag(c component, heads []float64, s float64) bool {
	n := 0
	for i, r := range c.rows {
		y := float64(c.y0 + i)
		near := false
		for _, hy := range heads {
			if math.Abs(y-hy) < flagHeadClear*s+0.42*s {
				near = true
				break
			}
		}
		if !near && float64(r.span()) >= flagMinSpan*s {
			n++
		}
	}
	return float64(n) >= flagMinHeight*s
}

// groupOnsets clusters symbols whose x positions are within half a spacing.
func groupOnsets(syms []symbol, s float64) [][]symbol {
	var groups [][]symbol
	for i, sym := range syms {
		if i > 0 && sym.x-syms[i-1].x <= chordMaxOffset*s {
			groups[len(groups)-1] = append(groups[len(groups)-1], sym)
			continue
		}
		groups = append(groups, []symbol{sym})
	}
	return groups
}

// trebleHeadPitch maps a head's vertical position to a natural pitch.
// Each half spacing above the bottom line (E4) is one diatonic step.
func trebleHeadPitch(st staff, y float64) model.Pitch {
	pos := int(math.Round((st.bottomY() - y) / (st.spacing / 2)))
	idx := 30 + pos // E4 counted in diatonic steps from C0
	octave := floorDiv(idx, 7)
	step := "CDEFGAB"[idx-octave*7]
	p, _ := model.PitchFromStep(string(step), 0, octave)
	return p
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
