package omr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

// Engine defaults.
const (
	DefaultToolTimeout         = 5 * time.Minute
	DefaultAudiverisConfidence = 0.95
	DefaultOemerConfidence     = 0.90
)

// ToolEngine runs an external recognizer that reads a PNG page and writes
// MusicXML into an output directory.
type ToolEngine struct {
	name       string
	bin        string
	args       func(outDir, page string) []string
	timeout    time.Duration
	confidence float64
	normalizer *Normalizer
	logger     logger.Logger
}

// ToolOption configures a ToolEngine.
type ToolOption func(*ToolEngine)

// WithBinary overrides the executable name or path.
func WithBinary(bin string) ToolOption {
	return func(e *ToolEngine) {
		if bin != "" {
			e.bin = bin
		}
	}
}

// WithTimeout bounds one recognition run.
func WithTimeout(d time.Duration) ToolOption {
	return func(e *ToolEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithNormalizer sets the page normalizer.
func WithNormalizer(n *Normalizer) ToolOption {
	return func(e *ToolEngine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) ToolOption {
	return func(e *ToolEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfidence overrides the confidence reported for successful runs.
func WithConfidence(c float64) ToolOption {
	return func(e *ToolEngine) {
		if c > 0 && c <= 1 {
			e.confidence = c
		}
	}
}

// NewAudiveris returns the Audiveris batch-export engine.
func NewAudiveris(opts ...ToolOption) *ToolEngine {
	return newToolEngine(EngineAudiveris, "audiveris", DefaultAudiverisConfidence,
		func(outDir, page string) []string {
			return []string{"-batch", "-export", "-output", outDir, page}
		}, opts)
}

// NewOemer returns the oemer engine.
func NewOemer(opts ...ToolOption) *ToolEngine {
	return newToolEngine(EngineOemer, "oemer", DefaultOemerConfidence,
		func(outDir, page string) []string {
			return []string{"-o", outDir, page}
		}, opts)
}

func newToolEngine(name, bin string, confidence float64, args func(string, string) []string, opts []ToolOption) *ToolEngine {
	e := &ToolEngine{
		name:       name,
		bin:        bin,
		args:       args,
		timeout:    DefaultToolTimeout,
		confidence: confidence,
		normalizer: NewNormalizer(),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("omr." + name)
	return e
}

// Name implements Engine.
func (e *ToolEngine) Name() string { return e.name }

// Available implements Engine. The tool must be on PATH (or at the configured path).
func (e *ToolEngine) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := lookPath(e.bin)
	return err
}

// Analyze implements Engine.
func (e *ToolEngine) Analyze(ctx context.Context, src Source) (score model.ScoreModel, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOMRAnalysis(e.name, outcome(err), time.Since(start))
	}()

	page, err := e.normalizer.Page(ctx, src)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ScoreModel{}, timedOut(e.name, err)
		}
		return model.ScoreModel{}, unreadable(e.name, err)
	}

	dir, err := os.MkdirTemp("", "etude-omr-*")
	if err != nil {
		return model.ScoreModel{}, unreadable(e.name, err)
	}
	defer os.RemoveAll(dir)

	pagePath := filepath.Join(dir, "page.png")
	if err := writePNG(pagePath, page); err != nil {
		return model.ScoreModel{}, unreadable(e.name, err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return model.ScoreModel{}, unreadable(e.name, err)
	}

	e.logger.Debug(ctx, "running recognizer",
		logger.String("source", src.Name),
		logger.Int("width", page.Rect.Dx()),
		logger.Int("height", page.Rect.Dy()))

	if _, err := runTool(ctx, e.timeout, e.bin, e.args(outDir, pagePath)...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ScoreModel{}, timedOut(e.name, err)
		}
		return model.ScoreModel{}, unreadable(e.name, err)
	}

	out, ok := findMusicXML(outDir)
	if !ok {
		return model.ScoreModel{}, noSymbols(e.name, "recognizer produced no musicxml")
	}
	score, err = ReadMusicXMLFile(out)
	if err != nil {
		return model.ScoreModel{}, unreadable(e.name, err)
	}
	if len(score.Notes) == 0 {
		return model.ScoreModel{}, noSymbols(e.name, "recognized score has no notes")
	}
	score.Confidence = e.confidence
	score.SourceEngine = e.name
	return score.Finalize(), nil
}

func writePNG(name string, img *image.Gray) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode page: %w", err)
	}
	return f.Close()
}

// findMusicXML returns the first .mxl, .musicxml or .xml file under dir,
// preferring compressed output.
func findMusicXML(dir string) (string, bool) {
	var found []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".mxl", ".musicxml", ".xml":
			found = append(found, p)
		}
		return nil
	})
	for _, ext := range []string{".mxl", ".musicxml", ".xml"} {
		for _, p := range found {
			if strings.EqualFold(filepath.Ext(p), ext) {
				return p, true
			}
		}
	}
	return "", false
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if f, ok := AsFailure(err); ok {
		return f.Kind.String()
	}
	return "error"
}
