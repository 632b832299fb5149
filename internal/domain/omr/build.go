package omr

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/etude/pkg/logger"
)

// EngineSettings carries what BuildEngines needs to construct engines by name.
type EngineSettings struct {
	AudiverisBin string
	OemerBin     string
	PdftoppmBin  string
	Timeout      time.Duration
	RenderScale  float64
	Logger       logger.Logger
}

// BuildEngines constructs engines in the given priority order. The
// algorithmic engine is appended when the list does not name it, so a
// selector built from the result always has an engine to fall back to.
func BuildEngines(names []string, st EngineSettings) ([]Engine, error) {
	log := st.Logger
	if log == nil {
		log = logger.Nop()
	}
	norm := NewNormalizer(
		WithRenderScale(st.RenderScale),
		WithRasterizer(NewPdftoppmRasterizer(st.PdftoppmBin, st.Timeout)),
	)

	seen := map[string]bool{}
	var out []Engine
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case EngineAudiveris:
			out = append(out, NewAudiveris(WithBinary(st.AudiverisBin), WithTimeout(st.Timeout),
				WithNormalizer(norm), WithLogger(log)))
		case EngineOemer:
			out = append(out, NewOemer(WithBinary(st.OemerBin), WithTimeout(st.Timeout),
				WithNormalizer(norm), WithLogger(log)))
		case EngineAlgorithmic:
			out = append(out, NewAlgorithmic(WithAlgorithmicNormalizer(norm), WithAlgorithmicLogger(log)))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, raw)
		}
	}
	if !seen[EngineAlgorithmic] {
		out = append(out, NewAlgorithmic(WithAlgorithmicNormalizer(norm), WithAlgorithmicLogger(log)))
	}
	return out, nil
}
