// Package performance measures a recorded performance: the notes played,
// their timing, the tempo, loudness and tone colour.
//
// An Analyzer is built once and shared. Its stages are interfaces, so any
// of them can be swapped; the defaults hold only read-only tables and pools
// and are safe for concurrent analyses.
package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

// Analyzer defaults.
const (
	DefaultMinDuration = time.Second
	DefaultTimeout     = 2 * time.Minute
)

// Analyzer runs the analysis pipeline.
type Analyzer struct {
	denoiser   Denoiser
	pitch      PitchTracker
	onsets     map[model.Category]OnsetDetector
	estimators []TempoEstimator
	dynamics   DynamicsTracker

	minDuration time.Duration
	timeout     time.Duration
	logger      logger.Logger

	timbreWindow []float64
	timbrePool   *fftPool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithDenoiser replaces the noise reduction stage.
func WithDenoiser(d Denoiser) Option {
	return func(a *Analyzer) {
		if d != nil {
			a.denoiser = d
		}
	}
}

// WithPitchTracker replaces the pitch tracking stage.
func WithPitchTracker(p PitchTracker) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.pitch = p
		}
	}
}

// WithOnsetDetector replaces the onset detector used for one instrument category.
func WithOnsetDetector(c model.Category, d OnsetDetector) Option {
	return func(a *Analyzer) {
		if d != nil {
			a.onsets[c] = d
		}
	}
}

// WithTempoEstimators replaces the tempo estimators.
func WithTempoEstimators(es ...TempoEstimator) Option {
	return func(a *Analyzer) {
		if len(es) > 0 {
			a.estimators = es
		}
	}
}

// WithDynamicsTracker replaces the loudness stage.
func WithDynamicsTracker(d DynamicsTracker) Option {
	return func(a *Analyzer) {
		if d != nil {
			a.dynamics = d
		}
	}
}

// WithMinDuration rejects recordings shorter than d with TooShort.
func WithMinDuration(d time.Duration) Option {
	return func(a *Analyzer) {
		if d >= 0 {
			a.minDuration = d
		}
	}
}

// WithTimeout bounds one analysis.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the analyzer logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer builds an analyzer with the default stages.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		denoiser: NewSpectralGate(),
		pitch:    NewYIN(),
		onsets: map[model.Category]OnsetDetector{
			model.CategoryPitched:    NewSpectralFlux(),
			model.CategoryPercussion: NewEnergyNovelty(),
		},
		estimators:   DefaultTempoEstimators(),
		dynamics:     NewRMSDynamics(),
		minDuration:  DefaultMinDuration,
		timeout:      DefaultTimeout,
		logger:       logger.Nop(),
		timbreWindow: hann(timbreSize),
		timbrePool:   newFFTPool(timbreSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("performance")
	return a
}

const timbreSize = 1024

// CallOption tunes a single Analyze call.
type CallOption func(*call)

type call struct {
	expectedTempo float64
}

// ExpectTempo sets the prior the tempo estimators are folded towards,
// usually the score tempo. The default prior is 120 BPM.
func ExpectTempo(bpm float64) CallOption {
	return func(c *call) {
		if bpm > 0 {
			c.expectedTempo = bpm
		}
	}
}

type result struct {
	model model.PerformanceModel
	err   error
}

// Analyze measures rec played on inst. Failures are *Failure values and no
// partial model is returned.
func (a *Analyzer) Analyze(ctx context.Context, rec Recording, inst model.Instrument, opts ...CallOption) (pm model.PerformanceModel, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordPerformanceAnalysis(string(inst), outcome(err), time.Since(start))
	}()

	if !inst.Valid() {
		return model.PerformanceModel{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, inst)
	}
	c := call{expectedTempo: DefaultTempoBPM}
	for _, opt := range opts {
		opt(&c)
	}

	x, err := rec.mono(a.minDuration)
	if err != nil {
		return model.PerformanceModel{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		m, err := a.run(ctx, x, rec.SampleRate, inst, c)
		done <- result{m, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return model.PerformanceModel{}, r.err
		}
		a.logger.Debug(ctx, "recording analyzed",
			logger.String("instrument", string(inst)),
			logger.Int("notes", len(r.model.DetectedNotes)),
			logger.Float64("tempo_bpm", r.model.TempoBPMEstimate),
			logger.Duration("took", time.Since(start)))
		return r.model, nil
	case <-ctx.Done():
		return model.PerformanceModel{}, timeoutFailure(ctx.Err())
	}
}

func (a *Analyzer) run(ctx context.Context, x []float64, rate int, inst model.Instrument, c call) (model.PerformanceModel, error) {
	step := func() error {
		if err := ctx.Err(); err != nil {
			return timeoutFailure(err)
		}
		return nil
	}

	clean := a.denoiser.Denoise(x, rate)
	if err := step(); err != nil {
		return model.PerformanceModel{}, err
	}

	category := inst.Category()
	detector, ok := a.onsets[category]
	if !ok {
		detector = a.onsets[model.CategoryPitched]
	}
	onsets, novelty := detector.Detect(clean, rate)
	if err := step(); err != nil {
		return model.PerformanceModel{}, err
	}

	contour := a.pitch.Track(clean, rate, inst.Range())
	if err := step(); err != nil {
		return model.PerformanceModel{}, err
	}

	notes := segmentNotes(clean, rate, onsets, contour, category == model.CategoryPercussion)

	cands := make([]TempoCandidate, 0, len(a.estimators))
	for _, e := range a.estimators {
		if cand, ok := e.Estimate(TempoInput{Onsets: onsets, Novelty: novelty}); ok {
			cands = append(cands, cand)
		}
	}
	bpm, tempoConf := ReconcileTempo(cands, c.expectedTempo)

	trace := a.dynamics.Trace(clean, rate)
	mags := analyze(clean, a.timbreWindow, timbreSize/2, a.timbrePool).magnitudes()
	if err := step(); err != nil {
		return model.PerformanceModel{}, err
	}

	return model.PerformanceModel{
		Instrument:       inst,
		DetectedNotes:    notes,
		TempoBPMEstimate: bpm,
		TempoConfidence:  tempoConf,
		DynamicsTrace:    trace,
		ArticulationTags: articulation(notes),
		Timbre:           timbre(clean, rate, mags, timbreSize),
		DurationSeconds:  float64(len(x)) / float64(rate),
		SampleRate:       rate,
	}, nil
}

func timeoutFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: AnalysisTimeout, Err: err}
	}
	return err
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
