package omr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Probe records the availability check of one engine.
type Probe struct {
	Engine    string        `json:"engine"`
	Available bool          `json:"available"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took"`
}

// Selector binds the first available engine of a priority list. Probing
// happens once; later calls return the same engine.
type Selector struct {
	engines      []Engine
	probeTimeout time.Duration
	logger       logger.Logger

	once sync.Once

	mu       sync.RWMutex
	selected Engine
	probes   []Probe
	err      error
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithProbeTimeout bounds each availability probe.
func WithProbeTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithSelectorLogger sets the selector logger.
func WithSelectorLogger(l logger.Logger) SelectorOption {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSelector builds a selector over engines in priority order.
func NewSelector(engines []Engine, opts ...SelectorOption) *Selector {
	s := &Selector{
		engines:      append([]Engine(nil), engines...),
		probeTimeout: defaultProbeTimeout,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the bound engine, probing on the first call only.
func (s *Selector) Select(ctx context.Context) (Engine, error) {
	s.once.Do(func() {
		e, err := s.probe(ctx)
		s.mu.Lock()
		s.selected, s.err = e, err
		s.mu.Unlock()
	})
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.err
}

// Engine returns the bound engine, or nil before a successful Select.
// It does not wait for a Select in progress.
func (s *Selector) Engine() Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Probes returns the availability results recorded so far by the first
// Select call.
func (s *Selector) Probes() []Probe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Probe(nil), s.probes...)
}

func (s *Selector) probe(ctx context.Context) (Engine, error) {
	if len(s.engines) == 0 {
		return nil, fmt.Errorf("%w: empty priority list", ErrNoEngine)
	}
	last := len(s.engines) - 1
	for i, e := range s.engines {
		start := time.Now()
		err := s.check(ctx, e)
		p := Probe{Engine: e.Name(), Available: err == nil, Took: time.Since(start)}
		if err != nil {
			p.Error = err.Error()
		}
		s.mu.Lock()
		s.probes = append(s.probes, p)
		s.mu.Unlock()

		if err == nil {
			s.logger.Info(ctx, "omr engine selected",
				logger.String("engine", e.Name()),
				logger.Int("priority", i),
				logger.Duration("probe", p.Took),
			)
			metrics.SetSelectedEngine(e.Name())
			return e, nil
		}

		metrics.RecordOMRProbeFailure(e.Name())
		if i == last {
			s.logger.Error(ctx, "fallback omr engine unavailable",
				logger.String("engine", e.Name()), logger.Error(err))
			return nil, fmt.Errorf("%w: %s: %w", ErrNoEngine, e.Name(), err)
		}
		s.logger.Info(ctx, "omr engine unavailable, trying next",
			logger.String("engine", e.Name()), logger.Error(err))
	}
	return nil, ErrNoEngine
}

// check runs one probe under the probe timeout. A panicking probe counts as
// unavailable; for the fallback engine that surfaces as ErrNoEngine.
func (s *Selector) check(ctx context.Context, e Engine) error {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- e.Available(pctx)
	}()

	select {
	case err := <-done:
		return err
	case <-pctx.Done():
		return fmt.Errorf("probe: %w", pctx.Err())
	}
}
