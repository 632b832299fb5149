// Package service orchestrates the practice pipeline: sheet recognition,
// recording analysis, comparison, feedback and history, on top of the
// repository and the background job queue.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/etude/internal/adapters/ingest"
	"github.com/okian/etude/internal/adapters/mq/queue"
	"github.com/okian/etude/internal/adapters/mq/worker"
	"github.com/okian/etude/internal/adapters/repository"
	"github.com/okian/etude/internal/config"
	"github.com/okian/etude/internal/domain/compare"
	"github.com/okian/etude/internal/domain/dedupe"
	"github.com/okian/etude/internal/domain/feedback"
	"github.com/okian/etude/internal/domain/history"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service implements the dependencies required by the HTTP API and the CLI.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store      repository.Store
	ownsStore  bool
	engines    []omr.Engine
	selector   *omr.Selector
	analyzer   *performance.Analyzer
	decoder    *ingest.Decoder
	comparator *compare.Comparator
	synth      *feedback.Synthesizer
	history    *history.Comparator
	submitted  dedupe.Deduper

	// Background processing
	jobs        *queue.InMemoryQueue
	pool        *worker.Pool
	workerCount int
	queueSize   int
	cancel      context.CancelFunc

	now      func() time.Time
	started  bool
	stopping bool
	logger   logger.Logger
}

// New constructs a Service. Components not supplied through options are
// built from the configuration (config defaults when none is given).
func New(opts ...Option) *Service {
	s := &Service{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	if s.cfg == nil {
		s.cfg = config.New(context.Background())
	}
	cfg := s.cfg
	if s.workerCount == 0 {
		s.workerCount = cfg.WorkerCount
	}
	if s.queueSize == 0 {
		s.queueSize = cfg.JobQueueSize
	}
	if s.analyzer == nil {
		s.analyzer = performance.NewAnalyzer(
			performance.WithMinDuration(cfg.MinRecording()),
			performance.WithTimeout(cfg.AudioTimeout()),
			performance.WithLogger(s.logger),
		)
	}
	if s.decoder == nil {
		s.decoder = ingest.NewDecoder(
			ingest.WithFFmpeg(cfg.FFmpegBin),
			ingest.WithSampleRate(cfg.SampleRate),
			ingest.WithTimeout(cfg.AudioTimeout()),
			ingest.WithLogger(s.logger),
		)
	}
	s.comparator = compare.NewComparator(
		compare.WithOnsetTolerance(cfg.OnsetToleranceBeats),
		compare.WithMaxRhythmDeviation(cfg.RhythmMaxDeviationBeats),
		compare.WithTempoBand(cfg.TempoBandPct, cfg.TempoZeroPct, cfg.TempoFloor),
	)
	s.synth = feedback.NewSynthesizer(
		feedback.WithThresholds(cfg.RecommendLow, cfg.RecommendHigh),
		feedback.WithClock(s.now),
	)
	s.history = history.NewComparator(history.WithMateriality(cfg.Materiality))
	if s.submitted == nil {
		s.submitted = dedupe.NewInMemoryDeduper(dedupe.WithTTL(cfg.IdempotencyTTL()))
	}
	return s
}

// Start opens the store, binds the OMR engine and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting practice service...")

	if s.store == nil {
		store, err := repository.OpenSQLite(ctx, s.cfg.DBPath, repository.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store, s.ownsStore = store, true
	}

	if s.engines == nil {
		engines, err := omr.BuildEngines(s.cfg.OMREngines, omr.EngineSettings{
			AudiverisBin: s.cfg.AudiverisBin,
			OemerBin:     s.cfg.OemerBin,
			PdftoppmBin:  s.cfg.PdftoppmBin,
			Timeout:      s.cfg.OMRTimeout(),
			RenderScale:  s.cfg.RenderScale,
			Logger:       s.logger,
		})
		if err != nil {
			s.closeStore()
			return fmt.Errorf("build omr engines: %w", err)
		}
		s.engines = engines
	}
	s.selector = omr.NewSelector(s.engines,
		omr.WithProbeTimeout(s.cfg.OMRProbeTimeout()),
		omr.WithSelectorLogger(s.logger),
	)
	engine, err := s.selector.Select(ctx)
	if err != nil {
		s.closeStore()
		return err
	}

	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.jobs, s,
		worker.WithLogger(s.logger),
		worker.WithJobTimeout(s.cfg.AudioTimeout()+time.Minute),
	)
	// Workers outlive the request that started the service.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "practice service started",
		logger.String("omr_engine", engine.Name()),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop drains queued jobs and closes the store if the service opened it.
// Workers keep using the service while they drain, so the lock is not held
// across the drain.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pool := s.pool
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping practice service...")
	sctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := pool.Shutdown(sctx); err != nil {
		s.logger.Warn(ctx, "workers did not drain", logger.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.closeStore()
	s.started, s.stopping = false, false
	s.logger.Info(ctx, "practice service stopped")
}

func (s *Service) closeStore() {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(context.Background(), "close store", logger.Error(err))
		}
		s.store, s.ownsStore = nil, false
	}
}

// ready returns the store once the service is started.
func (s *Service) ready() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

func newID() string { return uuid.NewString() }

// Stats is the service health and content summary.
type Stats struct {
	Started       bool        `json:"started"`
	Engine        string      `json:"omr_engine,omitempty"`
	Probes        []omr.Probe `json:"omr_probes,omitempty"`
	Workers       int         `json:"workers"`
	QueueLength   int         `json:"queue_length"`
	QueueCapacity int         `json:"queue_capacity"`
	// IdempotencyKeys counts remembered async submission keys.
	IdempotencyKeys int64            `json:"idempotency_keys"`
	Store           repository.Stats `json:"store"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Started: s.started, Workers: s.workerCount, QueueCapacity: s.queueSize}
	if !s.started {
		return st, nil
	}
	if e := s.selector.Engine(); e != nil {
		st.Engine = e.Name()
	}
	st.Probes = s.selector.Probes()
	st.Workers = s.pool.Size()
	st.QueueLength = s.jobs.Len()
	st.IdempotencyKeys = s.submitted.Size()

	stored, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Store = stored

	metrics.UpdateQueueSize(st.QueueLength)
	metrics.UpdateWorkerCount(st.Workers)
	return st, nil
}
