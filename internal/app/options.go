package service

import (
	"time"

	"github.com/okian/etude/internal/adapters/ingest"
	"github.com/okian/etude/internal/adapters/repository"
	"github.com/okian/etude/internal/config"
	"github.com/okian/etude/internal/domain/dedupe"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration the default components are built from.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore sets the persistence layer. The caller keeps ownership and
// closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithEngines sets the OMR engines in priority order.
func WithEngines(engines ...omr.Engine) Option {
	return func(s *Service) {
		if len(engines) > 0 {
			s.engines = engines
		}
	}
}

// WithAnalyzer sets the recording analyzer.
func WithAnalyzer(a *performance.Analyzer) Option {
	return func(s *Service) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithDecoder sets the audio upload decoder.
func WithDecoder(d *ingest.Decoder) Option {
	return func(s *Service) {
		if d != nil {
			s.decoder = d
		}
	}
}

// WithWorkerCount sets the number of practice workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the practice job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithClock sets the timestamp source for pieces, sessions and jobs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDeduper sets the store of Idempotency-Key claims for async submissions.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.submitted = d
		}
	}
}
