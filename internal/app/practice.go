package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/okian/etude/internal/adapters/mq/queue"
	"github.com/okian/etude/internal/adapters/repository"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

// PracticeRequest is one attempt at a stored piece. Exactly one of Audio
// (an encoded upload) or Recording (decoded PCM) is set.
type PracticeRequest struct {
	PieceID    string
	UserID     string
	Instrument model.Instrument
	// Dynamics overrides the configured default when set.
	Dynamics  *bool
	Audio     []byte
	Recording *performance.Recording
	// IdempotencyKey makes SubmitPractice return the job of an earlier
	// submission with the same key for the same piece.
	IdempotencyKey string
}

func (r PracticeRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.PieceID) == "" {
		problems = append(problems, "piece id is required")
	}
	if !r.Instrument.Valid() {
		problems = append(problems, fmt.Sprintf("unknown instrument %q", r.Instrument))
	}
	if (len(r.Audio) == 0) == (r.Recording == nil) {
		problems = append(problems, "exactly one of audio or recording is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// PracticeResult is a stored session and its comparison with the previous
// attempt by the same user.
type PracticeResult struct {
	Session    model.PracticeSession  `json:"session"`
	Comparison model.ComparisonReport `json:"comparison"`
}

func (s *Service) dynamics(req PracticeRequest) bool {
	if req.Dynamics != nil {
		return *req.Dynamics
	}
	return s.cfg.DynamicsEnabled
}

// Practice analyzes one attempt synchronously and records it.
func (s *Service) Practice(ctx context.Context, req PracticeRequest) (PracticeResult, error) {
	store, err := s.ready()
	if err != nil {
		return PracticeResult{}, err
	}
	if err := req.validate(); err != nil {
		return PracticeResult{}, err
	}

	var (
		piece    model.Piece
		previous *model.FeedbackReport
		attempts int
		rec      performance.Recording
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		piece, err = store.Piece(gctx, req.PieceID)
		return err
	})
	g.Go(func() error {
		last, err := store.LatestSession(gctx, req.PieceID, req.UserID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		previous = &last.Feedback
		attempts, err = store.CountSessions(gctx, req.PieceID, req.UserID)
		return err
	})
	g.Go(func() error {
		if req.Recording != nil {
			rec = *req.Recording
			return nil
		}
		var err error
		rec, err = s.decoder.Decode(gctx, req.Audio)
		return err
	})
	if err := g.Wait(); err != nil {
		return PracticeResult{}, err
	}

	dyn := s.dynamics(req)
	perf, err := s.analyzer.Analyze(ctx, rec, req.Instrument, performance.ExpectTempo(piece.Score.TempoBPM))
	if err != nil {
		return PracticeResult{}, err
	}
	report := s.synth.Synthesize(s.comparator.Compare(piece.Score, perf, dyn), dyn)
	comparison := s.history.Compare(report, previous, attempts+1)

	session := model.PracticeSession{
		ID:              newID(),
		PieceID:         piece.ID,
		UserID:          req.UserID,
		Instrument:      req.Instrument,
		DynamicsEnabled: dyn,
		Performance:     perf,
		Feedback:        report,
		CreatedAt:       s.now().UTC(),
	}
	if err := store.SaveSession(ctx, session); err != nil {
		return PracticeResult{}, fmt.Errorf("save session: %w", err)
	}
	metrics.RecordSessionRecorded()

	fields := []logger.Field{
		logger.String("session_id", session.ID),
		logger.String("piece_id", piece.ID),
		logger.String("status", string(report.Status)),
		logger.Int("attempt", comparison.TotalAttempts),
	}
	if report.OverallScore != nil {
		fields = append(fields, logger.Int("overall", *report.OverallScore))
	}
	s.logger.Info(ctx, "practice session recorded", fields...)
	return PracticeResult{Session: session, Comparison: comparison}, nil
}

// SubmitPractice decodes the upload, checks the piece exists and queues the
// attempt for a worker. A full queue returns ErrBackpressure. A request with
// an IdempotencyKey already used for the piece returns the earlier job
// without queueing again; a failed submission frees its key.
func (s *Service) SubmitPractice(ctx context.Context, req PracticeRequest) (model.JobInfo, error) {
	store, err := s.ready()
	if err != nil {
		return model.JobInfo{}, err
	}
	if err := req.validate(); err != nil {
		return model.JobInfo{}, err
	}
	if _, err := store.Piece(ctx, req.PieceID); err != nil {
		return model.JobInfo{}, err
	}

	jobID := newID()
	var claim string
	if req.IdempotencyKey != "" {
		claim = req.PieceID + "/" + req.IdempotencyKey
		if prev, seen := s.submitted.SeenAndRecord(ctx, claim, jobID); seen {
			s.logger.Debug(ctx, "repeated practice submission",
				logger.String("job_id", prev), logger.String("piece_id", req.PieceID))
			return s.repeatedJob(ctx, store, prev, req)
		}
	}
	// A submission that never reached the queue can be retried with its key.
	release := func() {
		if claim != "" {
			s.submitted.Unrecord(ctx, claim)
		}
	}

	rec := req.Recording
	if rec == nil {
		decoded, err := s.decoder.Decode(ctx, req.Audio)
		if err != nil {
			release()
			return model.JobInfo{}, err
		}
		rec = &decoded
	}

	now := s.now().UTC()
	job := model.PracticeJob{
		ID:              jobID,
		PieceID:         req.PieceID,
		UserID:          req.UserID,
		Instrument:      req.Instrument,
		DynamicsEnabled: s.dynamics(req),
		Samples:         rec.Samples,
		SampleRate:      rec.SampleRate,
		Channels:        rec.Channels,
		SubmittedAt:     now,
	}
	info := model.JobInfo{
		ID:        job.ID,
		PieceID:   job.PieceID,
		UserID:    job.UserID,
		Status:    model.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.SaveJob(ctx, info); err != nil {
		release()
		return model.JobInfo{}, fmt.Errorf("save job: %w", err)
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		release()
		info.Status, info.Error, info.UpdatedAt = model.JobFailed, err.Error(), s.now().UTC()
		if serr := store.SaveJob(ctx, info); serr != nil {
			s.logger.Error(ctx, "record rejected job", logger.String("job_id", info.ID), logger.Error(serr))
		}
		metrics.RecordJobOutcome(string(model.JobFailed))
		if errors.Is(err, queue.ErrFull) {
			return model.JobInfo{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return model.JobInfo{}, err
	}
	s.logger.Debug(ctx, "practice job queued", logger.String("job_id", job.ID), logger.Int("queue_length", s.jobs.Len()))
	return info, nil
}

// repeatedJob returns the job a repeated submission maps to. The first
// submission may still be decoding, in which case its job is not stored yet.
func (s *Service) repeatedJob(ctx context.Context, store repository.Store, id string, req PracticeRequest) (model.JobInfo, error) {
	info, err := store.Job(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		now := s.now().UTC()
		return model.JobInfo{
			ID:        id,
			PieceID:   req.PieceID,
			UserID:    req.UserID,
			Status:    model.JobQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	return info, err
}

// Process implements worker.Processor: it runs a queued attempt and records
// the job state transitions.
func (s *Service) Process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: jobs are passed by value for channel semantics
	store, err := s.ready()
	if err != nil {
		return err
	}
	info := model.JobInfo{
		ID:        j.ID,
		PieceID:   j.PieceID,
		UserID:    j.UserID,
		Status:    model.JobRunning,
		CreatedAt: j.SubmittedAt,
		UpdatedAt: s.now().UTC(),
	}
	if err := store.SaveJob(ctx, info); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	dyn := j.DynamicsEnabled
	res, perr := s.Practice(ctx, PracticeRequest{
		PieceID:    j.PieceID,
		UserID:     j.UserID,
		Instrument: j.Instrument,
		Dynamics:   &dyn,
		Recording:  &performance.Recording{Samples: j.Samples, SampleRate: j.SampleRate, Channels: j.Channels},
	})
	info.UpdatedAt = s.now().UTC()
	if perr != nil {
		info.Status, info.Error = model.JobFailed, perr.Error()
	} else {
		info.Status, info.SessionID = model.JobDone, res.Session.ID
	}
	metrics.RecordJobOutcome(string(info.Status))

	// The job context may be spent; the final state must still land.
	if err := store.SaveJob(context.WithoutCancel(ctx), info); err != nil {
		return fmt.Errorf("mark job %s: %w", info.Status, err)
	}
	return perr
}

// Job returns the state of a queued practice attempt.
func (s *Service) Job(ctx context.Context, id string) (model.JobInfo, error) {
	store, err := s.ready()
	if err != nil {
		return model.JobInfo{}, err
	}
	return store.Job(ctx, id)
}

// Session returns a stored practice session.
func (s *Service) Session(ctx context.Context, id string) (model.PracticeSession, error) {
	store, err := s.ready()
	if err != nil {
		return model.PracticeSession{}, err
	}
	return store.Session(ctx, id)
}

// Sessions lists sessions on a piece newest first, optionally for one user.
func (s *Service) Sessions(ctx context.Context, pieceID, userID string, limit int) ([]model.PracticeSession, error) {
	store, err := s.ready()
	if err != nil {
		return nil, err
	}
	if _, err := store.Piece(ctx, pieceID); err != nil {
		return nil, err
	}
	return store.Sessions(ctx, pieceID, userID, limit)
}
