package repository_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/okian/etude/internal/adapters/repository"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/logger"
)

var t0 = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func openStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	s, err := repository.OpenSQLite(context.Background(), ":memory:", repository.WithLogger(logger.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func piece(id string, at time.Time) model.Piece {
	return model.Piece{
		ID:         id,
		Title:      "Etude " + id,
		SourceName: id + ".png",
		Score: model.ScoreModel{
			Notes: []model.Note{
				{Pitch: model.MustPitch("C4"), Onset: 0, Duration: 0.5, Beat: 0, Beats: 1},
				{Pitch: model.MustPitch("E4"), Onset: 0.5, Duration: 0.5, Beat: 1, Beats: 1},
			},
			TimeSignature: model.CommonTime,
			KeySignature:  model.KeySignature{Mode: "major"},
			TempoBPM:      120,
			Clef:          model.ClefTreble,
			Confidence:    0.7,
			SourceEngine:  "algorithmic",
		},
		CreatedAt: at,
	}
}

func session(id, pieceID, user string, overall *int, at time.Time) model.PracticeSession {
	status := model.StatusScored
	if overall == nil {
		status = model.StatusInsufficientData
	}
	fb := model.FeedbackReport{
		Status:          status,
		OverallScore:    overall,
		DynamicsEnabled: true,
		Recommendations: []string{"Keep going."},
		CreatedAt:       at,
	}
	if overall != nil {
		fb.PerDimension.Pitch = model.DimensionScore{Score: *overall, Confidence: model.ConfidenceStandard}
		fb.PerDimension.Dynamics = &model.DimensionScore{Score: 50, Confidence: model.ConfidenceHeuristic}
		fb.Weights = map[model.Dimension]float64{model.DimensionPitch: 0.4, model.DimensionDynamics: 0.1}
	}
	return model.PracticeSession{
		ID:              id,
		PieceID:         pieceID,
		UserID:          user,
		Instrument:      model.Violin,
		DynamicsEnabled: true,
		Performance: model.PerformanceModel{
			Instrument:       model.Violin,
			DetectedNotes:    []model.DetectedNote{{Pitch: model.MustPitch("C4"), Onset: 0.1, Duration: 0.4, Confidence: 0.9, FrequencyHz: 261.6}},
			TempoBPMEstimate: 118,
			DynamicsTrace:    []model.DynamicsPoint{{Time: 0, LoudnessDB: -12, Level: model.F}},
			ArticulationTags: []string{model.ArticulationNormal},
			DurationSeconds:  2,
			SampleRate:       22050,
		},
		Feedback:  fb,
		CreatedAt: at,
	}
}

func intp(v int) *int { return &v }

func TestPieces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	want := piece("p1", t0)
	require.NoError(t, s.SavePiece(ctx, want))
	require.NoError(t, s.SavePiece(ctx, piece("p2", t0.Add(time.Minute))))

	got, err := s.Piece(ctx, "p1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("piece mismatch (-want +got):\n%s", diff)
	}

	list, err := s.Pieces(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "p2", list[0].ID, "newest first")

	list, err = s.Pieces(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "p1", list[0].ID)

	_, err = s.Piece(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Pieces(ctx, 0, 0)
	require.ErrorIs(t, err, repository.ErrInvalidLimit)

	require.Error(t, s.SavePiece(ctx, piece("p1", t0)), "duplicate id")
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.SavePiece(ctx, piece("p1", t0)))

	_, err := s.LatestSession(ctx, "p1", "ana")
	require.ErrorIs(t, err, repository.ErrNotFound)

	first := session("s1", "p1", "ana", intp(70), t0.Add(time.Hour))
	second := session("s2", "p1", "ana", intp(78), t0.Add(2*time.Hour))
	unscored := session("s3", "p1", "ben", nil, t0.Add(3*time.Hour))
	for _, ps := range []model.PracticeSession{first, second, unscored} {
		require.NoError(t, s.SaveSession(ctx, ps))
	}

	got, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	latest, err := s.LatestSession(ctx, "p1", "ana")
	require.NoError(t, err)
	require.Equal(t, "s2", latest.ID)

	n, err := s.CountSessions(ctx, "p1", "ana")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	mine, err := s.Sessions(ctx, "p1", "ana", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"s2", "s1"}, ids(mine))

	all, err := s.Sessions(ctx, "p1", "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"s3", "s2", "s1"}, ids(all))

	back, err := s.Session(ctx, "s3")
	require.NoError(t, err)
	require.Nil(t, back.Feedback.OverallScore)
	require.Equal(t, model.StatusInsufficientData, back.Feedback.Status)

	_, err = s.Session(ctx, "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = s.SaveSession(ctx, session("s4", "no-such-piece", "ana", intp(1), t0))
	require.Error(t, err, "foreign key")
}

func ids(ss []model.PracticeSession) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

func TestJobsAndStats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Pieces)
	require.Nil(t, st.AverageScore)

	job := model.JobInfo{ID: "j1", PieceID: "p1", UserID: "ana", Status: model.JobQueued, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status, job.SessionID, job.UpdatedAt = model.JobDone, "s1", t0.Add(time.Second)
	require.NoError(t, s.SaveJob(ctx, job))
	require.NoError(t, s.SaveJob(ctx, model.JobInfo{ID: "j2", PieceID: "p1", Status: model.JobFailed, Error: "too short", CreatedAt: t0, UpdatedAt: t0}))

	got, err := s.Job(ctx, "j1")
	require.NoError(t, err)
	if diff := cmp.Diff(job, got); diff != "" {
		t.Fatalf("job mismatch (-want +got):\n%s", diff)
	}
	_, err = s.Job(ctx, "j9")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.SavePiece(ctx, piece("p1", t0)))
	for i, score := range []*int{intp(70), intp(80), nil} {
		require.NoError(t, s.SaveSession(ctx, session(fmt.Sprintf("s%d", i), "p1", "ana", score, t0.Add(time.Duration(i)*time.Minute))))
	}

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Pieces)
	require.Equal(t, 3, st.Sessions)
	require.Equal(t, 2, st.ScoredCount)
	require.NotNil(t, st.AverageScore)
	require.InDelta(t, 75, *st.AverageScore, 1e-9)
	require.Equal(t, map[model.JobStatus]int{model.JobDone: 1, model.JobFailed: 1}, st.Jobs)
}

func TestReopenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "etude.db")

	s, err := repository.OpenSQLite(ctx, path, repository.WithLogger(logger.Nop()), repository.WithBusyTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.SavePiece(ctx, piece("p1", t0)))
	require.NoError(t, s.Close())

	// Migrations are idempotent and data survives.
	s, err = repository.OpenSQLite(ctx, path, repository.WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Piece(ctx, "p1")
	require.NoError(t, err)
}
