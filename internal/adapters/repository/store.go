// Package repository persists pieces, practice sessions and job states.
package repository

import (
	"context"

	"github.com/okian/etude/internal/domain/model"
)

// Stats summarizes the stored data.
type Stats struct {
	Pieces       int                     `json:"pieces"`
	Sessions     int                     `json:"sessions"`
	ScoredCount  int                     `json:"scored_sessions"`
	AverageScore *float64                `json:"average_score,omitempty"`
	Jobs         map[model.JobStatus]int `json:"jobs"`
}

// Store provides read/write access to the practice history.
type Store interface {
	// SavePiece inserts a piece.
	SavePiece(ctx context.Context, p model.Piece) error
	// Piece returns ErrNotFound if the piece is unknown.
	Piece(ctx context.Context, id string) (model.Piece, error)
	// Pieces lists pieces newest first.
	Pieces(ctx context.Context, limit, offset int) ([]model.Piece, error)

	// SaveSession inserts a session. The piece must exist.
	SaveSession(ctx context.Context, s model.PracticeSession) error
	// Session returns ErrNotFound if the session is unknown.
	Session(ctx context.Context, id string) (model.PracticeSession, error)
	// Sessions lists a user's sessions on a piece newest first. An empty
	// userID lists every user's sessions.
	Sessions(ctx context.Context, pieceID, userID string, limit int) ([]model.PracticeSession, error)
	// LatestSession returns the user's most recent session on a piece, or ErrNotFound.
	LatestSession(ctx context.Context, pieceID, userID string) (model.PracticeSession, error)
	// CountSessions counts the user's sessions on a piece.
	CountSessions(ctx context.Context, pieceID, userID string) (int, error)

	// SaveJob inserts or replaces a job state.
	SaveJob(ctx context.Context, j model.JobInfo) error
	// Job returns ErrNotFound if the job is unknown.
	Job(ctx context.Context, id string) (model.JobInfo, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
