package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

// Recognize runs the bound OMR engine on src without persisting anything.
func (s *Service) Recognize(ctx context.Context, src omr.Source) (model.ScoreModel, error) {
	if _, err := s.ready(); err != nil {
		return model.ScoreModel{}, err
	}
	engine, err := s.selector.Select(ctx)
	if err != nil {
		return model.ScoreModel{}, err
	}
	score, err := engine.Analyze(ctx, src)
	if err != nil {
		return model.ScoreModel{}, err
	}
	return score.Finalize(), nil
}

// ImportPiece recognizes src and stores the result as a new piece. An empty
// title falls back to the file name.
func (s *Service) ImportPiece(ctx context.Context, title string, src omr.Source) (model.Piece, error) {
	store, err := s.ready()
	if err != nil {
		return model.Piece{}, err
	}
	score, err := s.Recognize(ctx, src)
	if err != nil {
		return model.Piece{}, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(src.Name), filepath.Ext(src.Name))
	}
	p := model.Piece{
		ID:         newID(),
		Title:      title,
		SourceName: src.Name,
		Score:      score,
		CreatedAt:  s.now().UTC(),
	}
	if err := store.SavePiece(ctx, p); err != nil {
		return model.Piece{}, fmt.Errorf("save piece: %w", err)
	}
	metrics.RecordPieceImported()
	s.logger.Info(ctx, "piece imported",
		logger.String("piece_id", p.ID),
		logger.String("engine", score.SourceEngine),
		logger.Int("notes", len(score.Notes)),
		logger.Float64("confidence", score.Confidence),
	)
	return p, nil
}

// Piece returns a stored piece.
func (s *Service) Piece(ctx context.Context, id string) (model.Piece, error) {
	store, err := s.ready()
	if err != nil {
		return model.Piece{}, err
	}
	return store.Piece(ctx, id)
}

// Pieces lists stored pieces newest first.
func (s *Service) Pieces(ctx context.Context, limit, offset int) ([]model.Piece, error) {
	store, err := s.ready()
	if err != nil {
		return nil, err
	}
	return store.Pieces(ctx, limit, offset)
}
