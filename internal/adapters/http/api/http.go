// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"

	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/pkg/logger"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	ImportPiece(ctx context.Context, title string, src omr.Source) (model.Piece, error)
	Piece(ctx context.Context, id string) (model.Piece, error)
	Pieces(ctx context.Context, limit, offset int) ([]model.Piece, error)

	Practice(ctx context.Context, req service.PracticeRequest) (service.PracticeResult, error)
	SubmitPractice(ctx context.Context, req service.PracticeRequest) (model.JobInfo, error)
	Session(ctx context.Context, id string) (model.PracticeSession, error)
	Sessions(ctx context.Context, pieceID, userID string, limit int) ([]model.PracticeSession, error)
	Job(ctx context.Context, id string) (model.JobInfo, error)

	GetStats(ctx context.Context) (service.Stats, error)
}

const defaultMaxUpload int64 = 50 << 20

// Server wires HTTP routes for the business API.
type Server struct {
	deps      Dependencies
	validate  *formValidator
	maxUpload int64
	logger    logger.Logger

	health *HealthHandler
	stats  *StatsHandler
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps multipart request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) (*Server, error) {
	v, err := newFormValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		deps:      deps,
		validate:  v,
		maxUpload: defaultMaxUpload,
		health:    NewHealthHandler(),
		stats:     NewStatsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s, nil
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.health.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.health.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.stats.HandleStats, "stats"))

	mux.HandleFunc("POST /pieces", MetricsMiddleware(s.handleImportPiece, "pieces"))
	mux.HandleFunc("GET /pieces", MetricsMiddleware(s.handleListPieces, "pieces"))
	mux.HandleFunc("GET /pieces/{id}", MetricsMiddleware(s.handleGetPiece, "piece"))

	mux.HandleFunc("POST /pieces/{id}/sessions", MetricsMiddleware(s.handlePractice, "sessions"))
	mux.HandleFunc("GET /pieces/{id}/sessions", MetricsMiddleware(s.handleListSessions, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.handleGetSession, "session"))
	mux.HandleFunc("GET /jobs/{id}", MetricsMiddleware(s.handleGetJob, "job"))
}

type errorResponse struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes the matching status and body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorResponse{Code: code, Message: err.Error()}
	if ve, ok := asValidation(err); ok {
		body.Violations = ve.Violations
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeJSON(w, status, body)
}
