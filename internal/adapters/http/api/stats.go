package api

import (
	"context"
	"net/http"

	service "github.com/okian/etude/internal/app"
)

// StatsProvider reports service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) (service.Stats, error)
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.GetStats(r.Context())
	if err != nil {
		status, code := classify(err)
		writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
