package handler

import (
	"log/slog"
	"net/http"

	"gridbot/internal/grid"
)

// GridHandler exposes the grid levels with their states and pairings.
type GridHandler struct {
	grid   *grid.Manager
	logger *slog.Logger
}

// NewGridHandler creates a GridHandler over the grid manager.
func NewGridHandler(gm *grid.Manager, logger *slog.Logger) *GridHandler {
	return &GridHandler{
		grid:   gm,
		logger: logHandler(logger, "grid"),
	}
}

// GetGrid returns every level ascending by price.
// GET /api/grid
func (h *GridHandler) GetGrid(w http.ResponseWriter, r *http.Request) {
	levels := h.grid.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"trigger_price": h.grid.TriggerPrice(),
		"levels":        levels,
		"count":         len(levels),
	})
}
