package handler

import (
	"log/slog"
	"net/http"

	"gridbot/internal/bot"
)

// ControlHandler drives the bot's runtime controls from the API.
type ControlHandler struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler over the running bot.
func NewControlHandler(b *bot.Bot, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		bot:    b,
		logger: logHandler(logger, "control"),
	}
}

// Pause suspends tick processing without tearing the run down.
// POST /api/control/pause
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.bot.Pause()
	h.logger.InfoContext(r.Context(), "pause requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "paused",
		"running": h.bot.Running(),
	})
}

// Resume re-enables tick processing after a pause.
// POST /api/control/resume
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.bot.Resume()
	h.logger.InfoContext(r.Context(), "resume requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"running": h.bot.Running(),
	})
}

// Stop ends the run. The process exits once the bot's loop drains.
// POST /api/control/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.bot.Stop()
	h.logger.InfoContext(r.Context(), "stop requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "stopping",
		"running": h.bot.Running(),
	})
}
