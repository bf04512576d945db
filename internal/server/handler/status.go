package handler

import (
	"log/slog"
	"net/http"
	"time"

	"gridbot/internal/bot"
	"gridbot/internal/grid"
	"gridbot/internal/ledger"
	"gridbot/internal/orderbook"
)

// StatusHandler reports the bot's runtime state for dashboards.
type StatusHandler struct {
	bot       *bot.Bot
	grid      *grid.Manager
	ledger    *ledger.Ledger
	book      *orderbook.Book
	pair      string
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler over the live bot components.
func NewStatusHandler(b *bot.Bot, gm *grid.Manager, l *ledger.Ledger, book *orderbook.Book, pair, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		bot:       b,
		grid:      gm,
		ledger:    l,
		book:      book,
		pair:      pair,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus returns a snapshot of the run: mode, pair, trigger price,
// balances, grid state counts, and open order counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.ledger.State()
	buys, sells := h.book.Counts()

	states := make(map[string]int)
	for _, lvl := range h.grid.Snapshot() {
		states[string(lvl.State)]++
	}

	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"pair":           h.pair,
		"running":        h.bot.Running(),
		"seeded":         h.bot.Seeded(),
		"trigger_price":  h.grid.TriggerPrice(),
		"uptime_seconds": uptime,
		"balances": map[string]float64{
			"fiat":            snap.Fiat,
			"crypto":          snap.Crypto,
			"reserved_fiat":   snap.ReservedFiat,
			"reserved_crypto": snap.ReservedCrypto,
			"fees_paid":       snap.FeesPaid,
		},
		"grid_states": states,
		"open_orders": map[string]int{
			"buys":  buys,
			"sells": sells,
			"total": buys + sells,
		},
	})
}
