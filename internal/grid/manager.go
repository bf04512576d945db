package grid

import (
	"fmt"
	"log/slog"
	"sync"

	"gridbot/internal/config"
	"gridbot/internal/domain"
)

// PairKind names the direction of a pairing between two levels.
type PairKind string

const (
	// PairBuy records target as the buy side that funds source.
	PairBuy PairKind = "buy"
	// PairSell records target as the sell side that source funds.
	PairSell PairKind = "sell"
)

// Manager owns the grid arena: every level, its state, and the pairing
// relationships between levels. One mutex guards the whole arena; callers
// hold *Level handles but all reads and writes of level state go through
// Manager methods.
type Manager struct {
	mu sync.Mutex

	strategy Strategy
	levels   []*Level // ascending by price
	buys     []*Level
	sells    []*Level
	byPrice  map[float64]*Level
	central  float64

	log *slog.Logger
}

// NewManager computes the price levels for cfg and builds the arena with
// each level in its strategy-defined initial state.
func NewManager(cfg config.GridConfig, log *slog.Logger) (*Manager, error) {
	strat, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	prices, central, err := Calculate(cfg.Bottom, cfg.Top, cfg.Levels, Spacing(cfg.Spacing))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		strategy: strat,
		levels:   make([]*Level, len(prices)),
		byPrice:  make(map[float64]*Level, len(prices)),
		central:  central,
		log:      log,
	}
	n := len(prices)
	for i, price := range prices {
		lvl := newLevel(price, strat.InitialState(i, n, price, central), i)
		m.levels[i] = lvl
		m.byPrice[price] = lvl
		if strat.InBuySet(i, n, price, central) {
			m.buys = append(m.buys, lvl)
		}
		if strat.InSellSet(i, n, price, central) {
			m.sells = append(m.sells, lvl)
		}
	}

	log.Info("grid initialized",
		"strategy", strat.Name(),
		"levels", n,
		"bottom", prices[0],
		"top", prices[n-1],
		"central", central,
	)
	return m, nil
}

// TriggerPrice returns the central price the bot waits to cross before
// seeding the grid.
func (m *Manager) TriggerPrice() float64 { return m.central }

// LevelCount returns the number of levels in the grid.
func (m *Manager) LevelCount() int { return len(m.levels) }

// Prices returns all level prices in ascending order.
func (m *Manager) Prices() []float64 {
	out := make([]float64, len(m.levels))
	for i, lvl := range m.levels {
		out[i] = lvl.Price
	}
	return out
}

// BuyPrices returns the prices of the buy-subset levels in ascending order.
func (m *Manager) BuyPrices() []float64 {
	out := make([]float64, len(m.buys))
	for i, lvl := range m.buys {
		out[i] = lvl.Price
	}
	return out
}

// SellPrices returns the prices of the sell-subset levels in ascending order.
func (m *Manager) SellPrices() []float64 {
	out := make([]float64, len(m.sells))
	for i, lvl := range m.sells {
		out[i] = lvl.Price
	}
	return out
}

// InSubset reports whether the level at exactly the given price belongs to
// the side's order subset. Prices that are not level prices are in neither
// subset.
func (m *Manager) InSubset(side domain.OrderSide, price float64) bool {
	lvl, ok := m.byPrice[price]
	if !ok {
		return false
	}
	if side == domain.OrderSideBuy {
		return m.strategy.InBuySet(lvl.index, len(m.levels), price, m.central)
	}
	return m.strategy.InSellSet(lvl.index, len(m.levels), price, m.central)
}

// LevelAt returns the level with exactly the given price.
func (m *Manager) LevelAt(price float64) (*Level, bool) {
	lvl, ok := m.byPrice[price]
	return lvl, ok
}

// OrderSize converts the portfolio value into the per-level order quantity:
// the total is split evenly across all levels and priced at the current
// market price.
func (m *Manager) OrderSize(totalValue, currentPrice float64) float64 {
	return totalValue / float64(len(m.levels)) / currentPrice
}

// InitialQuantity returns how much crypto to buy up front so the portfolio
// starts half fiat, half crypto. Already-held crypto counts toward the
// target, and the spend is capped at the available fiat.
func (m *Manager) InitialQuantity(fiat, crypto, price float64) float64 {
	cryptoValue := crypto * price
	allocate := (fiat+cryptoValue)/2 - cryptoValue
	if allocate < 0 {
		allocate = 0
	}
	if allocate > fiat {
		allocate = fiat
	}
	return allocate / price
}

// CanPlaceOrder reports whether an order of the given side may be placed on
// the level in its current state.
func (m *Manager) CanPlaceOrder(lvl *Level, side domain.OrderSide) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy.CanPlace(lvl.state, side)
}

// MarkOrderPending records an open order on the level and moves it to the
// waiting state for the order's side.
func (m *Manager) MarkOrderPending(lvl *Level, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.strategy.CanPlace(lvl.state, order.Side) {
		return fmt.Errorf("grid: level %v in state %s cannot accept %s order: %w",
			lvl.Price, lvl.state, order.Side, domain.ErrLevelNotReady)
	}
	lvl.addOrder(order)
	if order.Side == domain.OrderSideBuy {
		lvl.state = StateWaitingForBuyFill
	} else {
		lvl.state = StateWaitingForSellFill
	}
	m.log.Debug("order pending on level",
		"price", lvl.Price, "side", order.Side, "order_id", order.ID, "state", lvl.state)
	return nil
}

// CompleteOrder applies the strategy's fill transition for the given side
// and drops the oldest pending order of that side from the level. Strategies
// without a fill transition leave the level untouched.
func (m *Manager) CompleteOrder(lvl *Level, side domain.OrderSide) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.strategy.FillTransition(side)
	if !ok {
		return
	}
	lvl.removeFirstBySide(side)
	lvl.state = next
	m.log.Debug("level completed order", "price", lvl.Price, "side", side, "state", next)
}

// MarkOrderCancelled removes the cancelled order from the level and applies
// the strategy's cancel transition, including any cascade onto the paired
// level opposite the cancelled side.
func (m *Manager) MarkOrderCancelled(lvl *Level, order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl.removeOrder(order.ID)
	next, pairedNext, cascade := m.strategy.CancelTransition(order.Side)
	lvl.state = next
	if !cascade {
		return
	}
	pairedIdx := lvl.pairedSell
	if order.Side == domain.OrderSideSell {
		pairedIdx = lvl.pairedBuy
	}
	if pairedIdx < 0 {
		return
	}
	paired := m.levels[pairedIdx]
	paired.state = pairedNext
	m.log.Debug("cancel cascaded to paired level",
		"price", lvl.Price, "paired_price", paired.Price, "paired_state", pairedNext)
}

// PairLevels records the pairing between source and target. kind names what
// target is to source: PairBuy makes target the buy level backing source,
// PairSell makes target the sell level that source funds. The reverse
// reference is set on target so the relationship can be walked either way.
func (m *Manager) PairLevels(source, target *Level, kind PairKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case PairBuy:
		source.pairedBuy = target.index
		target.pairedSell = source.index
	case PairSell:
		source.pairedSell = target.index
		target.pairedBuy = source.index
	default:
		return fmt.Errorf("grid: unknown pair kind %q: %w", kind, domain.ErrInvalidGrid)
	}
	m.log.Debug("levels paired", "source", source.Price, "target", target.Price, "kind", kind)
	return nil
}

// PairedSellLevel returns the sell level to pair with a filled buy at lvl,
// or nil when the strategy finds none. Eligibility is judged by the
// strategy; the simple variant skips sell levels that cannot currently take
// a sell order, the hedged variant always pairs with the next level up.
func (m *Manager) PairedSellLevel(lvl *Level) *Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.strategy.PairedSellIndex(m.levels, m.central, lvl.index, func(l *Level) bool {
		return m.strategy.CanPlace(l.state, domain.OrderSideSell)
	})
	if idx < 0 {
		return nil
	}
	return m.levels[idx]
}

// PairedBuyLevel returns the buy level previously paired with lvl, or nil.
func (m *Manager) PairedBuyLevel(lvl *Level) *Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lvl.pairedBuy < 0 {
		return nil
	}
	return m.levels[lvl.pairedBuy]
}

// LevelBelow returns the level one rung under lvl, or nil at the bottom.
func (m *Manager) LevelBelow(lvl *Level) *Level {
	if lvl.index == 0 {
		return nil
	}
	return m.levels[lvl.index-1]
}

// LevelSnapshot is a read-only copy of one level for status reporting.
type LevelSnapshot struct {
	Price      float64 `json:"price"`
	State      State   `json:"state"`
	OpenOrders int     `json:"open_orders"`
	PairedBuy  float64 `json:"paired_buy_price,omitempty"`
	PairedSell float64 `json:"paired_sell_price,omitempty"`
}

// Snapshot returns a consistent copy of every level, ascending by price.
func (m *Manager) Snapshot() []LevelSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LevelSnapshot, len(m.levels))
	for i, lvl := range m.levels {
		snap := LevelSnapshot{
			Price:      lvl.Price,
			State:      lvl.state,
			OpenOrders: len(lvl.orders),
		}
		if lvl.pairedBuy >= 0 {
			snap.PairedBuy = m.levels[lvl.pairedBuy].Price
		}
		if lvl.pairedSell >= 0 {
			snap.PairedSell = m.levels[lvl.pairedSell].Price
		}
		out[i] = snap
	}
	return out
}
