package grid

import "gridbot/internal/domain"

// State is the lifecycle state of one grid level.
type State string

const (
	StateReadyToBuy         State = "ready_to_buy"
	StateReadyToSell        State = "ready_to_sell"
	StateWaitingForBuyFill  State = "waiting_for_buy_fill"
	StateWaitingForSellFill State = "waiting_for_sell_fill"
	// StateReadyToBuyOrSell is reachable only under the hedged strategy.
	StateReadyToBuyOrSell State = "ready_to_buy_or_sell"
)

// IsWaiting reports whether s is one of the waiting-for-fill states. A level
// may hold pending orders only while waiting.
func (s State) IsWaiting() bool {
	return s == StateWaitingForBuyFill || s == StateWaitingForSellFill
}

// Level is one rung of the price grid. Levels are created once at grid
// initialization and live in the Manager's arena slice; the paired buy/sell
// back-references are stored as arena indices (-1 when unset) so the cyclic
// relationship never holds pointers. All mutation goes through the Manager,
// which is the synchronization boundary.
type Level struct {
	Price float64

	state  State
	orders []*domain.Order

	index      int // position in the arena, ascending by price
	pairedBuy  int
	pairedSell int
}

func newLevel(price float64, state State, index int) *Level {
	return &Level{
		Price:      price,
		state:      state,
		index:      index,
		pairedBuy:  -1,
		pairedSell: -1,
	}
}

// State returns the current lifecycle state.
func (l *Level) State() State { return l.state }

// Orders returns a copy of the pending orders at this level.
func (l *Level) Orders() []*domain.Order {
	out := make([]*domain.Order, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Level) addOrder(o *domain.Order) {
	l.orders = append(l.orders, o)
}

// removeOrder drops the order with the given ID from the level, reporting
// whether it was present.
func (l *Level) removeOrder(id string) bool {
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// removeFirstBySide drops the oldest pending order of the given side.
func (l *Level) removeFirstBySide(side domain.OrderSide) bool {
	for i, o := range l.orders {
		if o.Side == side {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}
