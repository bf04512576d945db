package grid

import (
	"errors"
	"testing"

	"gridbot/internal/domain"
)

func TestNewStrategy(t *testing.T) {
	for _, name := range []string{"simple", "hedged"} {
		s, err := NewStrategy(name)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("Name() = %q, want %q", s.Name(), name)
		}
	}

	if _, err := NewStrategy("martingale"); !errors.Is(err, domain.ErrInvalidGrid) {
		t.Errorf("unknown strategy error = %v, want ErrInvalidGrid", err)
	}
}

func TestSimpleInitialStateAndSets(t *testing.T) {
	s := Simple{}
	const central = 95000.0

	tests := []struct {
		price   float64
		state   State
		inBuys  bool
		inSells bool
	}{
		{90000, StateReadyToBuy, true, false},
		{95000, StateReadyToBuy, true, false}, // at central counts as buy side
		{97500, StateReadyToSell, false, true},
	}
	for _, tt := range tests {
		if got := s.InitialState(0, 5, tt.price, central); got != tt.state {
			t.Errorf("InitialState(%v) = %v, want %v", tt.price, got, tt.state)
		}
		if got := s.InBuySet(0, 5, tt.price, central); got != tt.inBuys {
			t.Errorf("InBuySet(%v) = %v, want %v", tt.price, got, tt.inBuys)
		}
		if got := s.InSellSet(0, 5, tt.price, central); got != tt.inSells {
			t.Errorf("InSellSet(%v) = %v, want %v", tt.price, got, tt.inSells)
		}
	}
}

func TestSimpleCanPlace(t *testing.T) {
	s := Simple{}
	tests := []struct {
		state State
		side  domain.OrderSide
		want  bool
	}{
		{StateReadyToBuy, domain.OrderSideBuy, true},
		{StateReadyToBuy, domain.OrderSideSell, false},
		{StateReadyToSell, domain.OrderSideSell, true},
		{StateReadyToSell, domain.OrderSideBuy, false},
		{StateWaitingForBuyFill, domain.OrderSideBuy, false},
		{StateWaitingForSellFill, domain.OrderSideSell, false},
	}
	for _, tt := range tests {
		if got := s.CanPlace(tt.state, tt.side); got != tt.want {
			t.Errorf("CanPlace(%v, %v) = %v, want %v", tt.state, tt.side, got, tt.want)
		}
	}
}

func TestSimpleTransitions(t *testing.T) {
	s := Simple{}

	if next, ok := s.FillTransition(domain.OrderSideBuy); !ok || next != StateReadyToSell {
		t.Errorf("buy fill -> (%v, %v), want (ready_to_sell, true)", next, ok)
	}
	if next, ok := s.FillTransition(domain.OrderSideSell); !ok || next != StateReadyToBuy {
		t.Errorf("sell fill -> (%v, %v), want (ready_to_buy, true)", next, ok)
	}

	// Cancels re-arm the same side and never cascade.
	if next, _, cascade := s.CancelTransition(domain.OrderSideBuy); next != StateReadyToBuy || cascade {
		t.Errorf("buy cancel -> (%v, cascade=%v)", next, cascade)
	}
	if next, _, cascade := s.CancelTransition(domain.OrderSideSell); next != StateReadyToSell || cascade {
		t.Errorf("sell cancel -> (%v, cascade=%v)", next, cascade)
	}
}

func TestHedgedInitialStateAndSets(t *testing.T) {
	s := Hedged{}
	const n = 5

	for i := 0; i < n; i++ {
		want := StateReadyToBuyOrSell
		if i == n-1 {
			want = StateReadyToSell
		}
		if got := s.InitialState(i, n, 0, 0); got != want {
			t.Errorf("InitialState(i=%d) = %v, want %v", i, got, want)
		}
		if got := s.InBuySet(i, n, 0, 0); got != (i < n-1) {
			t.Errorf("InBuySet(i=%d) = %v", i, got)
		}
		if got := s.InSellSet(i, n, 0, 0); got != (i > 0) {
			t.Errorf("InSellSet(i=%d) = %v", i, got)
		}
	}
}

func TestHedgedCanPlaceBothSides(t *testing.T) {
	s := Hedged{}
	if !s.CanPlace(StateReadyToBuyOrSell, domain.OrderSideBuy) ||
		!s.CanPlace(StateReadyToBuyOrSell, domain.OrderSideSell) {
		t.Error("ready_to_buy_or_sell should accept both sides")
	}
	if s.CanPlace(StateWaitingForBuyFill, domain.OrderSideBuy) {
		t.Error("waiting level accepted an order")
	}
}

func TestHedgedFillHasNoTransition(t *testing.T) {
	s := Hedged{}
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		if _, ok := s.FillTransition(side); ok {
			t.Errorf("FillTransition(%v) defined a state; hedged fills must leave the level alone", side)
		}
	}
}

func TestHedgedCancelCascades(t *testing.T) {
	s := Hedged{}

	next, pairedNext, cascade := s.CancelTransition(domain.OrderSideBuy)
	if next != StateReadyToBuyOrSell || pairedNext != StateReadyToSell || !cascade {
		t.Errorf("buy cancel -> (%v, %v, %v)", next, pairedNext, cascade)
	}
	next, pairedNext, cascade = s.CancelTransition(domain.OrderSideSell)
	if next != StateReadyToBuyOrSell || pairedNext != StateReadyToBuy || !cascade {
		t.Errorf("sell cancel -> (%v, %v, %v)", next, pairedNext, cascade)
	}
}

func TestHedgedPairedSellIndex(t *testing.T) {
	arena := make([]*Level, 4)
	for i := range arena {
		arena[i] = newLevel(float64(100+i), StateReadyToBuyOrSell, i)
	}
	s := Hedged{}

	// Always the next level up, regardless of its state.
	arena[2].state = StateWaitingForSellFill
	if got := s.PairedSellIndex(arena, 0, 1, nil); got != 2 {
		t.Errorf("PairedSellIndex(1) = %d, want 2", got)
	}
	// Nothing above the top level.
	if got := s.PairedSellIndex(arena, 0, 3, nil); got != -1 {
		t.Errorf("PairedSellIndex(top) = %d, want -1", got)
	}
}

func TestSimplePairedSellIndexSkipsIneligible(t *testing.T) {
	const central = 102.5
	arena := make([]*Level, 5)
	for i := range arena {
		price := float64(100 + i)
		arena[i] = newLevel(price, Simple{}.InitialState(i, 5, price, central), i)
	}
	s := Simple{}
	eligible := func(l *Level) bool { return s.CanPlace(l.state, domain.OrderSideSell) }

	// 103 and 104 are the sell subset; both ready, the lower one wins.
	if got := s.PairedSellIndex(arena, central, 0, eligible); got != 3 {
		t.Errorf("PairedSellIndex = %d, want 3", got)
	}

	// The first candidate is waiting; pairing falls through to the next.
	arena[3].state = StateWaitingForSellFill
	if got := s.PairedSellIndex(arena, central, 0, eligible); got != 4 {
		t.Errorf("PairedSellIndex = %d, want 4", got)
	}

	// A fill on the top level has no sell level above it.
	arena[3].state = StateReadyToSell
	if got := s.PairedSellIndex(arena, central, 4, eligible); got != -1 {
		t.Errorf("PairedSellIndex(top) = %d, want -1", got)
	}
}
