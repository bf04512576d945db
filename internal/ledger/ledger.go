// Package ledger tracks the bot's fiat and crypto balances, the amounts
// reserved against open orders, and the fees paid on fills. It is the one
// resource mutated from every order path (seeding, fill cascades, cancel
// replacements, the initial purchase, liquidation), so all state sits behind
// a single mutex.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gridbot/internal/domain"
)

// Ledger is the in-process funds ledger. Reserving moves balance into the
// reserved bucket and fails on shortfall; releasing moves it back. Fills
// settle against the reserved bucket, drawing any shortfall from the free
// balance (market buys reserve nothing before filling).
type Ledger struct {
	mu sync.Mutex

	fiat           float64
	crypto         float64
	reservedFiat   float64
	reservedCrypto float64

	feeRate  float64
	feesPaid float64

	log *slog.Logger
}

// New returns a Ledger seeded with the starting balances. feeRate is the
// venue's taker/maker fee as a fraction (0.001 = 0.1%).
func New(fiat, crypto, feeRate float64, log *slog.Logger) *Ledger {
	return &Ledger{
		fiat:    fiat,
		crypto:  crypto,
		feeRate: feeRate,
		log:     log.With(slog.String("component", "ledger")),
	}
}

// SetBalances overwrites the free balances, keeping reservations. Used when
// live balances are fetched from the venue at startup.
func (l *Ledger) SetBalances(fiat, crypto float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fiat = fiat
	l.crypto = crypto
}

// FiatBalance returns the free (unreserved) quote balance.
func (l *Ledger) FiatBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fiat
}

// CryptoBalance returns the free (unreserved) base balance.
func (l *Ledger) CryptoBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.crypto
}

// TotalValue returns the portfolio value at the given price, counting both
// free and reserved balances on both sides.
func (l *Ledger) TotalValue(price float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fiat + l.reservedFiat + (l.crypto+l.reservedCrypto)*price
}

// ReserveBuy moves amount of quote currency into the reserved bucket for an
// open buy order.
func (l *Ledger) ReserveBuy(amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.fiat {
		return fmt.Errorf("ledger: reserve %v of %v fiat: %w", amount, l.fiat, domain.ErrInsufficientFunds)
	}
	l.fiat -= amount
	l.reservedFiat += amount
	return nil
}

// ReserveSell moves qty of base currency into the reserved bucket for an
// open sell order.
func (l *Ledger) ReserveSell(qty float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty > l.crypto {
		return fmt.Errorf("ledger: reserve %v of %v crypto: %w", qty, l.crypto, domain.ErrInsufficientCrypto)
	}
	l.crypto -= qty
	l.reservedCrypto += qty
	return nil
}

// ReleaseBuy returns amount of reserved quote currency to the free balance
// after a buy order is cancelled.
func (l *Ledger) ReleaseBuy(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.reservedFiat {
		amount = l.reservedFiat
	}
	l.reservedFiat -= amount
	l.fiat += amount
}

// ReleaseSell returns qty of reserved base currency to the free balance
// after a sell order is cancelled.
func (l *Ledger) ReleaseSell(qty float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty > l.reservedCrypto {
		qty = l.reservedCrypto
	}
	l.reservedCrypto -= qty
	l.crypto += qty
}

// OnOrderFilled settles a fill against the ledger. Buy fills consume the
// fiat reserved when the order was placed (market buys reserved nothing, so
// the shortfall comes out of the free balance) and credit the filled crypto
// minus nothing; the fee accrues in quote terms. Sell fills consume reserved
// crypto and credit the proceeds net of fee. Wired as an order-filled bus
// subscriber.
func (l *Ledger) OnOrderFilled(ctx context.Context, order *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	price := order.Average
	if price == 0 {
		price = order.Price
	}
	cost := order.Filled * price
	fee := cost * l.feeRate

	switch order.Side {
	case domain.OrderSideBuy:
		settled := cost
		if settled > l.reservedFiat {
			l.fiat -= settled - l.reservedFiat
			settled = l.reservedFiat
		}
		l.reservedFiat -= settled
		l.fiat -= fee
		l.crypto += order.Filled
	case domain.OrderSideSell:
		settled := order.Filled
		if settled > l.reservedCrypto {
			l.crypto -= settled - l.reservedCrypto
			settled = l.reservedCrypto
		}
		l.reservedCrypto -= settled
		l.fiat += cost - fee
	}
	l.feesPaid += fee

	l.log.DebugContext(ctx, "fill settled",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.Float64("filled", order.Filled),
		slog.Float64("price", price),
		slog.Float64("fee", fee),
	)
	return nil
}

// SettleInitialPurchase applies a market-buy fill directly, for live and
// paper runs where the grid must seed against post-purchase balances without
// waiting for the venue's asynchronous fill event.
func (l *Ledger) SettleInitialPurchase(order *domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	price := order.Average
	if price == 0 {
		price = order.Price
	}
	cost := order.Amount * price
	fee := cost * l.feeRate
	l.fiat -= cost + fee
	l.crypto += order.Amount
	l.feesPaid += fee
}

// FeesPaid returns the cumulative fees accrued, in quote currency.
func (l *Ledger) FeesPaid() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feesPaid
}

// Snapshot is a consistent copy of the ledger for status and metrics.
type Snapshot struct {
	Fiat           float64 `json:"fiat"`
	Crypto         float64 `json:"crypto"`
	ReservedFiat   float64 `json:"reserved_fiat"`
	ReservedCrypto float64 `json:"reserved_crypto"`
	FeesPaid       float64 `json:"fees_paid"`
}

// State returns a consistent snapshot of all balances.
func (l *Ledger) State() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Fiat:           l.fiat,
		Crypto:         l.crypto,
		ReservedFiat:   l.reservedFiat,
		ReservedCrypto: l.reservedCrypto,
		FeesPaid:       l.feesPaid,
	}
}
