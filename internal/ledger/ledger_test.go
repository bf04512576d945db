package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/domain"
)

const feeRate = 0.001

func newTestLedger(fiat, crypto float64) *Ledger {
	return New(fiat, crypto, feeRate, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestReserveAndRelease(t *testing.T) {
	l := newTestLedger(1000, 2)

	require.NoError(t, l.ReserveBuy(400))
	assert.Equal(t, 600.0, l.FiatBalance())

	require.NoError(t, l.ReserveSell(0.5))
	assert.Equal(t, 1.5, l.CryptoBalance())

	st := l.State()
	assert.Equal(t, 400.0, st.ReservedFiat)
	assert.Equal(t, 0.5, st.ReservedCrypto)

	l.ReleaseBuy(400)
	l.ReleaseSell(0.5)
	assert.Equal(t, 1000.0, l.FiatBalance())
	assert.Equal(t, 2.0, l.CryptoBalance())
}

func TestReserveShortfall(t *testing.T) {
	l := newTestLedger(100, 1)

	err := l.ReserveBuy(101)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 100.0, l.FiatBalance(), "failed reservation must not move funds")

	err = l.ReserveSell(1.5)
	require.ErrorIs(t, err, domain.ErrInsufficientCrypto)
	assert.Equal(t, 1.0, l.CryptoBalance())
}

func TestReleaseClampsAtReserved(t *testing.T) {
	l := newTestLedger(1000, 1)
	require.NoError(t, l.ReserveBuy(200))

	// Releasing more than is reserved returns only what was reserved.
	l.ReleaseBuy(500)
	assert.Equal(t, 1000.0, l.FiatBalance())
	assert.Equal(t, 0.0, l.State().ReservedFiat)
}

func TestBuyFillSettlesAgainstReservation(t *testing.T) {
	l := newTestLedger(1000, 0)
	require.NoError(t, l.ReserveBuy(500))

	err := l.OnOrderFilled(context.Background(), &domain.Order{
		ID:     "b1",
		Side:   domain.OrderSideBuy,
		Price:  100,
		Filled: 5,
	})
	require.NoError(t, err)

	st := l.State()
	assert.Equal(t, 0.0, st.ReservedFiat)
	assert.Equal(t, 5.0, st.Crypto)
	// Fee comes out of the free balance: 500 cost * 0.1%.
	assert.InDelta(t, 500-0.5, st.Fiat, 1e-9)
	assert.InDelta(t, 0.5, st.FeesPaid, 1e-9)
}

func TestMarketBuyFillDrawsFromFreeBalance(t *testing.T) {
	l := newTestLedger(1000, 0)

	// Nothing reserved: the whole cost comes out of the free balance.
	err := l.OnOrderFilled(context.Background(), &domain.Order{
		ID:      "mkt",
		Side:    domain.OrderSideBuy,
		Price:   100,
		Average: 101,
		Filled:  5,
	})
	require.NoError(t, err)

	st := l.State()
	assert.Equal(t, 5.0, st.Crypto)
	// Settles at the average price, not the reference price.
	assert.InDelta(t, 1000-505-0.505, st.Fiat, 1e-9)
}

func TestSellFillCreditsProceeds(t *testing.T) {
	l := newTestLedger(0, 5)
	require.NoError(t, l.ReserveSell(5))

	err := l.OnOrderFilled(context.Background(), &domain.Order{
		ID:     "s1",
		Side:   domain.OrderSideSell,
		Price:  100,
		Filled: 5,
	})
	require.NoError(t, err)

	st := l.State()
	assert.Equal(t, 0.0, st.ReservedCrypto)
	assert.Equal(t, 0.0, st.Crypto)
	assert.InDelta(t, 500-0.5, st.Fiat, 1e-9)
}

func TestTotalValueCountsReserved(t *testing.T) {
	l := newTestLedger(1000, 2)
	require.NoError(t, l.ReserveBuy(300))
	require.NoError(t, l.ReserveSell(1))

	// Reservations move funds between buckets, not out of the portfolio.
	assert.Equal(t, 1000+2*50.0, l.TotalValue(50))
}

func TestSettleInitialPurchase(t *testing.T) {
	l := newTestLedger(1000, 0)

	l.SettleInitialPurchase(&domain.Order{
		Side:    domain.OrderSideBuy,
		Price:   100,
		Average: 100,
		Amount:  4,
	})

	st := l.State()
	assert.Equal(t, 4.0, st.Crypto)
	assert.InDelta(t, 1000-400-0.4, st.Fiat, 1e-9)
	assert.InDelta(t, 0.4, st.FeesPaid, 1e-9)
}

func TestSetBalancesKeepsReservations(t *testing.T) {
	l := newTestLedger(1000, 1)
	require.NoError(t, l.ReserveBuy(200))

	l.SetBalances(5000, 3)

	st := l.State()
	assert.Equal(t, 5000.0, st.Fiat)
	assert.Equal(t, 3.0, st.Crypto)
	assert.Equal(t, 200.0, st.ReservedFiat)
}
