// Package validation adjusts requested order quantities against available
// balances before they reach the exchange.
package validation

import (
	"fmt"

	"gridbot/internal/domain"
)

// tolerance shaves a sliver off downscaled quantities so float rounding
// cannot push the order cost a hair above the available balance.
const tolerance = 1e-6

// Validator adjusts order quantities to what the current balances can fund.
// It is pure and stateless; callers pass the balances they want validated
// against.
type Validator struct{}

// New returns a Validator.
func New() *Validator { return &Validator{} }

// AdjustBuy returns a buy quantity whose cost fits within balance, scaling
// the request down when needed. It fails when even the scaled quantity is
// non-positive.
func (v *Validator) AdjustBuy(balance, qty, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("validation: price %v: %w", price, domain.ErrInvalidQuantity)
	}
	if qty*price > balance {
		qty = balance / price * (1 - tolerance)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("validation: buy of %v at %v unaffordable: %w", qty, price, domain.ErrInsufficientFunds)
	}
	return qty, nil
}

// AdjustSell caps a sell quantity at the available crypto balance. It fails
// when the capped quantity is non-positive.
func (v *Validator) AdjustSell(cryptoBalance, qty float64) (float64, error) {
	if qty > cryptoBalance {
		qty = cryptoBalance * (1 - tolerance)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("validation: sell of %v uncovered: %w", qty, domain.ErrInsufficientCrypto)
	}
	return qty, nil
}
