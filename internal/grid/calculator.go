// Package grid owns the static price grid: level calculation, the per-level
// state machine, and the pairing relationships between buy and sell levels.
package grid

import (
	"fmt"
	"math"

	"gridbot/internal/domain"
)

// Spacing selects how grid prices are distributed between the bounds.
type Spacing string

const (
	SpacingArithmetic Spacing = "arithmetic"
	SpacingGeometric  Spacing = "geometric"
)

// Calculate turns (bottom, top, count, spacing) into the ascending price
// levels and the central (trigger) price.
//
// Arithmetic grids space levels evenly and use the midpoint of the bounds as
// the central price, which is not necessarily one of the levels. Geometric
// grids grow by the constant ratio (top/bottom)^(1/(count-1)) and take the
// central price from the generated sequence itself: the middle element when
// count is odd, the mean of the two middle elements when even.
func Calculate(bottom, top float64, count int, spacing Spacing) ([]float64, float64, error) {
	if count < 3 {
		return nil, 0, fmt.Errorf("grid: need at least 3 levels, got %d: %w", count, domain.ErrInvalidGrid)
	}
	if bottom >= top {
		return nil, 0, fmt.Errorf("grid: bottom %v must be below top %v: %w", bottom, top, domain.ErrInvalidGrid)
	}

	switch spacing {
	case SpacingArithmetic:
		prices := make([]float64, count)
		step := (top - bottom) / float64(count-1)
		for i := range prices {
			prices[i] = bottom + float64(i)*step
		}
		prices[count-1] = top // keep the top bound exact
		return prices, (top + bottom) / 2, nil

	case SpacingGeometric:
		if bottom <= 0 {
			return nil, 0, fmt.Errorf("grid: bottom must be positive for geometric spacing: %w", domain.ErrInvalidGrid)
		}
		prices := make([]float64, count)
		ratio := math.Pow(top/bottom, 1/float64(count-1))
		price := bottom
		for i := range prices {
			prices[i] = price
			price *= ratio
		}
		mid := count / 2
		central := prices[mid]
		if count%2 == 0 {
			central = (prices[mid-1] + prices[mid]) / 2
		}
		return prices, central, nil

	default:
		return nil, 0, fmt.Errorf("grid: unsupported spacing %q: %w", spacing, domain.ErrInvalidGrid)
	}
}
