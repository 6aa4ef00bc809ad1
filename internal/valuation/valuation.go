// Package valuation implements the reserve/supply pricing model for
// two-sided token vaults and the per-position metric math built on it.
//
// A token side's unit price is its backing reserve divided by its total
// supply; an empty side prices at exactly 1 so a fresh vault quotes at par.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every function here is pure and total: degenerate inputs produce defined
// fallback values (0 or 1), never an error and never a NaN for callers to
// special-case.
package valuation

import (
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// UnitPrice returns reserve/supply when supply is positive, else exactly 1.
// Inputs are whole-unit amounts (already divided out of subunits).
// A negative price can only arise from a negative reserve, which the chain
// forbids; it is coerced to 0 rather than propagated.
func UnitPrice(reserve, supply decimal.Decimal) decimal.Decimal {
	if supply.LessThanOrEqual(decimal.Zero) {
		return one
	}
	price := reserve.Div(supply)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// PositionValue returns price * balance. No rounding is performed;
// rounding is a presentation concern.
func PositionValue(price, balance decimal.Decimal) decimal.Decimal {
	return price.Mul(balance)
}

// Metrics is the valuation of one side of one pool for one holder.
type Metrics struct {
	Price        decimal.Decimal `json:"price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	PnL          decimal.Decimal `json:"pnl"`
	ReturnPct    decimal.Decimal `json:"return_pct"`
}

// TokenMetrics values a held balance against the side's current unit price
// and the holder's average entry price. All arguments are whole-unit.
//
// ReturnPct is 0 whenever the balance or the entry price is zero: a
// position with no recorded cost basis has no meaningful return, and the
// guard keeps the division total.
func TokenMetrics(reserve, supply, balance, avgEntryPrice decimal.Decimal) Metrics {
	price := UnitPrice(reserve, supply)
	currentValue := PositionValue(price, balance)
	costBasis := avgEntryPrice.Mul(balance)
	pnl := currentValue.Sub(costBasis)

	returnPct := decimal.Zero
	if !balance.IsZero() && !avgEntryPrice.IsZero() && !costBasis.IsZero() {
		returnPct = pnl.Div(costBasis).Mul(hundred)
	}

	return Metrics{
		Price:        price,
		CurrentValue: currentValue,
		CostBasis:    costBasis,
		PnL:          pnl,
		ReturnPct:    returnPct,
	}
}

// SplitPercentages returns the bull/bear value split of a pool as
// percentages summing to 100. A pool with zero total value splits 50/50.
func SplitPercentages(bullValue, bearValue decimal.Decimal) (bull, bear decimal.Decimal) {
	total := bullValue.Add(bearValue)
	if total.LessThanOrEqual(decimal.Zero) {
		half := decimal.NewFromInt(50)
		return half, half
	}
	bull = bullValue.Div(total).Mul(hundred)
	return bull, hundred.Sub(bull)
}
