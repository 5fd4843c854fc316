package exchange

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// symbolPattern is the only contract naming scheme the engine accepts.
var symbolPattern = regexp.MustCompile(`^cmt_[a-z0-9]+usdt$`)

// DefaultSizeStep is used when a contract's size increment is unknown.
const DefaultSizeStep = "0.0001"

// DefaultMaxLeverage caps leverage when the contract does not declare one.
const DefaultMaxLeverage = 500

// ValidSymbol reports whether symbol matches the cmt_*usdt scheme.
func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// StepSize returns the contract's size increment as a decimal, falling back
// to DefaultSizeStep.
func (c Contract) StepSize() decimal.Decimal {
	if step, err := decimal.NewFromString(c.SizeIncrement); err == nil && step.IsPositive() {
		return step
	}
	return decimal.RequireFromString(DefaultSizeStep)
}

// MinOrderSize returns the contract minimum as a decimal (zero when unset).
func (c Contract) MinOrderSize() decimal.Decimal {
	if min, err := decimal.NewFromString(c.MinSize); err == nil && min.IsPositive() {
		return min
	}
	return decimal.Zero
}

// TickSize derives the price tick from the contract's price_place and
// price_end_step fields: tick = endStep × 10^-pricePlace.
func (c Contract) TickSize() decimal.Decimal {
	place := c.PricePlace
	if place <= 0 {
		place = 2
	}
	endStep := c.PriceEndStep
	if endStep <= 0 {
		endStep = 1
	}
	return decimal.New(int64(endStep), int32(-place))
}

// LeverageCap returns the contract's maximum leverage, defaulting to
// DefaultMaxLeverage.
func (c Contract) LeverageCap() int {
	if c.MaxLeverage > 0 {
		return c.MaxLeverage
	}
	return DefaultMaxLeverage
}

// FloorToStep floors size down to a multiple of step. Flooring (never
// rounding up) keeps the order inside the available balance.
func FloorToStep(size float64, step decimal.Decimal) decimal.Decimal {
	d := decimal.NewFromFloat(size)
	if !step.IsPositive() {
		return d
	}
	return d.Div(step).Floor().Mul(step)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price float64, tick decimal.Decimal) decimal.Decimal {
	d := decimal.NewFromFloat(price)
	if !tick.IsPositive() {
		return d
	}
	return d.Div(tick).Round(0).Mul(tick)
}

// FormatSize floor-rounds size to the contract step and renders the wire
// string.
func (c Contract) FormatSize(size float64) string {
	return FloorToStep(size, c.StepSize()).String()
}

// FormatPrice rounds price to the contract tick and renders the wire string.
func (c Contract) FormatPrice(price float64) string {
	return RoundToTick(price, c.TickSize()).String()
}
