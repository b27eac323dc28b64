// Package derive computes display metrics from canonical entities: trigger
// distances, strategy labels, trigger breakdowns and PnL cells.
package derive

import (
	"math"

	"github.com/shopspring/decimal"
)

// Placeholder is rendered for any metric that cannot be computed.
const Placeholder = "-"

// PriceDistance returns |current - trigger| / current * 100 with two decimals
// and a trailing '%'. It returns Placeholder when either price is missing or
// zero.
func PriceDistance(current, trigger *float64) string {
	if !usable(current) || !usable(trigger) {
		return Placeholder
	}
	c := decimal.NewFromFloat(*current)
	t := decimal.NewFromFloat(*trigger)
	pct := c.Sub(t).Div(c).Mul(decimal.NewFromInt(100)).Abs()
	return pct.StringFixed(2) + "%"
}

// TriggerDistance returns |current - target| in the trigger's own unit with
// two decimals. It is an absolute gap, not a percentage.
func TriggerDistance(current, target *float64) string {
	if current == nil || target == nil {
		return Placeholder
	}
	gap := decimal.NewFromFloat(*current).Sub(decimal.NewFromFloat(*target)).Abs()
	return gap.StringFixed(2)
}

func usable(v *float64) bool {
	return v != nil && *v != 0 && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
