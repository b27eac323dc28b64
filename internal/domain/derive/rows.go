package derive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coachpo/stratdeck/internal/domain/schema"
)

// StrategyRow is the rendered main row of one strategy plus its breakdown.
type StrategyRow struct {
	ID        string         `json:"id"`
	ShortID   string         `json:"shortId"`
	Type      string         `json:"type"`
	Symbol    string         `json:"symbol"`
	Side      string         `json:"side"`
	Bullish   bool           `json:"bullish"`
	Size      string         `json:"size"`
	Trigger   string         `json:"trigger"`
	Current   string         `json:"current"`
	Distance  string         `json:"distance"`
	Status    string         `json:"status"`
	Running   bool           `json:"running"`
	Complex   bool           `json:"complex"`
	Breakdown []TriggerGroup `json:"breakdown,omitempty"`
}

// BuildStrategyRow derives the display row for s using the latest tickers.
// A strategy reporting triggers switches to the grouped breakdown; otherwise
// its stop or target price is compared against the ticker price.
func BuildStrategyRow(s schema.Strategy, tickers schema.Tickers) StrategyRow {
	row := StrategyRow{
		ID:       s.ID,
		ShortID:  truncate(s.ID, 8),
		Type:     StrategyLabel(s.Config),
		Symbol:   s.Config.Symbol,
		Side:     Placeholder,
		Size:     s.Config.Size,
		Trigger:  Placeholder,
		Current:  Placeholder,
		Distance: Placeholder,
		Status:   "Stopped",
		Running:  s.Running,
	}
	if side := strings.TrimSpace(s.Config.Side); side != "" {
		row.Side = strings.ToUpper(side)
		row.Bullish = side == "buy" || side == "long"
	}
	if s.Running {
		row.Status = "Running"
	}

	if triggers := s.Status.Triggers; len(triggers) > 0 {
		row.Complex = true
		row.Trigger = fmt.Sprintf("%d Actions (%d Conditions)", CountActions(triggers), len(triggers))
		row.Current = "See Details"
		row.Breakdown = GroupTriggers(triggers)
		return row
	}

	trigger := s.Config.StopPrice
	if trigger == nil {
		trigger = s.Config.TargetPrice
	}
	if !usable(trigger) {
		return row
	}
	row.Trigger = schema.FormatFloat(*trigger, 4)
	if price, ok := tickers.Price(s.Config.Symbol); ok {
		row.Current = schema.FormatFloat(price, 4)
		row.Distance = PriceDistance(&price, trigger)
	}
	return row
}

// BuildStrategyRows derives rows for every strategy, preserving order.
func BuildStrategyRows(strategies []schema.Strategy, tickers schema.Tickers) []StrategyRow {
	rows := make([]StrategyRow, 0, len(strategies))
	for _, s := range strategies {
		rows = append(rows, BuildStrategyRow(s, tickers))
	}
	return rows
}

// PositionRow is the rendered row of one open position.
type PositionRow struct {
	schema.Position
	PnL      string                       `json:"pnl"`
	Positive bool                         `json:"positive"`
	Seeds    map[string]map[string]string `json:"seeds"`
}

// BuildPositionRow derives the PnL cell and quick-action seeds for p.
func BuildPositionRow(p schema.Position) PositionRow {
	return PositionRow{
		Position: p,
		PnL:      PnLDisplay(p),
		Positive: PnLPositive(p),
		Seeds:    ActionSeeds(p),
	}
}

// BuildPositionRows derives rows for every position, preserving order.
func BuildPositionRows(positions []schema.Position) []PositionRow {
	rows := make([]PositionRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, BuildPositionRow(p))
	}
	return rows
}

// PnLDisplay prefers the percentage with two decimals and falls back to the
// unrealized PnL with four.
func PnLDisplay(p schema.Position) string {
	if p.Percentage != nil {
		return schema.FormatFloat(*p.Percentage, 2) + "%"
	}
	return schema.FormatFixed(p.UnrealizedPnl, 4)
}

// PnLPositive reports whether the unrealized PnL is non-negative.
func PnLPositive(p schema.Position) bool {
	pnl, err := strconv.ParseFloat(strings.TrimSpace(p.UnrealizedPnl), 64)
	if err != nil {
		return true
	}
	return pnl >= 0
}

// ActionSeeds returns the prefilled quick-action fields for a position keyed
// by action kind.
func ActionSeeds(p schema.Position) map[string]map[string]string {
	base := func(withEntry bool) map[string]string {
		seed := map[string]string{
			"symbol":       p.Symbol,
			"positionSide": string(p.Side),
			"size":         p.Size,
		}
		if withEntry {
			seed["entryPrice"] = p.EntryPrice
		}
		return seed
	}
	return map[string]map[string]string{
		"sl":    base(true),
		"tp":    base(true),
		"ts":    base(true),
		"close": base(false),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
