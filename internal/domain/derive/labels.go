package derive

import "github.com/coachpo/stratdeck/internal/domain/schema"

const fallbackLabel = "Maker Strategy"

// intentLabels is evaluated in order; the first matching intent wins.
var intentLabels = []struct {
	intent string
	label  string
}{
	{"stop-loss", "Stop Loss"},
	{"take-profit", "Take Profit"},
	{"trailing-stop", "Trailing Stop"},
	{"enter", "Entry (Maker)"},
	{"exit-maker", "Exit (Maker)"},
	{"sl-exit-maker", "SL Exit"},
	{"tp-exit-maker", "TP Exit"},
	{"ts-exit-maker", "TS Exit"},
	{"exit-maker-position", "Manual Exit"},
}

// StrategyLabel classifies a strategy configuration into a display label.
func StrategyLabel(cfg schema.StrategyConfig) string {
	if cfg.Type == "active-strategy" {
		return "Active Strategy (" + cfg.StrategyName + ")"
	}
	for _, entry := range intentLabels {
		if cfg.Intent == entry.intent {
			return entry.label
		}
	}
	return fallbackLabel
}
