package schema

import "strings"

// Side is the canonical direction of an open position.
type Side string

const (
	// SideLong marks a long position. Raw "buy" maps here.
	SideLong Side = "long"
	// SideShort marks a short position. Raw "sell" maps here.
	SideShort Side = "short"
)

// Candidate raw field names per canonical attribute, highest priority first.
var (
	positionSymbolFields     = []string{"symbol", "instId"}
	positionSideFields       = []string{"side"}
	positionSizeFields       = []string{"contracts", "size", "amount"}
	positionEntryPriceFields = []string{"entryPrice", "avgPrice"}
	positionMarkPriceFields  = []string{"markPrice"}
	positionPnlFields        = []string{"unrealizedPnl", "upl"}
	positionPercentFields    = []string{"percentage"}
)

// Position is the canonical open position.
type Position struct {
	Symbol        string   `json:"symbol"`
	Side          Side     `json:"side"`
	Size          string   `json:"size"`
	EntryPrice    string   `json:"entryPrice"`
	MarkPrice     string   `json:"markPrice"`
	UnrealizedPnl string   `json:"unrealizedPnl"`
	Percentage    *float64 `json:"percentage,omitempty"`
}

// NormalizePosition maps a raw position record onto a Position. Missing
// numeric fields default to zero, an unknown side maps to "" and an
// unparseable percentage is dropped.
func NormalizePosition(raw Record) Position {
	p := Position{
		Symbol:        raw.Text(positionSymbolFields, ""),
		Side:          normalizeSide(raw.Text(positionSideFields, "")),
		Size:          raw.Text(positionSizeFields, "0"),
		EntryPrice:    FormatFixed(raw.Text(positionEntryPriceFields, "0"), 4),
		MarkPrice:     FormatFixed(raw.Text(positionMarkPriceFields, "0"), 4),
		UnrealizedPnl: raw.Text(positionPnlFields, "0"),
	}
	if pct, ok := raw.Number(positionPercentFields...); ok {
		p.Percentage = &pct
	}
	return p
}

// NormalizePositions maps every record, skipping nil entries.
func NormalizePositions(raw []Record) []Position {
	out := make([]Position, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		out = append(out, NormalizePosition(r))
	}
	return out
}

// Record renders the canonical position back into raw form. Normalizing the
// result yields p again.
func (p Position) Record() Record {
	r := Record{
		"symbol":        p.Symbol,
		"side":          string(p.Side),
		"size":          p.Size,
		"entryPrice":    p.EntryPrice,
		"markPrice":     p.MarkPrice,
		"unrealizedPnl": p.UnrealizedPnl,
	}
	if p.Percentage != nil {
		r["percentage"] = *p.Percentage
	}
	return r
}

func normalizeSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideLong
	case "sell", "short":
		return SideShort
	default:
		return ""
	}
}
