package schema

import "strings"

var (
	tickerSymbolFields = []string{"symbol", "instId"}
	tickerPriceFields  = []string{"last"}
)

// Tickers maps a normalized symbol to its last traded price.
type Tickers map[string]float64

// NormalizeSymbol strips a settlement suffix after ':' and replaces the first
// '/' with '-', e.g. "BTC/USDT:USDT" becomes "BTC-USDT".
func NormalizeSymbol(symbol string) string {
	if symbol == "" {
		return ""
	}
	base, _, _ := strings.Cut(symbol, ":")
	return strings.Replace(base, "/", "-", 1)
}

// NormalizeTickers builds a ticker map from raw {symbol, last} records.
// Records without a symbol or a parseable price are skipped.
func NormalizeTickers(raw []Record) Tickers {
	out := make(Tickers, len(raw))
	for _, r := range raw {
		symbol := NormalizeSymbol(r.Text(tickerSymbolFields, ""))
		if symbol == "" {
			continue
		}
		price, ok := r.Number(tickerPriceFields...)
		if !ok {
			continue
		}
		out[symbol] = price
	}
	return out
}

// Price returns the last price for symbol, trying the normalized key before
// the raw one. Non-positive prices count as unavailable.
func (t Tickers) Price(symbol string) (float64, bool) {
	for _, key := range []string{NormalizeSymbol(symbol), symbol} {
		if key == "" {
			continue
		}
		if price, ok := t[key]; ok && price > 0 {
			return price, true
		}
	}
	return 0, false
}
