package library

// Template is a canned editor input.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Input string `json:"input"`
}

var templates = []Template{
	{
		ID:    "simple",
		Title: "Simple RSI",
		Input: "Buy when RSI(14) < 30. Sell when RSI(14) > 70.",
	},
	{
		ID:    "pine",
		Title: "PineScript",
		Input: `//@version=5
strategy("My Strategy", overlay=true)
rsiVal = ta.rsi(close, 14)
longCondition = ta.crossover(rsiVal, 30)
if (longCondition)
    strategy.entry("Long", strategy.long)
shortCondition = ta.crossunder(rsiVal, 70)
if (shortCondition)
    strategy.close("Long")`,
	},
	{
		ID:    "complex",
		Title: "Complex",
		Input: "INDICATORS: RSI(14), EMA(200)\nBUY: RSI < 30 AND Price > EMA(200)\nSELL: RSI > 70",
	},
	{
		ID:    "vague",
		Title: "Generate",
		Input: "Devise a profitable trend-following strategy for this symbol. I want to catch big moves but avoid chop.",
	},
}

// Templates returns the built-in templates in display order.
func Templates() []Template {
	return append([]Template(nil), templates...)
}

// LookupTemplate finds a template by id.
func LookupTemplate(id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
