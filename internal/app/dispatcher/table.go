package dispatcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coachpo/stratdeck/errs"
)

// Kind identifies a quick action.
type Kind string

// Supported quick actions.
const (
	KindClose        Kind = "close"
	KindStopLoss     Kind = "sl"
	KindTakeProfit   Kind = "tp"
	KindTrailingStop Kind = "ts"
	KindEnterBuy     Kind = "enter-buy"
	KindEnterSell    Kind = "enter-sell"
)

// Params carries operator-supplied quick-action fields. The percentage of
// sl/tp/ts may be given as "percentage" or under its kind-specific name.
type Params map[string]string

const percentageParam = "percentage"

// Entry orders are always posted passively with fixed execution settings.
const (
	enterSpread   = 0.0005
	enterInterval = 1000
)

// Route binds a quick action to its backend endpoint and payload shape.
type Route struct {
	Kind     Kind
	Title    string
	Endpoint string
	// Required lists payload fields that must be non-empty before sending.
	Required []string
	// PercentField is the payload name of the percentage, if any.
	PercentField string
	// Side is fixed for entry kinds and not taken from Params.
	Side string
}

var routes = map[Kind]Route{
	KindClose: {
		Kind: KindClose, Title: "Close Position", Endpoint: "/close-position-maker",
		Required: []string{"symbol", "positionSide", "size"},
	},
	KindStopLoss: {
		Kind: KindStopLoss, Title: "Set Stop Loss", Endpoint: "/stop-loss/set",
		Required:     []string{"symbol", "positionSide", "size", "entryPrice", "stopPercentage"},
		PercentField: "stopPercentage",
	},
	KindTakeProfit: {
		Kind: KindTakeProfit, Title: "Set Take Profit", Endpoint: "/take-profit/set",
		Required:     []string{"symbol", "positionSide", "size", "entryPrice", "profitPercentage"},
		PercentField: "profitPercentage",
	},
	KindTrailingStop: {
		Kind: KindTrailingStop, Title: "Set Trailing Stop", Endpoint: "/trailing-stop/set",
		Required:     []string{"symbol", "positionSide", "size", "entryPrice", "trailingPercentage"},
		PercentField: "trailingPercentage",
	},
	KindEnterBuy: {
		Kind: KindEnterBuy, Title: "Enter Buy (Maker)", Endpoint: "/enter",
		Required: []string{"symbol", "size"}, Side: "buy",
	},
	KindEnterSell: {
		Kind: KindEnterSell, Title: "Enter Sell (Maker)", Endpoint: "/enter",
		Required: []string{"symbol", "size"}, Side: "sell",
	},
}

// Lookup returns the route registered for kind.
func Lookup(kind Kind) (Route, bool) {
	r, ok := routes[Kind(strings.ToLower(strings.TrimSpace(string(kind))))]
	return r, ok
}

// Kinds returns every supported kind in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(routes))
	for k := range routes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Request is a validated quick action ready to send.
type Request struct {
	Kind     Kind           `json:"kind"`
	Endpoint string         `json:"endpoint"`
	Payload  map[string]any `json:"payload"`
}

// Build validates params against the route for kind and assembles the
// backend payload. No request is made.
func Build(kind Kind, params Params) (Request, error) {
	route, ok := Lookup(kind)
	if !ok {
		return Request{}, errs.New("dispatcher/build", errs.CodeValidation,
			errs.WithMessage(fmt.Sprintf("unknown quick action %q", kind)))
	}

	fields := make(map[string]string, len(params)+1)
	for k, v := range params {
		fields[k] = strings.TrimSpace(v)
	}
	if route.PercentField != "" && fields[route.PercentField] == "" {
		fields[route.PercentField] = fields[percentageParam]
	}

	var missing []string
	for _, name := range route.Required {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Request{}, errs.New("dispatcher/build", errs.CodeValidation,
			errs.WithMessage("missing required fields: "+strings.Join(missing, ", ")),
			errs.WithField("kind", string(route.Kind)))
	}

	payload := make(map[string]any, len(route.Required)+4)
	if route.Side != "" {
		payload["symbol"] = fields["symbol"]
		payload["side"] = route.Side
		payload["size"] = fields["size"]
		payload["spread"] = enterSpread
		payload["reduceOnly"] = false
		payload["interval"] = enterInterval
	} else {
		for _, name := range route.Required {
			payload[name] = fields[name]
		}
	}
	return Request{Kind: route.Kind, Endpoint: route.Endpoint, Payload: payload}, nil
}
