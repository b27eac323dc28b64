package library

import (
	"context"
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
)

// NoPineScript is shown when an analysis returns no script.
const NoPineScript = "// No PineScript"

// Evaluation defaults.
const (
	DefaultTimeframe = "1m"
	DefaultLookback  = 5
)

// Analysis is the AI analysis of a natural-language or script input.
type Analysis struct {
	Result     json.RawMessage `json:"result"`
	PineScript string          `json:"pinescript"`
}

// Analyze submits free-form input to the multi-indicator analyzer.
func (s *Service) Analyze(ctx context.Context, input string) (Analysis, error) {
	if strings.TrimSpace(input) == "" {
		return Analysis{}, errs.Validation("library/analyze", "Please enter text")
	}
	res := s.client.Post(ctx, "/ai/analyze-multi", map[string]string{"input": input})
	if err := res.AsError("library/analyze"); err != nil {
		return Analysis{}, err
	}
	var reply struct {
		PineScript string `json:"pinescript"`
	}
	if err := res.Decode(&reply); err != nil {
		return Analysis{}, err
	}
	script := reply.PineScript
	if script == "" {
		script = NoPineScript
	}
	return Analysis{Result: append(json.RawMessage(nil), res.Body...), PineScript: script}, nil
}

// EvaluateRequest describes one evaluation run.
type EvaluateRequest struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Strategy  json.RawMessage `json:"strategy"`
	Lookback  int             `json:"lookback"`
	EndTime   *int64          `json:"endTime,omitempty"`
}

// SeriesPoint is one bar of a series evaluation.
type SeriesPoint struct {
	Timestamp any            `json:"timestamp"`
	Signals   map[string]any `json:"signals,omitempty"`
	Plots     map[string]any `json:"plots,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// SingleResult is a point-in-time evaluation.
type SingleResult struct {
	Result  bool           `json:"result"`
	Logic   string         `json:"logic"`
	Context map[string]any `json:"context,omitempty"`
}

// Evaluation is either a series or a single result.
type Evaluation struct {
	Series []SeriesPoint `json:"series,omitempty"`
	Single *SingleResult `json:"single,omitempty"`
}

// IsSeries reports whether the backend answered with per-bar results.
func (e Evaluation) IsSeries() bool { return e.Single == nil }

// Evaluate runs an analyzed strategy against recent bars.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (Evaluation, error) {
	if len(req.Strategy) == 0 || string(req.Strategy) == "null" {
		return Evaluation{}, errs.Validation("library/evaluate", "No strategy to run")
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		req.Symbol = s.defaults().Symbol
	}
	if strings.TrimSpace(req.Timeframe) == "" {
		req.Timeframe = DefaultTimeframe
	}
	if req.Lookback <= 0 {
		req.Lookback = DefaultLookback
	}

	res := s.client.Post(ctx, "/ai/evaluate-multi-strategy", req)
	if err := res.AsError("library/evaluate"); err != nil {
		return Evaluation{}, err
	}
	var reply struct {
		Results []SeriesPoint  `json:"results"`
		Result  bool           `json:"result"`
		Logic   string         `json:"logic"`
		Context map[string]any `json:"context"`
	}
	if err := res.Decode(&reply); err != nil {
		return Evaluation{}, err
	}
	if reply.Results != nil {
		return Evaluation{Series: reply.Results}, nil
	}
	return Evaluation{Single: &SingleResult{Result: reply.Result, Logic: reply.Logic, Context: reply.Context}}, nil
}

// Timestamps lists the available bar timestamps, newest first.
func (s *Service) Timestamps(ctx context.Context, symbol, timeframe string) ([]int64, error) {
	if strings.TrimSpace(symbol) == "" {
		symbol = s.defaults().Symbol
	}
	if strings.TrimSpace(timeframe) == "" {
		timeframe = DefaultTimeframe
	}
	query := url.Values{"symbol": {symbol}, "timeframe": {timeframe}}
	res := s.client.Get(ctx, "/indicators/timestamps?"+query.Encode())
	if err := res.AsError("library/timestamps"); err != nil {
		return nil, err
	}
	var reply struct {
		Timestamps []json.Number `json:"timestamps"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(reply.Timestamps))
	for _, n := range reply.Timestamps {
		if v, err := n.Int64(); err == nil {
			out = append(out, v)
		} else if f, err := n.Float64(); err == nil {
			out = append(out, int64(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}
