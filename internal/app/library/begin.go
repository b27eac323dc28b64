package library

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/observability"
)

// BeginRequest starts a stored strategy on the maker engine.
type BeginRequest struct {
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Size      string `json:"size"`
}

// Begin loads the latest version of a stored strategy, tags it with its
// name and starts it. It returns the backend's strategy id.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", errs.Validation("library/begin", "Please select a strategy")
	}
	defaults := s.defaults()
	symbol := firstNonBlank(req.Symbol, defaults.Symbol)
	timeframe := firstNonBlank(req.Timeframe, DefaultTimeframe)
	size := firstNonBlank(req.Size, defaults.QuickSize)

	doc, err := s.fetch(ctx, name, "")
	if err != nil {
		return "", err
	}
	var strategy map[string]any
	if err := json.Unmarshal(doc.JSON, &strategy); err != nil || strategy == nil {
		return "", errs.New("library/begin", errs.CodeBackend,
			errs.WithMessage("stored strategy has no analyzed definition"),
			errs.WithField("name", name))
	}
	strategy["name"] = name

	res := s.client.Post(ctx, "/strategy/start", map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"size":      size,
		"strategy":  strategy,
	})
	if err := res.AsError("library/begin"); err != nil {
		return "", err
	}
	var reply struct {
		Status string `json:"status"`
		ID     any    `json:"id"`
	}
	if err := res.Decode(&reply); err != nil {
		return "", err
	}
	if reply.Status != "started" {
		return "", unexpectedStatus("library/begin", reply.Status)
	}
	id := versionText(reply.ID)
	observability.Log().Info("strategy begun",
		observability.F("name", name),
		observability.F("symbol", symbol),
		observability.F("id", id),
	)
	return id, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
