package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/domain/derive"
	"github.com/coachpo/stratdeck/internal/domain/schema"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/observability"
	"github.com/coachpo/stratdeck/internal/poller"
)

// Tab selects the strategy partition.
type Tab string

// Strategy tabs.
const (
	TabActive   Tab = "active"
	TabInactive Tab = "inactive"
)

// ParseTab maps raw input to a tab, defaulting to active.
func ParseTab(raw string) Tab {
	if strings.EqualFold(strings.TrimSpace(raw), string(TabInactive)) {
		return TabInactive
	}
	return TabActive
}

// StrategiesSnapshot is the joined strategies and tickers view for one tab.
type StrategiesSnapshot struct {
	Tab           Tab                  `json:"tab"`
	Rows          []derive.StrategyRow `json:"rows"`
	ActiveCount   int                  `json:"activeCount"`
	InactiveCount int                  `json:"inactiveCount"`
	Loading       bool                 `json:"loading"`
	Error         string               `json:"error,omitempty"`
	TickerError   string               `json:"tickerError,omitempty"`
	UpdatedAt     time.Time            `json:"updatedAt,omitempty"`
}

// Intervals sets the poll period of each resource.
type Intervals struct {
	Strategies time.Duration
	Tickers    time.Duration
	Positions  time.Duration
}

// StrategiesView polls the strategy list and the ticker list independently
// and joins them on read. A ticker panel lagging the strategy panel by one
// tick is tolerated.
type StrategiesView struct {
	client    backend.Requester
	intervals Intervals
	metrics   *telemetry.Metrics
	clock     func() time.Time
	onChange  func()

	mu         sync.Mutex
	strategies Panel[[]schema.Strategy]
	tickers    Panel[schema.Tickers]
	handles    []*poller.Handle
}

// NewStrategiesView constructs an unstarted view.
func NewStrategiesView(client backend.Requester, intervals Intervals, metrics *telemetry.Metrics, onChange func()) *StrategiesView {
	return &StrategiesView{
		client:     client,
		intervals:  intervals,
		metrics:    metrics,
		clock:      time.Now,
		onChange:   onChange,
		strategies: Panel[[]schema.Strategy]{Items: []schema.Strategy{}, Loading: true},
		tickers:    Panel[schema.Tickers]{Items: schema.Tickers{}, Loading: true},
	}
}

// Start launches both pollers. They run until ctx ends or Close is called.
func (v *StrategiesView) Start(ctx context.Context) {
	strategies := poller.Start(ctx, v.intervals.Strategies,
		func(ctx context.Context) backend.Result { return v.client.Get(ctx, "/maker/list") },
		v.applyStrategies,
		poller.Immediate(),
	)
	tickers := poller.Start(ctx, v.intervals.Tickers,
		func(ctx context.Context) backend.Result { return v.client.Get(ctx, "/blofin/tickers") },
		v.applyTickers,
		poller.Immediate(),
	)
	v.mu.Lock()
	v.handles = append(v.handles, strategies, tickers)
	v.mu.Unlock()
}

// Refresh requests an out-of-band strategy poll.
func (v *StrategiesView) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.handles) > 0 {
		v.handles[0].Trigger()
	}
}

// Close cancels the pollers and waits for them to exit.
func (v *StrategiesView) Close() {
	v.mu.Lock()
	handles := v.handles
	v.handles = nil
	v.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// Snapshot returns the rows of one tab plus both tab counts.
func (v *StrategiesView) Snapshot(tab Tab) StrategiesSnapshot {
	v.mu.Lock()
	strategies := v.strategies
	tickers := v.tickers
	v.mu.Unlock()

	active, inactive := schema.PartitionStrategies(strategies.Items)
	selected := active
	if tab == TabInactive {
		selected = inactive
	} else {
		tab = TabActive
	}
	return StrategiesSnapshot{
		Tab:           tab,
		Rows:          derive.BuildStrategyRows(selected, tickers.Items),
		ActiveCount:   len(active),
		InactiveCount: len(inactive),
		Loading:       strategies.Loading,
		Error:         strategies.Err,
		TickerError:   tickers.Err,
		UpdatedAt:     strategies.UpdatedAt,
	}
}

// StopStrategy asks the backend to stop one strategy and then refreshes the
// list. The stop is not retried.
func (v *StrategiesView) StopStrategy(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errs.Validation("monitor/stop-strategy", "strategy id is required")
	}
	res := v.client.Post(ctx, "/maker/stop", map[string]string{"id": id})
	if err := res.AsError("monitor/stop-strategy"); err != nil {
		return err
	}
	observability.Log().Info("strategy stopped", observability.F("id", id))
	v.Refresh()
	return nil
}

func (v *StrategiesView) applyStrategies(res backend.Result) {
	v.mu.Lock()
	err := v.strategies.apply(res, v.clock(), decodeStrategies)
	v.mu.Unlock()
	v.metrics.RecordPoll(context.Background(), "strategies", err)
	v.changed()
}

func (v *StrategiesView) applyTickers(res backend.Result) {
	v.mu.Lock()
	err := v.tickers.apply(res, v.clock(), decodeTickers)
	v.mu.Unlock()
	v.metrics.RecordPoll(context.Background(), "tickers", err)
	v.changed()
}

func (v *StrategiesView) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

func decodeStrategies(res backend.Result) ([]schema.Strategy, error) {
	var reply struct {
		Strategies []schema.Record `json:"strategies"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	return schema.NormalizeStrategies(reply.Strategies), nil
}

func decodeTickers(res backend.Result) (schema.Tickers, error) {
	var reply struct {
		Data []schema.Record `json:"data"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	return schema.NormalizeTickers(reply.Data), nil
}
