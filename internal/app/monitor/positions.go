package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/stratdeck/internal/domain/derive"
	"github.com/coachpo/stratdeck/internal/domain/schema"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/poller"
)

// PositionsSnapshot is the rendered positions panel.
type PositionsSnapshot struct {
	Rows      []derive.PositionRow `json:"rows"`
	Count     int                  `json:"count"`
	Collapsed bool                 `json:"collapsed"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt,omitempty"`
}

// PositionsView polls open positions. The first successful poll latches the
// initial collapse state: an empty first result starts collapsed.
type PositionsView struct {
	client   backend.Requester
	interval time.Duration
	metrics  *telemetry.Metrics
	clock    func() time.Time
	onChange func()

	mu        sync.Mutex
	panel     Panel[[]schema.Position]
	latched   bool
	collapsed bool
	handle    *poller.Handle
}

// NewPositionsView constructs an unstarted view.
func NewPositionsView(client backend.Requester, interval time.Duration, metrics *telemetry.Metrics, onChange func()) *PositionsView {
	return &PositionsView{
		client:   client,
		interval: interval,
		metrics:  metrics,
		clock:    time.Now,
		onChange: onChange,
		panel:    Panel[[]schema.Position]{Items: []schema.Position{}, Loading: true},
	}
}

// Start launches the poller.
func (v *PositionsView) Start(ctx context.Context) {
	h := poller.Start(ctx, v.interval,
		func(ctx context.Context) backend.Result { return v.client.Get(ctx, "/blofin/positions") },
		v.apply,
		poller.Immediate(),
	)
	v.mu.Lock()
	v.handle = h
	v.mu.Unlock()
}

// Refresh requests an out-of-band poll.
func (v *PositionsView) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle != nil {
		v.handle.Trigger()
	}
}

// Close cancels the poller and waits for it to exit.
func (v *PositionsView) Close() {
	v.mu.Lock()
	h := v.handle
	v.handle = nil
	v.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// SetCollapsed records an operator toggle. It also settles the first-load
// latch so a later first success does not override the operator.
func (v *PositionsView) SetCollapsed(collapsed bool) {
	v.mu.Lock()
	v.collapsed = collapsed
	v.latched = true
	v.mu.Unlock()
	v.changed()
}

// Snapshot returns the rendered panel.
func (v *PositionsView) Snapshot() PositionsSnapshot {
	v.mu.Lock()
	panel := v.panel
	collapsed := v.collapsed
	v.mu.Unlock()

	return PositionsSnapshot{
		Rows:      derive.BuildPositionRows(panel.Items),
		Count:     len(panel.Items),
		Collapsed: collapsed,
		Loading:   panel.Loading,
		Error:     panel.Err,
		UpdatedAt: panel.UpdatedAt,
	}
}

func (v *PositionsView) apply(res backend.Result) {
	v.mu.Lock()
	err := v.panel.apply(res, v.clock(), decodePositions)
	if err == nil && !v.latched {
		v.latched = true
		v.collapsed = len(v.panel.Items) == 0
	}
	v.mu.Unlock()
	v.metrics.RecordPoll(context.Background(), "positions", err)
	v.changed()
}

func (v *PositionsView) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

func decodePositions(res backend.Result) ([]schema.Position, error) {
	var reply struct {
		Data []schema.Record `json:"data"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	return schema.NormalizePositions(reply.Data), nil
}
