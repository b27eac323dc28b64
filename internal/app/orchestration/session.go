package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/observability"
	"github.com/coachpo/stratdeck/internal/poller"
)

// Synthetic log lines added around backend-reported logs. Logs are kept in
// chronological order: the start line first, the stop line last.
const (
	LogStarting = "Starting strategy..."
	LogStopped  = "Stopped strategy."
)

// DefaultStatusInterval is the status poll period of a running session.
const DefaultStatusInterval = 2 * time.Second

// LiveConfig holds the deployment parameters of a session.
type LiveConfig struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Size      string `json:"size"`
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	State         State           `json:"state"`
	SessionID     string          `json:"sessionId,omitempty"`
	Code          string          `json:"code"`
	Analysis      *Analysis       `json:"analysis,omitempty"`
	Config        LiveConfig      `json:"config"`
	Logs          []string        `json:"logs"`
	Status        json.RawMessage `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
	LastPollError string          `json:"lastPollError,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Session is the live deployment state machine. At most one session runs at
// a time per Session value.
type Session struct {
	client   backend.Requester
	interval time.Duration
	defaults func() config.Defaults
	metrics  *telemetry.Metrics
	clock    func() time.Time
	onChange func(Snapshot)
	base     context.Context

	mu    sync.Mutex
	snap  Snapshot
	poll  *poller.Handle
	epoch uint64
}

// Option configures a Session.
type Option func(*Session)

// WithStatusInterval overrides the status poll period.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDefaults supplies defaults for blank LiveConfig fields.
func WithDefaults(source func() config.Defaults) Option {
	return func(s *Session) {
		if source != nil {
			s.defaults = source
		}
	}
}

// WithMetrics records transitions.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithOnChange registers a hook receiving every new snapshot.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithContext bounds the status poller's lifetime.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// NewSession constructs an idle session.
func NewSession(client backend.Requester, opts ...Option) *Session {
	s := &Session{
		client:   client,
		interval: DefaultStatusInterval,
		defaults: config.DefaultDefaults,
		clock:    time.Now,
		base:     context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.snap = Snapshot{State: StateIdle, Logs: []string{}, UpdatedAt: s.clock()}
	return s
}

// Snapshot returns a copy of the current session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Analyze submits code for inference. It is legal from Idle and Analyzed.
// On failure the session enters Error and keeps code for a retry.
func (s *Session) Analyze(ctx context.Context, code string) (Analysis, error) {
	if strings.TrimSpace(code) == "" {
		return Analysis{}, errs.Validation("orchestration/analyze", "script code is required")
	}
	s.mu.Lock()
	if err := s.transitionLocked(ctx, evAnalyze); err != nil {
		s.mu.Unlock()
		return Analysis{}, err
	}
	s.snap.Code = code
	s.snap.Analysis = nil
	s.snap.Error = ""
	s.mu.Unlock()
	s.notify()

	analysis, err := infer(ctx, s.client, "orchestration/analyze", code)

	s.mu.Lock()
	if err != nil {
		s.snap.Error = errs.Message(err)
		_ = s.transitionLocked(ctx, evFail)
	} else {
		s.snap.Analysis = &analysis
		_ = s.transitionLocked(ctx, evAnalyzed)
	}
	s.mu.Unlock()
	s.notify()
	return analysis, err
}

// Start deploys the analyzed script. It is rejected without a backend call
// unless the session is Analyzed. Blank config fields take the defaults.
func (s *Session) Start(ctx context.Context, cfg LiveConfig) error {
	defaults := s.defaults()
	cfg.Symbol = firstNonBlank(cfg.Symbol, defaults.Symbol)
	cfg.Timeframe = firstNonBlank(cfg.Timeframe, defaults.Timeframe)
	cfg.Size = firstNonBlank(cfg.Size, defaults.LiveSize)

	s.mu.Lock()
	if s.snap.State != StateAnalyzed {
		state := s.snap.State
		s.mu.Unlock()
		return errs.New("orchestration/start", errs.CodeConflict,
			errs.WithMessage("strategy must be analyzed before it can start"),
			errs.WithField("state", string(state)))
	}
	_ = s.transitionLocked(ctx, evStart)
	s.snap.Config = cfg
	s.snap.Error = ""
	code := s.snap.Code
	s.mu.Unlock()
	s.notify()

	res := s.client.Post(ctx, "/pinescript/start", map[string]string{
		"code":      code,
		"symbol":    cfg.Symbol,
		"timeframe": cfg.Timeframe,
		"size":      cfg.Size,
	})
	err := res.AsError("orchestration/start")

	s.mu.Lock()
	if err != nil {
		s.snap.Error = errs.Message(err)
		_ = s.transitionLocked(ctx, evFail)
		s.mu.Unlock()
		s.notify()
		return err
	}
	_ = s.transitionLocked(ctx, evStarted)
	s.snap.SessionID = uuid.NewString()
	s.snap.Logs = []string{LogStarting}
	s.snap.Status = nil
	s.snap.LastPollError = ""
	s.startPollLocked()
	s.mu.Unlock()
	s.notify()

	observability.Log().Info("orchestration started",
		observability.F("symbol", cfg.Symbol),
		observability.F("timeframe", cfg.Timeframe),
	)
	return nil
}

// Stop asks the backend to stop the running session. On success the session
// returns to Idle and status polling ends; on failure it stays Running.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if err := s.transitionLocked(ctx, evStop); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.notify()

	res := s.client.Post(ctx, "/pinescript/stop", struct{}{})
	err := res.AsError("orchestration/stop")

	s.mu.Lock()
	if err != nil {
		s.snap.Error = errs.Message(err)
		_ = s.transitionLocked(ctx, evStopFailed)
		s.mu.Unlock()
		s.notify()
		return err
	}
	_ = s.transitionLocked(ctx, evStopped)
	s.stopPollLocked()
	s.snap.Logs = append(s.snap.Logs, LogStopped)
	s.snap.Analysis = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Acknowledge clears an Error and returns the session to Idle. The last
// submitted code is kept.
func (s *Session) Acknowledge(ctx context.Context) error {
	s.mu.Lock()
	if err := s.transitionLocked(ctx, evAcknowledge); err != nil {
		s.mu.Unlock()
		return err
	}
	s.snap.Error = ""
	s.snap.Analysis = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close stops status polling without contacting the backend.
func (s *Session) Close() {
	s.mu.Lock()
	handle := s.poll
	s.poll = nil
	s.mu.Unlock()
	if handle != nil {
		handle.Stop()
	}
}

type statusReply struct {
	Running bool     `json:"running"`
	Logs    []string `json:"logs"`
}

func (s *Session) startPollLocked() {
	s.stopPollLocked()
	s.epoch++
	epoch := s.epoch
	s.poll = poller.Start(s.base, s.interval,
		func(ctx context.Context) backend.Result {
			return s.client.Get(ctx, "/pinescript/status")
		},
		func(res backend.Result) { s.applyStatus(epoch, res) },
	)
}

// stopPollLocked cancels without waiting; it may run inside the poll callback.
func (s *Session) stopPollLocked() {
	if s.poll != nil {
		s.poll.Cancel()
		s.poll = nil
	}
}

func (s *Session) applyStatus(epoch uint64, res backend.Result) {
	ctx := s.base
	s.metrics.RecordPoll(ctx, "orchestration", res.AsError("orchestration/status"))

	s.mu.Lock()
	if epoch != s.epoch || s.snap.State != StateRunning {
		s.mu.Unlock()
		return
	}

	var reply statusReply
	switch {
	case !res.OK() && res.Code == errs.CodeBackend:
		s.snap.Error = res.Err
		_ = s.transitionLocked(ctx, evFail)
		s.stopPollLocked()
	case !res.OK():
		s.snap.LastPollError = res.Err
	case res.Decode(&reply) != nil:
		s.snap.LastPollError = "malformed status response"
	case !reply.Running:
		_ = s.transitionLocked(ctx, evFinished)
		s.stopPollLocked()
		s.snap.Analysis = nil
	default:
		logs := reply.Logs
		if logs == nil {
			logs = []string{}
		}
		s.snap.Logs = logs
		s.snap.Status = append(json.RawMessage(nil), res.Body...)
		s.snap.LastPollError = ""
		s.snap.UpdatedAt = s.clock()
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) transitionLocked(ctx context.Context, ev event) error {
	from := s.snap.State
	to, ok := next(from, ev)
	if !ok {
		return errs.New("orchestration/"+string(ev), errs.CodeConflict,
			errs.WithMessage(string(ev)+" is not allowed while "+string(from)),
			errs.WithField("state", string(from)))
	}
	s.snap.State = to
	s.snap.UpdatedAt = s.clock()
	s.metrics.RecordTransition(ctx, string(from), string(to))
	observability.Log().Debug("orchestration transition",
		observability.F("from", string(from)),
		observability.F("to", string(to)),
	)
	if to == StateIdle {
		s.snap.SessionID = ""
	}
	return nil
}

func (s *Session) copyLocked() Snapshot {
	out := s.snap
	out.Logs = append([]string{}, s.snap.Logs...)
	if s.snap.Status != nil {
		out.Status = append(json.RawMessage(nil), s.snap.Status...)
	}
	if s.snap.Analysis != nil {
		a := *s.snap.Analysis
		out.Analysis = &a
	}
	return out
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
