package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratdeck/internal/app/diagnostics"
	"github.com/coachpo/stratdeck/internal/app/dispatcher"
	"github.com/coachpo/stratdeck/internal/app/library"
	"github.com/coachpo/stratdeck/internal/app/monitor"
	"github.com/coachpo/stratdeck/internal/app/orchestration"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
)

type fakeBackend struct {
	mu     sync.Mutex
	routes map[string]string
	hits   map[string]int
}

func newFakeBackend(routes map[string]string) *fakeBackend {
	return &fakeBackend{routes: routes, hits: make(map[string]int)}
}

func (f *fakeBackend) serve(t *testing.T) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		f.hits[r.URL.Path]++
		reply, ok := f.routes[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, time.Second)
}

func (f *fakeBackend) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

type harness struct {
	handler  http.Handler
	backend  *fakeBackend
	defaults *config.RuntimeStore
	hub      *Hub
	applied  []config.Defaults
}

func newHarness(t *testing.T, routes map[string]string) *harness {
	t.Helper()
	fake := newFakeBackend(routes)
	client := fake.serve(t)
	store, err := config.NewRuntimeStore(config.DefaultDefaults())
	require.NoError(t, err)

	h := &harness{backend: fake, defaults: store, hub: NewHub(8)}
	t.Cleanup(h.hub.Close)

	intervals := monitor.Intervals{Strategies: time.Hour, Tickers: time.Hour, Positions: time.Hour}
	h.handler = NewHandler(Deps{
		Diagnostics: diagnostics.NewChecker(client),
		Strategies:  monitor.NewStrategiesView(client, intervals, nil, nil),
		Positions:   monitor.NewPositionsView(client, time.Hour, nil, nil),
		Dispatcher:  dispatcher.New(client, dispatcher.WithDefaults(store.Snapshot)),
		Session:     orchestration.NewSession(client),
		Batch:       orchestration.NewBatch(client, nil),
		Library:     library.New(client, store.Snapshot),
		Defaults:    store,
		Hub:         h.hub,
		OnDefaults: func(d config.Defaults) {
			h.applied = append(h.applied, d)
		},
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthRecheck(t *testing.T) {
	h := newHarness(t, map[string]string{
		"/health": `{"status":"ok","config":{"env":"staging","defaultExchange":"blofin"}}`,
	})

	rec, body := h.do(t, http.MethodPost, healthRecheckPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "connected", body["status"])
	require.Equal(t, "Connected to backend (staging)", body["message"])

	rec, body = h.do(t, http.MethodGet, healthPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "connected", body["status"])
}

func TestMethodNotAllowedListsAllowed(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodDelete, defaultsPath, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET, PUT", rec.Header().Get("Allow"))
	require.Equal(t, "error", body["status"])
}

func TestPreflightIsAnswered(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(t, http.MethodOptions, strategiesPath, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStrategiesTabSelection(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodGet, strategiesPath+"?tab=inactive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "inactive", body["tab"])
}

func TestStopStrategyRoute(t *testing.T) {
	h := newHarness(t, map[string]string{"/maker/stop": `{"status":"stopped"}`})

	rec, body := h.do(t, http.MethodPost, "/api/strategies/mk-1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "mk-1", body["id"])
	require.Equal(t, 1, h.backend.count("/maker/stop"))

	rec, _ = h.do(t, http.MethodGet, "/api/strategies/mk-1/stop", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/strategies/mk-1/pause", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopStrategyBackendError(t *testing.T) {
	h := newHarness(t, map[string]string{"/maker/stop": `{"error":"Strategy not running"}`})

	rec, body := h.do(t, http.MethodPost, "/api/strategies/mk-1/stop", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Strategy not running", body["error"])
}

func TestListActions(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodGet, actionsPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["actions"], len(dispatcher.Kinds()))
}

func TestDispatchAction(t *testing.T) {
	h := newHarness(t, map[string]string{"/close-position-maker": `{"id":"c-1"}`})

	rec, body := h.do(t, http.MethodPost, "/api/actions/close", `{"symbol":"BTC-USDT","positionSide":"long","size":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Action Successful! ID: c-1", body["message"])
	require.Equal(t, 1, h.backend.count("/close-position-maker"))

	rec, body = h.do(t, http.MethodPost, "/api/actions/close", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", body["code"])
	require.Equal(t, 1, h.backend.count("/close-position-maker"))

	rec, _ = h.do(t, http.MethodPost, "/api/actions/close", `{"symbol":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrchestrationStartBeforeAnalyzeConflicts(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodPost, "/api/orchestration/start", `{"symbol":"BTC-USDT"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", body["code"])
	require.Zero(t, h.backend.count("/pinescript/start"))

	rec, _ = h.do(t, http.MethodPost, "/api/orchestration/launch", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInferenceRowIndexMustBeInteger(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodPut, "/api/inference/rows/first", `{"key":"rsi","value":"25"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "row index must be an integer", body["error"])

	rec, _ = h.do(t, http.MethodGet, inferencePath, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLibraryTemplates(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodGet, "/api/library/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["templates"], len(library.Templates()))
}

func TestDefaultsReplace(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(t, http.MethodPut, defaultsPath, `{"symbol":"ETH-USDT","timeframe":"1h","liveSize":"0.5","quickSize":"0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ETH-USDT", body["symbol"])
	require.Equal(t, "ETH-USDT", h.defaults.Snapshot().Symbol)
	require.Len(t, h.applied, 1)

	rec, _ = h.do(t, http.MethodPut, defaultsPath, `{"symbol":"ETH-USDT","timeframe":"1h","liveSize":"-1","quickSize":"0.1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "ETH-USDT", h.defaults.Snapshot().Symbol)
	require.Len(t, h.applied, 1)
}

func TestParamsFromFlattensValues(t *testing.T) {
	params := paramsFrom(map[string]any{
		"symbol": "BTC-USDT",
		"size":   json.Number("0.5"),
		"reduce": true,
		"skip":   nil,
	})
	require.Equal(t, dispatcher.Params{"symbol": "BTC-USDT", "size": "0.5", "reduce": "true"}, params)
}

func TestHubKeepsNewestFrames(t *testing.T) {
	hub := NewHub(1)
	defer hub.Close()

	frames, cancel := hub.Subscribe()
	defer cancel()
	require.Equal(t, 1, hub.Clients())

	require.NoError(t, hub.Publish(TopicPositions, map[string]int{"count": 1}))
	require.NoError(t, hub.Publish(TopicPositions, map[string]int{"count": 2}))

	var frame struct {
		Topic string         `json:"topic"`
		Data  map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-frames, &frame))
	require.Equal(t, TopicPositions, frame.Topic)
	require.Equal(t, 2, frame.Data["count"])
}

func TestHubReplaysLastFramePerTopic(t *testing.T) {
	hub := NewHub(4)
	require.NoError(t, hub.Publish(TopicStrategies, "a"))
	require.NoError(t, hub.Publish(TopicHealth, "b"))
	require.NoError(t, hub.Publish(TopicHealth, "c"))

	frames, cancel := hub.Subscribe()
	defer cancel()
	require.Len(t, frames, 2)
	require.JSONEq(t, `{"topic":"health","data":"c"}`, string(<-frames))
	require.JSONEq(t, `{"topic":"strategies","data":"a"}`, string(<-frames))

	hub.Close()
	_, ok := <-frames
	require.False(t, ok)
	require.Zero(t, hub.Clients())
}

func TestStreamDeliversFrames(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.hub.Publish(TopicOrchestration, map[string]string{"state": "idle"}))

	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+streamPath, nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.CloseNow()
	}()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"topic":"orchestration","data":{"state":"idle"}}`, string(data))

	require.Eventually(t, func() bool { return h.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.hub.Publish(TopicInference, "next"))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"topic":"inference","data":"next"}`, string(data))
}
