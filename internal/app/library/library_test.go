package library

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
)

type call struct {
	path  string
	query string
	body  map[string]any
}

type fakeBackend struct {
	mu     sync.Mutex
	calls  []call
	routes map[string]string
}

func (f *fakeBackend) client(t *testing.T) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		f.mu.Lock()
		f.calls = append(f.calls, call{path: r.URL.EscapedPath(), query: r.URL.RawQuery, body: body})
		reply, ok := f.routes[r.URL.EscapedPath()]
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

func (f *fakeBackend) find(path string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.path == path {
			return c, true
		}
	}
	return call{}, false
}

const listBody = `{"list":[{"name":"rsi dip","versions":[1,3,2],"latestVersion":3},{"name":"trend","versions":["1"],"latestVersion":"1"}]}`

func TestListSortsVersionsDescending(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{"/strategies/list": listBody}}
	svc := New(fake.client(t), nil)

	entries, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []string{"3", "2", "1"}, entries[0].Versions)
	require.Equal(t, "3", entries[0].LatestVersion)
}

func TestLoadResolvesContext(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{
		"/strategies/list":        listBody,
		"/strategies/rsi%20dip":   `{"input":"buy dips","json":{"indicators":["rsi"]},"pinescript":"//v5"}`,
		"/strategies/rsi%20dip/2": `{"input":"older","json":{},"pinescript":""}`,
		"/strategies/rsi%20dip/3": `{"input":"buy dips","json":{},"pinescript":""}`,
		"/strategies/unknown":     `{"input":"x","json":{},"pinescript":""}`,
	}}
	svc := New(fake.client(t), nil)

	doc, err := svc.Load(context.Background(), "rsi dip", "")
	require.NoError(t, err)
	require.Equal(t, "buy dips", doc.Input)
	require.JSONEq(t, `{"indicators":["rsi"]}`, string(doc.JSON))
	require.Equal(t, Context{Name: "rsi dip", Version: "3", IsLatest: true}, doc.Context)

	doc, err = svc.Load(context.Background(), "rsi dip", "2")
	require.NoError(t, err)
	require.Equal(t, Context{Name: "rsi dip", Version: "2", IsLatest: false}, doc.Context)

	doc, err = svc.Load(context.Background(), "rsi dip", "3")
	require.NoError(t, err)
	require.True(t, doc.Context.IsLatest)

	doc, err = svc.Load(context.Background(), "unknown", "")
	require.NoError(t, err)
	require.Equal(t, "0", doc.Context.Version)

	_, err = svc.Load(context.Background(), " ", "")
	require.True(t, errs.Is(err, errs.CodeValidation))
}

func TestLoadSurfacesBackendError(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{
		"/strategies/list":  listBody,
		"/strategies/trend": `{"error":"Strategy not found"}`,
	}}
	svc := New(fake.client(t), nil)

	_, err := svc.Load(context.Background(), "trend", "")
	require.Error(t, err)
	require.Equal(t, "Strategy not found", errs.Message(err))
}

func TestSave(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{"/strategies/save": `{"status":"saved","version":4}`}}
	svc := New(fake.client(t), nil)

	ctx, err := svc.Save(context.Background(), " rsi dip ", "buy dips", json.RawMessage(`{"a":1}`), "//v5", Context{Name: "rsi dip", Version: "3"})
	require.NoError(t, err)
	require.Equal(t, Context{Name: "rsi dip", Version: "4", IsLatest: true}, ctx)

	c, ok := fake.find("/strategies/save")
	require.True(t, ok)
	require.Equal(t, "major", c.body["type"])
	require.Equal(t, "3", c.body["baseVersion"])
	require.Equal(t, "rsi dip", c.body["name"])
	require.Equal(t, "//v5", c.body["pinescript"])

	_, err = svc.Save(context.Background(), "", "x", nil, "", Context{})
	require.True(t, errs.Is(err, errs.CodeValidation))
}

func TestSaveRequiresSavedStatus(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{"/strategies/save": `{"status":"queued"}`}}
	svc := New(fake.client(t), nil)

	_, err := svc.Save(context.Background(), "n", "x", nil, "", Context{})
	require.Error(t, err)
	require.Equal(t, "unexpected status: queued", errs.Message(err))
}

func TestAnalyze(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{"/ai/analyze-multi": `{"indicators":["rsi"]}`}}
	svc := New(fake.client(t), nil)

	_, err := svc.Analyze(context.Background(), "  ")
	require.True(t, errs.Is(err, errs.CodeValidation))

	out, err := svc.Analyze(context.Background(), "buy dips")
	require.NoError(t, err)
	require.Equal(t, NoPineScript, out.PineScript)
	require.JSONEq(t, `{"indicators":["rsi"]}`, string(out.Result))
}

func TestEvaluateShapes(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{
		"/ai/evaluate-multi-strategy": `{"results":[{"timestamp":1,"signals":{"buy":true}},{"timestamp":2}]}`,
	}}
	svc := New(fake.client(t), nil)

	_, err := svc.Evaluate(context.Background(), EvaluateRequest{})
	require.True(t, errs.Is(err, errs.CodeValidation))

	end := int64(1700000000000)
	eval, err := svc.Evaluate(context.Background(), EvaluateRequest{Strategy: json.RawMessage(`{"x":1}`), EndTime: &end})
	require.NoError(t, err)
	require.True(t, eval.IsSeries())
	require.Len(t, eval.Series, 2)

	c, _ := fake.find("/ai/evaluate-multi-strategy")
	require.Equal(t, "BTC-USDT", c.body["symbol"])
	require.Equal(t, "1m", c.body["timeframe"])
	require.EqualValues(t, 5, c.body["lookback"])
	require.EqualValues(t, 1700000000000, c.body["endTime"])

	fake.mu.Lock()
	fake.routes["/ai/evaluate-multi-strategy"] = `{"result":true,"logic":"rsi < 30","context":{"rsi":25}}`
	fake.mu.Unlock()
	eval, err = svc.Evaluate(context.Background(), EvaluateRequest{Strategy: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	require.False(t, eval.IsSeries())
	require.True(t, eval.Single.Result)
	require.Equal(t, "rsi < 30", eval.Single.Logic)
}

func TestTimestampsSortedDescending(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{"/indicators/timestamps": `{"timestamps":[100,300,200]}`}}
	svc := New(fake.client(t), nil)

	out, err := svc.Timestamps(context.Background(), "ETH-USDT", "5m")
	require.NoError(t, err)
	require.Equal(t, []int64{300, 200, 100}, out)
	c, _ := fake.find("/indicators/timestamps")
	require.Equal(t, "symbol=ETH-USDT&timeframe=5m", c.query)
}

func TestBegin(t *testing.T) {
	fake := &fakeBackend{routes: map[string]string{
		"/strategies/trend": `{"input":"x","json":{"indicators":["ema"]},"pinescript":""}`,
		"/strategy/start":   `{"status":"started","id":"mk-7"}`,
	}}
	svc := New(fake.client(t), nil)

	_, err := svc.Begin(context.Background(), BeginRequest{})
	require.True(t, errs.Is(err, errs.CodeValidation))

	id, err := svc.Begin(context.Background(), BeginRequest{Name: "trend", Timeframe: "1h"})
	require.NoError(t, err)
	require.Equal(t, "mk-7", id)

	c, ok := fake.find("/strategy/start")
	require.True(t, ok)
	require.Equal(t, "BTC-USDT", c.body["symbol"])
	require.Equal(t, "1h", c.body["timeframe"])
	require.Equal(t, "0.01", c.body["size"])
	strategy := c.body["strategy"].(map[string]any)
	require.Equal(t, "trend", strategy["name"])
	require.Equal(t, []any{"ema"}, strategy["indicators"])
}

func TestTemplates(t *testing.T) {
	all := Templates()
	require.Len(t, all, 4)
	require.Equal(t, "simple", all[0].ID)
	tpl, ok := LookupTemplate("vague")
	require.True(t, ok)
	require.Contains(t, tpl.Input, "trend-following")
	_, ok = LookupTemplate("nope")
	require.False(t, ok)
}
