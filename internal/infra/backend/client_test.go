package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratdeck/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestGetDecodesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/maker/list", r.URL.Path)
		require.NotEmpty(t, r.Header.Get(RequestIDHeader))
		_, _ = io.WriteString(w, `{"strategies":[{"id":"s1","running":true}]}`)
	})

	res := client.Get(context.Background(), "/maker/list")
	require.True(t, res.OK())
	require.Equal(t, http.StatusOK, res.Status)

	var payload struct {
		Strategies []struct {
			ID      string `json:"id"`
			Running bool   `json:"running"`
		} `json:"strategies"`
	}
	require.NoError(t, res.Decode(&payload))
	require.Len(t, payload.Strategies, 1)
	require.Equal(t, "s1", payload.Strategies[0].ID)
}

func TestPostSendsJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "s1", body["id"])
		_, _ = io.WriteString(w, `{}`)
	})

	res := client.Post(context.Background(), "/maker/stop", map[string]string{"id": "s1"})
	require.True(t, res.OK())
}

func TestPostNilBodySendsEmptyObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.Equal(t, "{}", string(raw))
		w.WriteHeader(http.StatusNoContent)
	})

	res := client.Post(context.Background(), "/pinescript/stop", nil)
	require.True(t, res.OK())
	require.Equal(t, "{}", string(res.Body))
}

func TestNon2xxUsesStructuredError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Insufficient margin"}`)
	})

	res := client.Post(context.Background(), "/enter", map[string]any{"symbol": "BTC-USDT"})
	require.False(t, res.OK())
	require.Equal(t, "Insufficient margin", res.Err)
	require.Equal(t, errs.CodeBackend, res.Code)

	err := res.AsError("dispatch")
	require.True(t, errs.Is(err, errs.CodeBackend))
	require.Equal(t, "Insufficient margin", errs.Message(err))
}

func TestNon2xxFallsBackToStatusMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `<html>bad gateway</html>`)
	})

	res := client.Get(context.Background(), "/health")
	require.Equal(t, "HTTP error! status: 502", res.Err)
	require.Equal(t, http.StatusBadGateway, res.Status)
}

func TestSuccessWithErrorFieldIsBackendError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":"no strategy running"}`)
	})

	res := client.Get(context.Background(), "/pinescript/status")
	require.Equal(t, "no strategy running", res.Err)
	require.Equal(t, errs.CodeBackend, res.Code)
	require.Error(t, res.Decode(&map[string]any{}))
}

func TestFalsyErrorFieldIsIgnored(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":null,"running":true}`)
	})

	res := client.Get(context.Background(), "/pinescript/status")
	require.True(t, res.OK())
}

func TestMalformedJSONIsTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[`)
	})

	res := client.Get(context.Background(), "/blofin/tickers")
	require.False(t, res.OK())
	require.Equal(t, errs.CodeTransport, res.Code)
}

func TestUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewClient(url, time.Second).Get(context.Background(), "/health")
	require.False(t, res.OK())
	require.Equal(t, errs.CodeTransport, res.Code)
	require.Zero(t, res.Status)
}

func TestRateLimitHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	WithRateLimit(0.001, 1)(client)

	require.True(t, client.Get(context.Background(), "/health").OK())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := client.Get(ctx, "/health")
	require.False(t, res.OK())
	require.Equal(t, errs.CodeTransport, res.Code)
}

func TestDecodeKeepsNumbersAsJSONNumber(t *testing.T) {
	res := Result{Status: 200, Body: []byte(`{"size":0.01}`)}
	var out map[string]any
	require.NoError(t, res.Decode(&out))
	require.Equal(t, json.Number("0.01"), out["size"])
}
