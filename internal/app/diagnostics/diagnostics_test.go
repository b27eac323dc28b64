package diagnostics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratdeck/internal/infra/backend"
)

func TestRunConnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_, _ = io.WriteString(w, `{"config":{"env":"staging","defaultExchange":"blofin"}}`)
	}))
	defer srv.Close()

	var seen []Status
	c := NewChecker(backend.NewClient(srv.URL, time.Second), WithOnChange(func(s State) { seen = append(seen, s.Status) }))
	require.Equal(t, StatusChecking, c.State().Status)

	state := c.Run(context.Background())
	require.Equal(t, StatusConnected, state.Status)
	require.Equal(t, "Connected to backend (staging)", state.Message)
	require.Equal(t, &Details{Env: "staging", DefaultExchange: "blofin"}, state.Details)
	require.Equal(t, 1, state.Attempts)
	require.Equal(t, []Status{StatusChecking, StatusConnected}, seen)
}

func TestRunRetriesTransportFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			_, _ = io.WriteString(w, `<html>booting</html>`)
			return
		}
		_, _ = io.WriteString(w, `{"config":{"env":"dev"}}`)
	}))
	defer srv.Close()

	c := NewChecker(backend.NewClient(srv.URL, time.Second),
		WithInitialInterval(time.Millisecond),
		WithMaxElapsed(2*time.Second),
	)
	state := c.Run(context.Background())
	require.Equal(t, StatusConnected, state.Status)
	require.Equal(t, 3, state.Attempts)
}

func TestRunDoesNotRetryBackendErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"error":"exchange credentials missing"}`)
	}))
	defer srv.Close()

	c := NewChecker(backend.NewClient(srv.URL, time.Second), WithInitialInterval(time.Millisecond))
	state := c.Run(context.Background())
	require.Equal(t, StatusDisconnected, state.Status)
	require.Equal(t, "Backend unreachable: exchange credentials missing", state.Message)
	require.Equal(t, int32(1), hits.Load())
}

func TestRunGivesUpAfterMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewChecker(backend.NewClient(url, 100*time.Millisecond),
		WithInitialInterval(time.Millisecond),
		WithMaxElapsed(50*time.Millisecond),
	)
	state := c.Run(context.Background())
	require.Equal(t, StatusDisconnected, state.Status)
	require.GreaterOrEqual(t, state.Attempts, 1)
	require.Nil(t, state.Details)
}

func TestRecheckIsSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewChecker(backend.NewClient(srv.URL, time.Second))
	state := c.Recheck(context.Background())
	require.Equal(t, StatusDisconnected, state.Status)
	require.Equal(t, "Backend unreachable: HTTP error! status: 502", state.Message)
	require.Equal(t, int32(1), hits.Load())
}
