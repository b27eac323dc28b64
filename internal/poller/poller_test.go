package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	results []int
}

func (c *collector) add(v int) {
	c.mu.Lock()
	c.results = append(c.results, v)
	c.mu.Unlock()
}

func (c *collector) snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.results...)
}

func TestImmediateDeliversFirstResult(t *testing.T) {
	var calls atomic.Int32
	got := new(collector)

	h := Start(context.Background(), time.Hour, func(context.Context) int {
		return int(calls.Add(1))
	}, got.add, Immediate())
	defer h.Stop()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{1}, got.snapshot())
}

func TestWithoutImmediateWaitsOneInterval(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), time.Hour, func(context.Context) int {
		calls.Add(1)
		return 0
	}, func(int) {})

	time.Sleep(30 * time.Millisecond)
	h.Stop()
	require.Zero(t, calls.Load())
}

func TestKeepsPollingOnEveryTick(t *testing.T) {
	var calls atomic.Int32
	got := new(collector)

	h := Start(context.Background(), 5*time.Millisecond, func(context.Context) int {
		return int(calls.Add(1))
	}, got.add)
	defer h.Stop()

	require.Eventually(t, func() bool { return len(got.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestResultsDeliveredInInvocationOrder(t *testing.T) {
	var calls atomic.Int32
	got := new(collector)

	// Earlier invocations take longer than later ones.
	h := Start(context.Background(), 2*time.Millisecond, func(ctx context.Context) int {
		n := int(calls.Add(1))
		delay := time.Duration(12-n%4*3) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return n
	}, got.add)

	require.Eventually(t, func() bool { return len(got.snapshot()) >= 8 }, 2*time.Second, 5*time.Millisecond)
	h.Stop()

	results := got.snapshot()
	for i := 1; i < len(results); i++ {
		require.Less(t, results[i-1], results[i], "results out of order: %v", results)
	}
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Int32

	h := Start(context.Background(), time.Hour, func(context.Context) int {
		close(started)
		<-release
		return 1
	}, func(int) { delivered.Add(1) }, Immediate())

	<-started
	h.Cancel()
	close(release)
	h.Wait()

	require.Zero(t, delivered.Load())
	require.True(t, h.Cancelled())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := Start(context.Background(), time.Millisecond, func(context.Context) int { return 0 }, func(int) {})
	h.Cancel()
	h.Cancel()
	h.Wait()
	require.True(t, h.Cancelled())
}

func TestCancelFromCallbackStopsPolling(t *testing.T) {
	var calls atomic.Int32
	var handle atomic.Pointer[Handle]
	ready := make(chan struct{})

	h := Start(context.Background(), 2*time.Millisecond, func(context.Context) int {
		<-ready
		return int(calls.Add(1))
	}, func(n int) {
		if n == 2 {
			handle.Load().Cancel()
		}
	})
	handle.Store(h)
	close(ready)

	h.Wait()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, calls.Load())
	require.True(t, h.Cancelled())
}

func TestParentContextCancelsPoller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, time.Millisecond, func(context.Context) int { return 0 }, func(int) {})
	cancel()
	h.Wait()
	require.True(t, h.Cancelled())
}

func TestTriggerFiresExtraInvocation(t *testing.T) {
	got := new(collector)
	var calls atomic.Int32

	h := Start(context.Background(), time.Hour, func(context.Context) int {
		return int(calls.Add(1))
	}, got.add)
	defer h.Stop()

	h.Trigger()
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}
