// Package poller runs a fetch function on a fixed period and delivers every
// result to a single subscriber until cancelled.
//
// Invocations may overlap: a slow response does not delay the next tick.
// Results are nevertheless delivered in invocation order and deliveries never
// run concurrently with each other. Once Cancel has been called no further
// result is delivered, including results of requests that were in flight.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// DefaultInterval applies when Start receives a non-positive interval.
const DefaultInterval = time.Second

// FetchFunc performs one invocation. It should honour ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) T

// ResultFunc receives one delivered result.
type ResultFunc[T any] func(T)

type options struct {
	immediate bool
}

// Option configures a poller.
type Option func(*options)

// Immediate fires the first invocation at start instead of one interval later.
func Immediate() Option {
	return func(o *options) { o.immediate = true }
}

// Handle controls a running poller.
type Handle struct {
	cancel context.CancelFunc
	kick   chan struct{}

	mu        sync.Mutex
	cancelled bool

	deliver sync.Mutex
	wg      conc.WaitGroup
}

// Start launches a poller bound to ctx. Cancelling ctx has the same effect as
// calling Cancel on the returned handle.
func Start[T any](ctx context.Context, interval time.Duration, fetch FetchFunc[T], onResult ResultFunc[T], opts ...Option) *Handle {
	var cfg options
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		kick:   make(chan struct{}, 1),
	}

	h.wg.Go(func() {
		defer h.markCancelled()

		// prev is closed once the previous invocation has been delivered or
		// discarded; each invocation waits on it to preserve ordering.
		prev := make(chan struct{})
		close(prev)

		invoke := func() {
			wait := prev
			next := make(chan struct{})
			prev = next
			h.wg.Go(func() {
				defer close(next)
				result := fetch(runCtx)
				select {
				case <-wait:
				case <-runCtx.Done():
					return
				}
				h.emit(func() { onResult(result) })
			})
		}

		if cfg.immediate {
			invoke()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				invoke()
			case <-h.kick:
				invoke()
			}
		}
	})
	return h
}

// Trigger requests one extra invocation as soon as possible without
// resetting the period. Requests made while one is pending are coalesced.
func (h *Handle) Trigger() {
	if h == nil || h.Cancelled() {
		return
	}
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Cancel stops future invocations and discards undelivered results. It is
// idempotent and safe to call from within the result callback.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.markCancelled()
	h.cancel()
}

// Cancelled reports whether the poller has been cancelled.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Wait blocks until the polling loop and every in-flight invocation have
// returned. It must not be called from the result callback.
func (h *Handle) Wait() {
	if h == nil {
		return
	}
	h.wg.Wait()
}

// Stop cancels the poller and waits for it to drain.
func (h *Handle) Stop() {
	h.Cancel()
	h.Wait()
}

func (h *Handle) markCancelled() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

func (h *Handle) emit(deliver func()) {
	h.deliver.Lock()
	defer h.deliver.Unlock()
	if h.Cancelled() {
		return
	}
	deliver()
}
