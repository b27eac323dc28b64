// Package monitor owns the polled views: strategies joined with tickers, and
// open positions. Each view is the single writer of its collections and
// replaces them wholesale on every successful poll.
package monitor

import (
	"time"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
)

// Panel is the state of one polled resource. A failed poll keeps the last
// good Items and sets Err; the next success clears it.
type Panel[T any] struct {
	Items     T         `json:"items"`
	Err       string    `json:"error,omitempty"`
	Loading   bool      `json:"loading"`
	Loaded    bool      `json:"loaded"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// apply folds one poll outcome into the panel. decode is only called for a
// successful result and its failure is treated like a failed poll.
func (p *Panel[T]) apply(res backend.Result, now time.Time, decode func(backend.Result) (T, error)) error {
	p.Loading = false
	if !res.OK() {
		p.Err = res.Err
		return res.AsError("monitor/poll")
	}
	items, err := decode(res)
	if err != nil {
		p.Err = errs.Message(err)
		return err
	}
	p.Items = items
	p.Err = ""
	p.Loaded = true
	p.UpdatedAt = now
	return nil
}
