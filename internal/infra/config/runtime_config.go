package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultDefaults returns the built-in form defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Symbol:    "BTC-USDT",
		Timeframe: "15m",
		LiveSize:  "0.001",
		QuickSize: "0.01",
	}
}

// Normalise trims every field and restores built-ins for blank ones.
func (d *Defaults) Normalise() {
	builtin := DefaultDefaults()
	d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
	if d.Symbol == "" {
		d.Symbol = builtin.Symbol
	}
	d.Timeframe = strings.TrimSpace(d.Timeframe)
	if d.Timeframe == "" {
		d.Timeframe = builtin.Timeframe
	}
	d.LiveSize = strings.TrimSpace(d.LiveSize)
	if d.LiveSize == "" {
		d.LiveSize = builtin.LiveSize
	}
	d.QuickSize = strings.TrimSpace(d.QuickSize)
	if d.QuickSize == "" {
		d.QuickSize = builtin.QuickSize
	}
}

// Validate ensures both sizes are positive decimals.
func (d Defaults) Validate() error {
	for name, raw := range map[string]string{"liveSize": d.LiveSize, "quickSize": d.QuickSize} {
		size, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", name, err)
		}
		if !size.IsPositive() {
			return fmt.Errorf("%s must be >0", name)
		}
	}
	return nil
}

// RuntimeStore provides concurrency-safe access to the operator defaults,
// which may be replaced while the process runs.
type RuntimeStore struct {
	mu       sync.RWMutex
	defaults Defaults
}

// NewRuntimeStore constructs a store seeded with initial.
func NewRuntimeStore(initial Defaults) (*RuntimeStore, error) {
	initial.Normalise()
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeStore{defaults: initial}, nil
}

// Snapshot returns a copy of the current defaults.
func (s *RuntimeStore) Snapshot() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Replace swaps the current defaults after normalisation and validation.
func (s *RuntimeStore) Replace(next Defaults) (Defaults, error) {
	next.Normalise()
	if err := next.Validate(); err != nil {
		return Defaults{}, err
	}

	s.mu.Lock()
	s.defaults = next
	s.mu.Unlock()

	return next, nil
}
