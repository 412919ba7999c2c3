package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Adapter bundles everything the engine needs for one coin.
type Adapter struct {
	Coin     Coin
	Ledger   Ledger
	Balances BalanceSource
}

// Registry maps coin tickers to adapters. It is built once at startup and
// handed to the engine; it is not safe for concurrent registration.
type Registry struct {
	adapters map[string]*Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]*Adapter)}
}

func (r *Registry) Register(a *Adapter) error {
	if a == nil || a.Ledger == nil || a.Balances == nil {
		return fmt.Errorf("adapter for %q is incomplete", tickerOf(a))
	}
	key := strings.ToLower(a.Coin.Ticker)
	if key == "" {
		return fmt.Errorf("adapter has no ticker")
	}
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("adapter for %q already registered", key)
	}
	r.adapters[key] = a
	return nil
}

func (r *Registry) Get(ticker string) (*Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(ticker))]
	return a, ok
}

// Tickers returns the registered tickers in sorted order.
func (r *Registry) Tickers() []string {
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tickerOf(a *Adapter) string {
	if a == nil {
		return ""
	}
	return a.Coin.Ticker
}
