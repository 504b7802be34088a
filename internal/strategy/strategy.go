// Package strategy compiles user trading rules into sandboxed programs and
// evaluates them bar by bar without lookahead. It also holds the registry of
// built-in strategy definitions.
package strategy

import (
	"context"
	"sort"

	"quantlab/internal/domain"
)

// Account is the read-only account state a strategy sees on each bar.
type Account struct {
	Cash       float64
	Shares     int64
	EntryPrice float64
}

// Flat reports whether no position is held.
func (a Account) Flat() bool { return a.Shares == 0 }

// Strategy is the interface the backtest simulator drives.
type Strategy interface {
	// Name returns a human-readable identifier for logs.
	Name() string

	// Decide returns the decision for the last bar of view. A non-nil error
	// is fatal for the run; recoverable per-bar failures are absorbed by the
	// implementation and reported as HOLD.
	Decide(ctx context.Context, view *View, acct Account) (domain.Decision, error)
}

// Func adapts a plain function to the Strategy interface.
type Func func(ctx context.Context, view *View, acct Account) (domain.Decision, error)

// Name implements Strategy.
func (f Func) Name() string { return "func" }

// Decide implements Strategy.
func (f Func) Decide(ctx context.Context, view *View, acct Account) (domain.Decision, error) {
	return f(ctx, view, acct)
}

var _ Strategy = Func(nil)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds the read-only built-in strategy definitions keyed by ID.
type Registry struct {
	definitions map[string]domain.StrategyDefinition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]domain.StrategyDefinition),
	}
}

// DefaultRegistry returns a Registry populated with the built-in templates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Builtins() {
		r.Register(def)
	}
	return r
}

// Register adds a definition, keyed by its ID. The definition is marked as
// built-in.
func (r *Registry) Register(def domain.StrategyDefinition) {
	def.IsCustom = false
	r.definitions[def.ID] = def
}

// Get retrieves a definition by ID. The second return value indicates whether
// it was found.
func (r *Registry) Get(id string) (domain.StrategyDefinition, bool) {
	d, ok := r.definitions[id]
	return d, ok
}

// List returns all registered definitions sorted by ID.
func (r *Registry) List() []domain.StrategyDefinition {
	out := make([]domain.StrategyDefinition, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
