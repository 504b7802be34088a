// Package catalog serves strategy definitions: the read-only built-in
// templates plus custom rules persisted in a StrategyStore.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/domain"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

// Catalog looks up, creates and deletes strategy definitions. Built-in IDs
// shadow custom ones.
type Catalog struct {
	builtins *strategy.Registry
	store    store.StrategyStore
	maxNodes int
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Catalog. st may be nil, in which case only built-ins are
// served and Create fails.
func New(builtins *strategy.Registry, st store.StrategyStore, maxNodes int, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = util.Discard()
	}
	return &Catalog{
		builtins: builtins,
		store:    st,
		maxNodes: maxNodes,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns the built-ins followed by the custom definitions.
func (c *Catalog) List(ctx context.Context) ([]domain.StrategyDefinition, error) {
	out := c.builtins.List()
	if c.store == nil {
		return out, nil
	}
	custom, err := c.store.ListStrategies(ctx)
	if err != nil {
		return nil, err
	}
	return append(out, custom...), nil
}

// Get returns the definition with the given ID.
func (c *Catalog) Get(ctx context.Context, id string) (domain.StrategyDefinition, error) {
	if def, ok := c.builtins.Get(id); ok {
		return def, nil
	}
	if c.store == nil {
		return domain.StrategyDefinition{}, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	return c.store.GetStrategy(ctx, id)
}

// Create compiles rule and, when it is valid, stores it as a new custom
// strategy. Compile and security errors are returned unchanged.
func (c *Catalog) Create(ctx context.Context, name, rule, description string) (domain.StrategyDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.StrategyDefinition{}, domain.Validationf("strategy name is required")
	}
	if c.store == nil {
		return domain.StrategyDefinition{}, errors.New("catalog: no strategy store configured")
	}
	if _, err := strategy.Compile(name, rule, c.maxNodes); err != nil {
		return domain.StrategyDefinition{}, err
	}

	now := c.now()
	def := domain.StrategyDefinition{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        Slugify(name),
		Rule:        rule,
		Description: description,
		IsCustom:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.SaveStrategy(ctx, def); err != nil {
		return domain.StrategyDefinition{}, err
	}
	c.log.Info("custom strategy saved", "id", def.ID, "slug", def.Slug)
	return def, nil
}

// Delete removes a custom strategy. Built-ins are read-only.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, ok := c.builtins.Get(id); ok {
		return fmt.Errorf("strategy %q is built in: %w", id, domain.ErrReadOnly)
	}
	if c.store == nil {
		return fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	if err := c.store.DeleteStrategy(ctx, id); err != nil {
		return err
	}
	c.log.Info("custom strategy deleted", "id", id)
	return nil
}

// Compile loads the definition with the given ID and compiles its rule.
func (c *Catalog) Compile(ctx context.Context, id string) (*strategy.Rule, error) {
	def, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return strategy.Compile(def.Name, def.Rule, c.maxNodes)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters into
// a single underscore.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "strategy"
	}
	return s
}
