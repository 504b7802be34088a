package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/domain"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(strategy.DefaultRegistry(), st, 0, nil)
}

func TestListIncludesBuiltins(t *testing.T) {
	c := newCatalog(t)
	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, len(strategy.Builtins()))
	for _, def := range list {
		assert.False(t, def.IsCustom)
	}
}

func TestCreateGetDelete(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	def, err := c.Create(ctx, "My Dip Buyer!", "buy: rsi < 25\nsell: rsi > 60", "buys dips")
	require.NoError(t, err)
	_, err = uuid.Parse(def.ID)
	assert.NoError(t, err)
	assert.Equal(t, "my_dip_buyer", def.Slug)
	assert.True(t, def.IsCustom)

	got, err := c.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Rule, got.Rule)

	rule, err := c.Compile(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Dip Buyer!", rule.Name)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(strategy.Builtins())+1)

	require.NoError(t, c.Delete(ctx, def.ID))
	_, err = c.Get(ctx, def.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRejectsInvalidRules(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	_, err := c.Create(ctx, "broken", "buy: close >", "")
	assert.ErrorIs(t, err, domain.ErrCompile)

	_, err = c.Create(ctx, "sneaky", `buy: exec("rm") > 0`, "")
	assert.ErrorIs(t, err, domain.ErrSecurityViolation)

	_, err = c.Create(ctx, "  ", "buy: true", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(strategy.Builtins()), "nothing stored")
}

func TestBuiltinsAreReadOnly(t *testing.T) {
	c := newCatalog(t)
	err := c.Delete(context.Background(), "macd_trend")
	assert.ErrorIs(t, err, domain.ErrReadOnly)

	def, err := c.Get(context.Background(), "macd_trend")
	require.NoError(t, err)
	assert.False(t, def.IsCustom)
}

func TestUnknownStrategy(t *testing.T) {
	c := newCatalog(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, c.Delete(context.Background(), "nope"), domain.ErrNotFound)

	builtinOnly := New(strategy.DefaultRegistry(), nil, 0, nil)
	_, err = builtinOnly.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "golden_cross_v2", Slugify("  Golden Cross (v2) "))
	assert.Equal(t, "strategy", Slugify("!!!"))
}
