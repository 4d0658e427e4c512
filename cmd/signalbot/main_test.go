package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/store"
)

func newCheckStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestResolveCheckTargetRegisteredUser(t *testing.T) {
	st := newCheckStore(t)
	pairs := "ETHUSDT,SOLUSDT"
	sens := "high"
	cat := "linear"
	require.NoError(t, st.UpsertUser(42, store.UserUpdate{
		Pairs:       &pairs,
		Sensitivity: &sens,
		Category:    &cat,
	}))

	target, err := resolveCheckTarget(st, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, target.symbols)
	assert.Equal(t, "high", target.sensitivity)
	assert.Equal(t, "linear", target.category)
}

func TestResolveCheckTargetSymbolOverride(t *testing.T) {
	st := newCheckStore(t)
	require.NoError(t, st.UpsertUser(42, store.UserUpdate{}))

	target, err := resolveCheckTarget(st, 42, []string{"DOGEUSDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"DOGEUSDT"}, target.symbols)
}

func TestResolveCheckTargetUnknownUser(t *testing.T) {
	st := newCheckStore(t)

	_, err := resolveCheckTarget(st, 7, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
