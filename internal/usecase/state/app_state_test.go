package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildkeeper/internal/repository"
)

func TestAppState_CopiesInitialAndSnapshot(t *testing.T) {
	initial := Snapshot{"guild": "g1"}
	app := NewAppState(initial)

	initial["guild"] = "mutated"
	v, ok := app.Get("guild")
	require.True(t, ok)
	assert.Equal(t, "g1", v)

	snap := app.Snapshot()
	snap["extra"] = true
	_, ok = app.Get("extra")
	assert.False(t, ok)
}

func TestAppState_SetDeleteKeys(t *testing.T) {
	app := NewAppState(nil)
	app.Set("b", 2)
	app.Set("a", 1)
	app.Delete("b")
	app.Delete("missing")

	assert.Equal(t, []string{"a"}, app.Keys())
}

func TestAppState_Persist(t *testing.T) {
	repo := &memRepo{name: "mem"}
	cfg := testConfig(t)
	cfg.Backends.File = func(string) (repository.StateRepository, error) { return repo, nil }
	cfg.Backends.Embedded = func(context.Context, string) (repository.StateRepository, error) {
		return nil, errors.New("disabled")
	}
	store := NewStore(cfg, nil, nil)
	require.NoError(t, store.Init(context.Background(), ""))

	app := NewAppState(nil)

	// Nothing changed yet, so nothing is written.
	assert.True(t, app.Persist(context.Background(), store, true))
	assert.Nil(t, repo.payload)

	app.Set("autorole", map[string]any{"enabled": true})
	require.True(t, app.Persist(context.Background(), store, true))
	assert.JSONEq(t, `{"autorole":{"enabled":true}}`, string(repo.payload))

	// A failed save leaves the state dirty for the next attempt.
	app.Set("count", 1)
	repo.saveErr = errors.New("disk full")
	assert.False(t, app.Persist(context.Background(), store, true))

	repo.saveErr = nil
	require.True(t, app.Persist(context.Background(), store, true))
	assert.JSONEq(t, `{"autorole":{"enabled":true},"count":1}`, string(repo.payload))
}
