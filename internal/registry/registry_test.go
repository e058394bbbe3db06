package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/storetest"
)

const task = "consumption_forecast"

func register(t *testing.T, r *Registry, name, buildingID string) string {
	t.Helper()
	e, err := r.Register(context.Background(), Registration{
		Name:           name,
		BuildingID:     buildingID,
		Task:           task,
		Algorithm:      "linear",
		FeatureVersion: 3,
		ArtifactPath:   name + ".json",
		Metrics:        map[string]float64{"r2": 0.8},
	})
	require.NoError(t, err)
	assert.False(t, e.IsActive)
	return e.ModelID
}

func activeCount(t *testing.T, r *Registry, scope string) int {
	t.Helper()
	all, err := r.List(context.Background())
	require.NoError(t, err)
	n := 0
	for _, e := range all {
		if e.ScopeKey == scope && e.Task == task && e.IsActive {
			n++
		}
	}
	return n
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "global", ScopeKey(""))
	assert.Equal(t, "building:B1", ScopeKey("B1"))
}

func TestRegisterStoresInactiveEntry(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	id := register(t, r, "m1", "B1")

	e, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "building:B1", e.ScopeKey)
	require.NotNil(t, e.BuildingID)
	assert.Equal(t, "B1", *e.BuildingID)
	assert.False(t, e.IsActive)

	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(e.Metrics, &metrics))
	assert.Equal(t, 0.8, metrics["r2"])
}

func TestRegisterValidates(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	tests := []Registration{
		{Task: task, ArtifactPath: "a", FeatureVersion: 3},
		{Name: "m", ArtifactPath: "a", FeatureVersion: 3},
		{Name: "m", Task: task, FeatureVersion: 3},
		{Name: "m", Task: task, ArtifactPath: "a"},
	}
	for _, reg := range tests {
		_, err := r.Register(context.Background(), reg)
		assert.Error(t, err)
	}
}

func TestActivateKeepsOneActivePerScope(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	first := register(t, r, "m1", "")
	second := register(t, r, "m2", "")
	other := register(t, r, "m3", "B1")

	for _, id := range []string{first, other, second, first, second} {
		_, err := r.Activate(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, activeCount(t, r, GlobalScope))
	}
	assert.Equal(t, 1, activeCount(t, r, "building:B1"))

	e, err := r.Get(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, e.IsActive)
	assert.NotNil(t, e.ActivatedAt)
}

func TestActivateUnknownModel(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	_, err := r.Activate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePrefersBuildingScope(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	ctx := context.Background()

	e, err := r.Resolve(ctx, "B1", task)
	require.NoError(t, err)
	assert.Nil(t, e)

	global := register(t, r, "global", "")
	_, err = r.Activate(ctx, global)
	require.NoError(t, err)

	e, err = r.Resolve(ctx, "B1", task)
	require.NoError(t, err)
	assert.Equal(t, global, e.ModelID)

	local := register(t, r, "local", "B1")
	_, err = r.Activate(ctx, local)
	require.NoError(t, err)

	e, err = r.Resolve(ctx, "B1", task)
	require.NoError(t, err)
	assert.Equal(t, local, e.ModelID)

	e, err = r.Resolve(ctx, "B2", task)
	require.NoError(t, err)
	assert.Equal(t, global, e.ModelID)
}

func TestRegisterDefaultsTrainedAt(t *testing.T) {
	r := New(storetest.New(), logger.Nop())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	id := register(t, r, "m1", "")
	e, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, fixed, e.TrainedAt)
}
