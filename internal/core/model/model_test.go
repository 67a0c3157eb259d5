package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/backend/memory"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

func newTestModel(t *testing.T, rt *memory.Runtime) *Model {
	t.Helper()
	return NewModel("dummy", rt, storage.NewLocalAdapter(), subscription.New())
}

func TestApplyVersionsStartsAndElectsDefault(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("dummy", echoSpec())
	m := newTestModel(t, rt)

	dir1, dir2 := t.TempDir(), t.TempDir()
	failures := m.ApplyVersions(context.Background(), VersionDiff{
		Start: map[int64]Config{
			1: {BasePath: dir1, Nireq: 1},
			2: {BasePath: dir2, Nireq: 1},
		},
	})
	require.Empty(t, failures)
	assert.Equal(t, int64(2), m.DefaultVersion())
	assert.ElementsMatch(t, []int64{1, 2}, m.Versions())
}

func TestGetZeroReturnsDefaultVersion(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("dummy", echoSpec())
	m := newTestModel(t, rt)
	dir := t.TempDir()
	m.ApplyVersions(context.Background(), VersionDiff{Start: map[int64]Config{3: {BasePath: dir, Nireq: 1}}})

	inst := m.Get(0)
	require.NotNil(t, inst)
	assert.Equal(t, int64(3), inst.Version)
}

func TestGetReturnsNilWhenNoAvailableVersion(t *testing.T) {
	m := newTestModel(t, memory.NewRuntime())
	assert.Nil(t, m.Get(0))
	assert.False(t, m.HasAvailableVersion())
}

func TestApplyVersionsReportsStartFailures(t *testing.T) {
	rt := memory.NewRuntime() // no model registered -> load fails
	m := newTestModel(t, rt)
	dir := t.TempDir()

	failures := m.ApplyVersions(context.Background(), VersionDiff{Start: map[int64]Config{1: {BasePath: dir, Nireq: 1}}})
	require.Len(t, failures, 1)
	assert.Equal(t, StatusLoadingFailed, m.Get(1).Status())
}

func TestApplyVersionsRetireRemovesFromDefaultElection(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("dummy", echoSpec())
	m := newTestModel(t, rt)
	dir := t.TempDir()
	m.ApplyVersions(context.Background(), VersionDiff{Start: map[int64]Config{1: {BasePath: dir, Nireq: 1}}})
	require.Equal(t, int64(1), m.DefaultVersion())

	m.ApplyVersions(context.Background(), VersionDiff{Retire: []int64{1}})
	assert.Equal(t, int64(0), m.DefaultVersion())
}

func TestApplyVersionsReload(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("dummy", echoSpec())
	m := newTestModel(t, rt)
	dir := t.TempDir()
	m.ApplyVersions(context.Background(), VersionDiff{Start: map[int64]Config{1: {BasePath: dir, Nireq: 1}}})

	failures := m.ApplyVersions(context.Background(), VersionDiff{Reload: map[int64]Config{1: {BasePath: dir, Nireq: 2}}})
	require.Empty(t, failures)
	assert.Equal(t, StatusAvailable, m.Get(1).Status())
}
