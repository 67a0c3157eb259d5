package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

func makeVersionDirs(t *testing.T, base string, versions ...string) {
	t.Helper()
	for _, v := range versions {
		require.NoError(t, os.MkdirAll(filepath.Join(base, v), 0o755))
	}
}

func TestResolveVersionsDefaultsToLatest(t *testing.T) {
	base := t.TempDir()
	makeVersionDirs(t, base, "1", "2", "10")
	fs := storage.NewLocalAdapter()

	versions, err := resolveVersions(context.Background(), ModelEntry{Name: "m1", BasePath: base}, fs)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, versions)
}

func TestResolveVersionsAll(t *testing.T) {
	base := t.TempDir()
	makeVersionDirs(t, base, "1", "2")
	fs := storage.NewLocalAdapter()

	versions, err := resolveVersions(context.Background(), ModelEntry{Name: "m1", BasePath: base, VersionPolicy: "all"}, fs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, versions)
}

func TestResolveVersionsSpecificList(t *testing.T) {
	base := t.TempDir()
	makeVersionDirs(t, base, "1", "2", "3")
	fs := storage.NewLocalAdapter()

	versions, err := resolveVersions(context.Background(), ModelEntry{Name: "m1", BasePath: base, VersionPolicy: "1,3"}, fs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, versions)
}

func TestResolveVersionsFailsWhenNoneFound(t *testing.T) {
	base := t.TempDir()
	fs := storage.NewLocalAdapter()
	_, err := resolveVersions(context.Background(), ModelEntry{Name: "m1", BasePath: base}, fs)
	assert.Error(t, err)
}

func TestResolveModelsBuildsPerVersionConfig(t *testing.T) {
	base := t.TempDir()
	makeVersionDirs(t, base, "1")
	fs := storage.NewLocalAdapter()

	cfg := &Config{
		PollIntervalSeconds: 1,
		Models: []ModelEntry{
			{Name: "m1", BasePath: base, Nireq: 2, BatchSize: "auto", Shape: map[string]string{"b": "1,?,224"}},
		},
	}
	out, errs := ResolveModels(context.Background(), cfg, fs)
	assert.Empty(t, errs)
	require.Contains(t, out, "m1")
	c := out["m1"][1]
	assert.Equal(t, filepath.Join(base, "1"), c.BasePath)
	assert.True(t, c.Batch.Auto)
	assert.Equal(t, 2, c.Nireq)
	assert.Equal(t, tensor.Shape{tensor.Static(1), tensor.AnyDim(), tensor.Static(224)}, c.ShapeOverrides["b"])
}

func TestResolveModelsSkipsBadEntryWithoutFailingOthers(t *testing.T) {
	base := t.TempDir()
	makeVersionDirs(t, base, "1")
	fs := storage.NewLocalAdapter()

	cfg := &Config{
		PollIntervalSeconds: 1,
		Models: []ModelEntry{
			{Name: "good", BasePath: base, Nireq: 1},
			{Name: "bad", BasePath: t.TempDir() + "/missing"},
		},
	}
	out, errs := ResolveModels(context.Background(), cfg, fs)
	assert.Contains(t, out, "good")
	assert.Contains(t, errs, "bad")
}

func TestParseBatchSize(t *testing.T) {
	b, err := parseBatchSize("auto")
	require.NoError(t, err)
	assert.True(t, b.Auto)

	b, err = parseBatchSize("8")
	require.NoError(t, err)
	assert.Equal(t, int64(8), b.Value)

	b, err = parseBatchSize("")
	require.NoError(t, err)
	assert.False(t, b.Auto)
	assert.Zero(t, b.Value)

	_, err = parseBatchSize("bogus")
	assert.Error(t, err)
}

func TestResolvePipelinesBuildsDescWithExitConnections(t *testing.T) {
	cfg := &Config{Pipelines: []PipelineEntry{validPipeline()}}
	descs := ResolvePipelines(cfg)
	require.Contains(t, descs, "p1")
	desc := descs["p1"]
	require.Len(t, desc.Nodes, 3)
	require.Len(t, desc.Connections, 2)
	assert.Equal(t, "exit", desc.Connections[1].ToNode)
	assert.Equal(t, "b", desc.Connections[1].ToInput)
}
