package pipelinedef

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/backend/memory"
	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/executor"
	"github.com/inferencemesh/modelmesh/internal/core/model"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

func echoSpecForDef() memory.Spec {
	info := tensor.TensorInfo{Name: "b", ElementType: tensor.FP32, Shape: tensor.Shape{tensor.Static(1)}}
	return memory.Spec{Inputs: backend.TensorMap{"b": info}, Outputs: backend.TensorMap{"b": info}}
}

func newTestRegistry(t *testing.T, rt *memory.Runtime) *registry.Registry {
	t.Helper()
	return registry.New(rt, storage.NewLocalAdapter(), subscription.New())
}

func linearNodes() ([]dag.NodeInfo, []dag.Connection) {
	return []dag.NodeInfo{
			{Kind: dag.KindEntry, Name: "entry"},
			{Kind: dag.KindDL, Name: "n1", ModelName: "m1"},
			{Kind: dag.KindExit, Name: "exit"},
		}, []dag.Connection{
			{FromNode: "entry", FromOutput: "b", ToNode: "n1", ToInput: "b"},
			{FromNode: "n1", FromOutput: "b", ToNode: "exit", ToInput: "b"},
		}
}

func TestValidateSucceedsAndEntersAvailable(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForDef())
	reg := newTestRegistry(t, rt)
	reg.ApplyDiff(context.Background(), map[string]map[int64]model.Config{"m1": {1: {BasePath: t.TempDir(), Nireq: 1}}})

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	err := def.Validate(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, def.Status())
}

func TestValidateFailsWhenModelMissing(t *testing.T) {
	rt := memory.NewRuntime()
	reg := newTestRegistry(t, rt)

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	err := def.Validate(context.Background(), reg)
	require.Error(t, err)
	assert.Equal(t, StatusLoadingPreconditionFailed, def.Status())
	assert.Equal(t, status.PipelineNodeReferringToMissingModel, status.CodeOf(err))
}

func TestValidateRejectsDynamicBatchModel(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForDef())
	reg := newTestRegistry(t, rt)
	reg.ApplyDiff(context.Background(), map[string]map[int64]model.Config{
		"m1": {1: {BasePath: t.TempDir(), Nireq: 1, Batch: model.BatchSize{Auto: true}}},
	})

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	err := def.Validate(context.Background(), reg)
	require.Error(t, err)
	assert.Equal(t, status.RequestedDynamicParametersOnSubscribedModel, status.CodeOf(err))
}

func TestCreateReturnsPipelineWhenAvailable(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForDef())
	reg := newTestRegistry(t, rt)
	reg.ApplyDiff(context.Background(), map[string]map[int64]model.Config{"m1": {1: {BasePath: t.TempDir(), Nireq: 1}}})

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	require.NoError(t, def.Validate(context.Background(), reg))

	pl, err := def.Create(context.Background(), reg, time.Second)
	require.NoError(t, err)
	require.NotNil(t, pl)

	out, err := pl.Execute(context.Background(), map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{3})}, time.Second)
	require.NoError(t, err)
	vals, _ := out["b"].Float32Values()
	assert.Equal(t, []float32{3}, vals)
}

func TestCreateTimesOutWhileNeverValidated(t *testing.T) {
	rt := memory.NewRuntime()
	reg := newTestRegistry(t, rt)
	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())

	_, err := def.Create(context.Background(), reg, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, status.PipelineDefinitionNotLoadedYet, status.CodeOf(err))
}

func TestCreateFailsPermanentlyAfterRetire(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForDef())
	reg := newTestRegistry(t, rt)
	reg.ApplyDiff(context.Background(), map[string]map[int64]model.Config{"m1": {1: {BasePath: t.TempDir(), Nireq: 1}}})

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	require.NoError(t, def.Validate(context.Background(), reg))
	def.Retire()

	_, err := def.Create(context.Background(), reg, time.Second)
	require.Error(t, err)
	assert.Equal(t, status.PipelineDefinitionNotLoadedAnymore, status.CodeOf(err))
}

func TestIsReferencedByPipelineReflectsValidatedModels(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForDef())
	reg := newTestRegistry(t, rt)
	reg.ApplyDiff(context.Background(), map[string]map[int64]model.Config{"m1": {1: {BasePath: t.TempDir(), Nireq: 1}}})

	nodes, conns := linearNodes()
	def := New("p1", nodes, conns, executor.Options{}, reg.Subscriptions())
	require.NoError(t, def.Validate(context.Background(), reg))

	assert.True(t, def.IsReferencedByPipeline("m1"))
	assert.False(t, def.IsReferencedByPipeline("ghost"))
}
