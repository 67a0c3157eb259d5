package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/backend/memory"
	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/model"
	"github.com/inferencemesh/modelmesh/internal/core/resilience"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

type resolverMap map[string]*model.Instance

func (r resolverMap) Resolve(name string, version int64) *model.Instance { return r[name] }

func fastOptions() Options {
	return Options{Workers: 4, Backoff: &resilience.Policy{BaseDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}}
}

func echoSpecForExec() memory.Spec {
	info := tensor.TensorInfo{Name: "b", ElementType: tensor.FP32, Shape: tensor.Shape{tensor.Static(1)}}
	return memory.Spec{Inputs: backend.TensorMap{"b": info}, Outputs: backend.TensorMap{"b": info}}
}

func loadedInstance(t *testing.T, name string, rt *memory.Runtime) *model.Instance {
	t.Helper()
	inst := model.NewInstance(name, 1, rt, storage.NewLocalAdapter(), subscription.New())
	require.NoError(t, inst.Load(context.Background(), model.Config{BasePath: t.TempDir(), Nireq: 1}))
	return inst
}

func TestExecuteLinearPipeline(t *testing.T) {
	infos := []dag.NodeInfo{
		{Kind: dag.KindEntry, Name: "entry"},
		{Kind: dag.KindDL, Name: "n1", ModelName: "m1"},
		{Kind: dag.KindExit, Name: "exit"},
	}
	conns := []dag.Connection{
		{FromNode: "entry", FromOutput: "b", ToNode: "n1", ToInput: "b"},
		{FromNode: "n1", FromOutput: "b", ToNode: "exit", ToInput: "b"},
	}
	g, err := dag.BuildGraph(infos, conns)
	require.NoError(t, err)

	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForExec())
	resolver := resolverMap{"m1": loadedInstance(t, "m1", rt)}

	req := map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{42})}
	out, err := Execute(context.Background(), g, resolver, req, fastOptions())
	require.NoError(t, err)
	vals, err := out["b"].Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{42}, vals)
}

func TestExecuteFailsWhenModelUnknown(t *testing.T) {
	infos := []dag.NodeInfo{
		{Kind: dag.KindEntry, Name: "entry"},
		{Kind: dag.KindDL, Name: "n1", ModelName: "ghost"},
		{Kind: dag.KindExit, Name: "exit"},
	}
	conns := []dag.Connection{
		{FromNode: "entry", FromOutput: "b", ToNode: "n1", ToInput: "b"},
		{FromNode: "n1", FromOutput: "b", ToNode: "exit", ToInput: "b"},
	}
	g, err := dag.BuildGraph(infos, conns)
	require.NoError(t, err)

	resolver := resolverMap{}
	req := map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{1})}
	_, err = Execute(context.Background(), g, resolver, req, fastOptions())
	require.Error(t, err)
	assert.Equal(t, status.ModelNameMissing, status.CodeOf(err))
}

func TestExecuteRetriesWhenSlotExhaustedThenSucceeds(t *testing.T) {
	infos := []dag.NodeInfo{
		{Kind: dag.KindEntry, Name: "entry"},
		{Kind: dag.KindDL, Name: "n1", ModelName: "m1"},
		{Kind: dag.KindExit, Name: "exit"},
	}
	conns := []dag.Connection{
		{FromNode: "entry", FromOutput: "b", ToNode: "n1", ToInput: "b"},
		{FromNode: "n1", FromOutput: "b", ToNode: "exit", ToInput: "b"},
	}
	g, err := dag.BuildGraph(infos, conns)
	require.NoError(t, err)

	rt := memory.NewRuntime()
	spec := echoSpecForExec()
	spec.Compute = func(inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		time.Sleep(15 * time.Millisecond)
		return inputs, nil
	}
	rt.Register("m1", spec)
	inst := loadedInstance(t, "m1", rt)
	resolver := resolverMap{"m1": inst}

	// Occupy the only slot for a short window so the first dispatch
	// attempt must defer and retry.
	go func() {
		_, _ = inst.Infer(context.Background(), map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{0})}, time.Second)
	}()
	time.Sleep(3 * time.Millisecond)

	req := map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{9})}
	out, err := Execute(context.Background(), g, resolver, req, fastOptions())
	require.NoError(t, err)
	vals, _ := out["b"].Float32Values()
	assert.Equal(t, []float32{9}, vals)
}

func TestExecuteDemultiplexAndGather(t *testing.T) {
	infos := []dag.NodeInfo{
		{Kind: dag.KindEntry, Name: "entry"},
		{Kind: dag.KindDL, Name: "split", ModelName: "m1", Demultiply: dag.DemultiplyCount{Enabled: true, Fixed: 2}},
		{Kind: dag.KindDL, Name: "inner", ModelName: "m1"},
		{Kind: dag.KindExit, Name: "exit", GatherFrom: []string{"split"}},
	}
	conns := []dag.Connection{
		{FromNode: "entry", FromOutput: "b", ToNode: "split", ToInput: "b"},
		{FromNode: "split", FromOutput: "b", ToNode: "inner", ToInput: "b"},
		{FromNode: "inner", FromOutput: "b", ToNode: "exit", ToInput: "b"},
	}
	g, err := dag.BuildGraph(infos, conns)
	require.NoError(t, err)

	rt := memory.NewRuntime()
	rt.Register("m1", echoSpecForExec())
	resolver := resolverMap{"m1": loadedInstance(t, "m1", rt)}

	req := map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{2}, []float32{10, 20})}
	out, err := Execute(context.Background(), g, resolver, req, fastOptions())
	require.NoError(t, err)
	vals, err := out["b"].Float32Values()
	require.NoError(t, err)
	assert.ElementsMatch(t, []float32{10, 20}, vals)
}
