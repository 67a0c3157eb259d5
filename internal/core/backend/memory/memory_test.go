package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

func echoSpec() Spec {
	info := tensor.TensorInfo{
		Name:        "b",
		ElementType: tensor.FP32,
		Shape:       tensor.Shape{tensor.Static(1)},
	}
	return Spec{
		Inputs:  backend.TensorMap{"b": info},
		Outputs: backend.TensorMap{"b": info},
	}
}

func TestLoadUnknownModelFails(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.Load(context.Background(), backend.BackendConfig{"model": "missing"})
	assert.Error(t, err)
}

func TestEchoModelRoundTrips(t *testing.T) {
	rt := NewRuntime()
	rt.Register("dummy", echoSpec())

	m, err := rt.Load(context.Background(), backend.BackendConfig{"model": "dummy"})
	require.NoError(t, err)

	slots, err := m.CreateSlots(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	in := tensor.NewFP32([]int64{1}, []float32{42})
	out, err := slots[0].Infer(context.Background(), map[string]tensor.Tensor{"b": in})
	require.NoError(t, err)

	vals, err := out["b"].Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{42}, vals)
}

func TestInferAsyncDeliversResultOnCallback(t *testing.T) {
	rt := NewRuntime()
	rt.Register("dummy", echoSpec())
	m, err := rt.Load(context.Background(), backend.BackendConfig{"model": "dummy"})
	require.NoError(t, err)
	slots, err := m.CreateSlots(context.Background(), 1)
	require.NoError(t, err)

	in := tensor.NewFP32([]int64{1}, []float32{7})
	done := make(chan map[string]tensor.Tensor, 1)
	slots[0].InferAsync(context.Background(), map[string]tensor.Tensor{"b": in}, func(out map[string]tensor.Tensor, err error) {
		require.NoError(t, err)
		done <- out
	})
	out := <-done
	vals, err := out["b"].Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, vals)
}

func TestClosedExecutorRejectsInfer(t *testing.T) {
	rt := NewRuntime()
	rt.Register("dummy", echoSpec())
	m, err := rt.Load(context.Background(), backend.BackendConfig{"model": "dummy"})
	require.NoError(t, err)
	slots, err := m.CreateSlots(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, slots[0].Close())
	_, err = slots[0].Infer(context.Background(), map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{1})})
	assert.Error(t, err)
}

func TestReshapeUpdatesInputShape(t *testing.T) {
	rt := NewRuntime()
	rt.Register("dummy", echoSpec())
	m, err := rt.Load(context.Background(), backend.BackendConfig{"model": "dummy"})
	require.NoError(t, err)

	newShape := tensor.Shape{tensor.Static(4)}
	require.NoError(t, m.Reshape(context.Background(), map[string]tensor.Shape{"b": newShape}))
	assert.Equal(t, newShape, m.Inputs()["b"].Shape)
}

func TestComputeFunctionOverridesEcho(t *testing.T) {
	rt := NewRuntime()
	spec := echoSpec()
	spec.Compute = func(inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		vals, _ := inputs["b"].Float32Values()
		return map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{vals[0] * 2})}, nil
	}
	rt.Register("doubler", spec)

	m, err := rt.Load(context.Background(), backend.BackendConfig{"model": "doubler"})
	require.NoError(t, err)
	slots, err := m.CreateSlots(context.Background(), 1)
	require.NoError(t, err)

	out, err := slots[0].Infer(context.Background(), map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{1}, []float32{5})})
	require.NoError(t, err)
	vals, _ := out["b"].Float32Values()
	assert.Equal(t, []float32{10}, vals)
}
