package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/backend/memory"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
	"github.com/inferencemesh/modelmesh/pkg/engine"
)

func echoModelSpec() memory.Spec {
	info := tensor.TensorInfo{Name: "b", ElementType: tensor.FP32, Shape: tensor.Shape{tensor.AnyDim()}}
	return memory.Spec{Inputs: backend.TensorMap{"b": info}, Outputs: backend.TensorMap{"b": info}}
}

func TestPollerApplyOnceLoadsModelAndPipeline(t *testing.T) {
	modelDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(modelDir, "1"), 0o755))

	yaml := `
poll_interval_seconds: 1
models:
  - name: m1
    base_path: ` + modelDir + `
    nireq: 1
pipelines:
  - name: p1
    nodes:
      - name: entry
        kind: ENTRY
      - name: n1
        kind: DL
        model_name: m1
      - name: exit
        kind: EXIT
    connections:
      - from_node: entry
        from_output: b
        to_node: n1
        to_input: b
    outputs:
      - alias: b
        source_node: n1
        source_output: b
`
	path := writeYAML(t, yaml)

	rt := memory.NewRuntime()
	rt.Register("m1", echoModelSpec())
	reg := registry.New(rt, storage.NewLocalAdapter(), subscription.New())
	eng := engine.New(reg, engine.Options{SlotTimeout: time.Second, PipelineDeadline: time.Second})

	poller := NewPoller(NewFileSource(path), storage.NewLocalAdapter(), eng)
	modelErrs, pipelineErrs, err := poller.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, modelErrs)
	assert.Empty(t, pipelineErrs)

	req := map[string]tensor.Tensor{"b": tensor.NewFP32([]int64{3}, []float32{1, 2, 3})}
	out, err := eng.PredictPipeline(context.Background(), "p1", time.Second, req)
	require.NoError(t, err)
	got, err := out["b"].Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)
}

func TestPollerApplyOnceReportsBadModelEntryWithoutFailingSource(t *testing.T) {
	yaml := `
poll_interval_seconds: 1
models:
  - name: missing
    base_path: /does/not/exist
`
	path := writeYAML(t, yaml)

	rt := memory.NewRuntime()
	reg := registry.New(rt, storage.NewLocalAdapter(), subscription.New())
	eng := engine.New(reg, engine.Options{})

	poller := NewPoller(NewFileSource(path), storage.NewLocalAdapter(), eng)
	modelErrs, _, err := poller.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, modelErrs, "missing")
}
