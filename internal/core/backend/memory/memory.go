// Package memory implements an in-process reference backend.Runtime used
// by the engine's own tests and by operators running the dummy model
// referenced throughout spec.md §8's scenarios. It performs no real
// inference: each output tensor is either copied from the identically
// named input (an "echo" pass-through, handy for shape/reshape tests) or,
// if absent from inputs, produced by a user-supplied compute function.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// Compute produces an output tensor set from an input tensor set. Models
// registered without a Compute function behave as pure echo/pass-through.
type Compute func(inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error)

// Spec describes one in-memory model definition.
type Spec struct {
	Inputs  backend.TensorMap
	Outputs backend.TensorMap
	Compute Compute
}

// Runtime is a backend.Runtime keyed by the "model" field of the
// BackendConfig passed to Load.
type Runtime struct {
	mu     sync.RWMutex
	models map[string]Spec
}

// NewRuntime builds an empty in-memory runtime; register models with
// Register before any Load call references them.
func NewRuntime() *Runtime {
	return &Runtime{models: make(map[string]Spec)}
}

// Register adds or replaces the Spec served under name.
func (r *Runtime) Register(name string, spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = spec
}

func (r *Runtime) Load(ctx context.Context, cfg backend.BackendConfig) (backend.BackendModel, error) {
	name, _ := cfg["model"].(string)
	r.mu.RLock()
	spec, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory backend: no model registered under %q", name)
	}
	return &model{spec: spec}, nil
}

var _ backend.Runtime = (*Runtime)(nil)

type model struct {
	mu   sync.RWMutex
	spec Spec
}

func (m *model) Inputs() backend.TensorMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTensorMap(m.spec.Inputs)
}

func (m *model) Outputs() backend.TensorMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTensorMap(m.spec.Outputs)
}

func (m *model) Reshape(ctx context.Context, shapes map[string]tensor.Shape) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, shape := range shapes {
		info, ok := m.spec.Inputs[name]
		if !ok {
			return fmt.Errorf("memory backend: reshape references unknown input %q", name)
		}
		info.Shape = shape
		m.spec.Inputs[name] = info
	}
	return nil
}

func (m *model) CreateSlots(ctx context.Context, n int) ([]backend.Executor, error) {
	execs := make([]backend.Executor, n)
	for i := range execs {
		execs[i] = &executor{model: m}
	}
	return execs, nil
}

func (m *model) Close() error { return nil }

type executor struct {
	model  *model
	mu     sync.Mutex
	closed bool
}

func (e *executor) Infer(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("memory backend: executor closed")
	}

	e.model.mu.RLock()
	compute := e.model.spec.Compute
	outNames := e.model.spec.Outputs
	e.model.mu.RUnlock()

	if compute != nil {
		return compute(inputs)
	}

	out := make(map[string]tensor.Tensor, len(outNames))
	for name := range outNames {
		if t, ok := inputs[name]; ok {
			out[name] = t
			continue
		}
		return nil, fmt.Errorf("memory backend: no compute function and no matching input for output %q", name)
	}
	return out, nil
}

func (e *executor) InferAsync(ctx context.Context, inputs map[string]tensor.Tensor, done func(map[string]tensor.Tensor, error)) {
	go func() {
		out, err := e.Infer(ctx, inputs)
		done(out, err)
	}()
}

func (e *executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func cloneTensorMap(m backend.TensorMap) backend.TensorMap {
	out := make(backend.TensorMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
