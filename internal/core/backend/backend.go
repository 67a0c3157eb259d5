// Package backend defines the opaque seam between the orchestration core
// and the native inference runtime (§4.3). The engine never interprets
// backend internals: it loads a BackendModel from a BackendConfig, asks
// it for input/output metadata, requests a reshape when the validator
// demands one, and materializes per-slot Executors for the slot pool.
//
// Interface-first, no concrete implementation baked in here, mirroring
// the teacher's internal/infrastructure/cache.Cache seam: the contract is
// defined before any backing implementation exists.
package backend

import (
	"context"

	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// BackendConfig is an opaque bundle of backend-specific settings (device
// targeting, plugin config, remote-tensor contexts) that the engine
// passes through without interpreting.
type BackendConfig map[string]any

// TensorMap names a set of TensorInfo by tensor name, as returned by
// BackendModel.Inputs/Outputs.
type TensorMap map[string]tensor.TensorInfo

// Executor is a slot-bound inference handle: one per InferSlotPool slot,
// capable of running exactly one inference at a time.
type Executor interface {
	// Infer runs synchronously against the given input tensors and
	// returns the output tensors, or an error (surfaced by the caller as
	// status.InternalError per §4.4's failure semantics).
	Infer(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error)

	// InferAsync dispatches the inference and returns immediately; done
	// is invoked exactly once on a backend-managed thread when the
	// result (or error) is ready. Callers must not take any
	// core-internal lock inside done (§9's reload-lock note).
	InferAsync(ctx context.Context, inputs map[string]tensor.Tensor, done func(map[string]tensor.Tensor, error))

	// Close releases any backend-side resources bound to this executor.
	Close() error
}

// BackendModel is a compiled, loaded model ready to produce slot-bound
// Executors.
type BackendModel interface {
	// Inputs and Outputs expose the model's declared tensor metadata,
	// used by the engine to build TensorInfo intersections.
	Inputs() TensorMap
	Outputs() TensorMap

	// Reshape requests the backend adapt to the given concrete shapes,
	// keyed by tensor name. Returns an error if the backend cannot
	// support the requested shape (surfaced as status.InvalidShape by
	// the caller).
	Reshape(ctx context.Context, shapes map[string]tensor.Shape) error

	// CreateSlots materializes n independent Executors bound to this
	// model, one per InferSlotPool slot.
	CreateSlots(ctx context.Context, n int) ([]Executor, error)

	// Close releases the compiled model and all resources it holds.
	// Callers must have already closed every Executor it produced.
	Close() error
}

// Runtime compiles a BackendConfig into a BackendModel. It is the single
// entry point a ModelInstance uses to go from on-disk model files (routed
// through a storage.FilesystemAdapter upstream) to a loaded model.
type Runtime interface {
	Load(ctx context.Context, cfg BackendConfig) (BackendModel, error)
}

// ModelBlob is the opaque result of a CustomLoader fetch: raw model bytes
// plus a format hint, left for the Runtime to interpret.
type ModelBlob struct {
	Format string
	Data   []byte
}

// CustomLoader is the thin, registrable plugin point standing in for the
// native custom-model-loader ABI (out of scope in full, per spec.md §1).
// It lets an operator name an alternate model source (e.g. a model
// registry service) without the engine knowing anything beyond "give me
// bytes for this name".
type CustomLoader interface {
	Load(ctx context.Context, name string, cfg map[string]any) (ModelBlob, error)
}
