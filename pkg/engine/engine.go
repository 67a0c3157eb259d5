// Package engine is the facade a transport layer calls into: it owns the
// ModelRegistry and PipelineRegistry, wires the dynamic-reshape gating
// between them, and implements the single-model predict path (request
// validation, auto batch/shape reshape-then-retry, inference) on top of
// model.Instance. Grounded on cmd/server/main.go's top-level wiring
// style (construct collaborators, hand them to the transport layer) and
// internal/api/services's facade-over-repository shape, adapted from a
// DB-backed service to one fronting the in-memory model/pipeline state.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/pipelinedef"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/core/validate"
	"github.com/inferencemesh/modelmesh/internal/metrics"
)

// Options configures timeouts and the default ReshapePolicy applied to a
// model with no explicit per-model override.
type Options struct {
	// SlotTimeout bounds how long Predict waits for a model version to
	// become AVAILABLE and for a free inference slot.
	SlotTimeout time.Duration
	// PipelineDeadline bounds PredictPipeline's total execution time.
	PipelineDeadline time.Duration
	// DefaultPolicy applies to any model without an explicit SetPolicy call.
	DefaultPolicy validate.Policy
	// Metrics receives request/reshape/pipeline observations; nil disables
	// all metrics recording.
	Metrics *metrics.Collectors
}

func (o Options) withDefaults() Options {
	if o.SlotTimeout <= 0 {
		o.SlotTimeout = 5 * time.Second
	}
	if o.PipelineDeadline <= 0 {
		o.PipelineDeadline = 10 * time.Second
	}
	return o
}

// Engine wires ModelRegistry (C6) and PipelineRegistry (C10) together and
// exposes the two request paths spec.md §4 describes: direct single-model
// inference and pipeline execution.
type Engine struct {
	Models    *registry.Registry
	Pipelines *pipelinedef.PipelineRegistry
	opts      Options

	mu       sync.RWMutex
	policies map[string]validate.Policy
}

// New builds an Engine around an already-constructed ModelRegistry,
// creates its PipelineRegistry, and wires the registry's dynamic-reshape
// gating (§4.6) to consult it -- a model cannot switch to auto batching
// while any pipeline definition currently depends on it.
func New(models *registry.Registry, opts Options) *Engine {
	pipelines := pipelinedef.New(models)
	models.SetPipelineSubscriber(pipelines)
	return &Engine{
		Models:    models,
		Pipelines: pipelines,
		opts:      opts.withDefaults(),
		policies:  make(map[string]validate.Policy),
	}
}

// SetPolicy installs the ReshapePolicy applied to requests against
// modelName. Call before traffic starts arriving for that model; there
// is no synchronization with in-flight Predict calls beyond the mutex
// guarding the policy map itself.
func (e *Engine) SetPolicy(modelName string, p validate.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[modelName] = p
}

func (e *Engine) policyFor(modelName string) validate.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[modelName]; ok {
		return p
	}
	return e.opts.DefaultPolicy
}

// Predict runs the single-model request path (§4.11): validate the
// request against the model's declared inputs, reshape-then-retry once
// if the ReshapePolicy demands it, then run inference. version == 0
// resolves to the model's current default version.
func (e *Engine) Predict(ctx context.Context, modelName string, version int64, request map[string]tensor.Tensor) (out map[string]tensor.Tensor, err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.ObserveRequest(modelName, start, err) }()

	m := e.Models.Get(modelName)
	if m == nil {
		return nil, status.Newf(status.ModelNameMissing, "model %q is not registered", modelName)
	}
	inst := m.Get(version)
	if inst == nil {
		if version == 0 {
			return nil, status.Newf(status.ModelVersionNotLoadedYet, "model %q has no AVAILABLE version", modelName)
		}
		return nil, status.Newf(status.ModelVersionMissing, "model %q version %d is not registered", modelName, version)
	}

	declared := inst.Inputs()
	policy := e.policyFor(modelName)

	result := validate.Validate(declared, policy, request)
	switch result.Decision {
	case validate.DecisionInvalid:
		return nil, result.Err
	case validate.DecisionBatchSizeChangeRequired, validate.DecisionReshapeRequired:
		e.opts.Metrics.ObserveReshape(modelName)
		if err := inst.Reshape(ctx, result.ShapeOverrides); err != nil {
			return nil, err
		}
	}

	return inst.Infer(ctx, request, e.opts.SlotTimeout)
}

// PredictPipeline resolves definitionName and runs it to completion
// (§4.8/§4.9's create() + execute() pair), building a fresh Pipeline
// bound to the current ModelRegistry on every call: a pipeline carries
// no cross-request state beyond what one request's session produces.
func (e *Engine) PredictPipeline(ctx context.Context, definitionName string, createDeadline time.Duration, request map[string]tensor.Tensor) (out map[string]tensor.Tensor, err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.ObservePipeline(definitionName, start, err) }()

	def := e.Pipelines.Get(definitionName)
	if def == nil {
		return nil, status.Newf(status.PipelineDefinitionNameMissing, "pipeline %q is not registered", definitionName)
	}
	if createDeadline <= 0 {
		createDeadline = e.opts.SlotTimeout
	}
	pl, err := def.Create(ctx, e.Models, createDeadline)
	if err != nil {
		return nil, err
	}
	return pl.Execute(ctx, request, e.opts.PipelineDeadline)
}

// ApplyPipelines applies a desired pipeline definition set to the
// PipelineRegistry, returning per-definition validation failures.
func (e *Engine) ApplyPipelines(ctx context.Context, desired map[string]pipelinedef.Desc) map[string]error {
	return e.Pipelines.ApplyDiff(ctx, desired)
}

// CollectRegistryGauges refreshes the point-in-time model/pipeline count
// gauges. Call periodically (e.g. from a CLI's metrics-serve loop).
func (e *Engine) CollectRegistryGauges() {
	loaded := 0
	for _, name := range e.Models.Names() {
		if m := e.Models.Get(name); m != nil && m.HasAvailableVersion() {
			loaded++
		}
	}
	e.opts.Metrics.SetRegistryGauges(loaded, len(e.Pipelines.Names()))
}
