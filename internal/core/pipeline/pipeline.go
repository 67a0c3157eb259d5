// Package pipeline implements Pipeline (C8): one concrete, executable
// instance of a validated graph. Grounded on
// original_source/src/pipeline.cpp for the name and shape of the type
// (the disabled legacy path, used only as a naming reference) and on the
// active src/dags/* design spec.md §9 calls out as the one actually to
// follow for execution semantics, which is internal/core/executor.
package pipeline

import (
	"context"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/executor"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// Pipeline owns its own resolved graph, independent of whatever
// PipelineDefinition built it: once created, a Pipeline's nodes are never
// mutated or freed out from under an in-flight execute() by the
// definition retiring (§I5). The definition is retained only so the
// pipeline's name/source is traceable; Pipeline never calls back into it.
type Pipeline struct {
	DefinitionName string
	Graph          *dag.Graph
	Resolver       dag.ModelResolver
	Options        executor.Options
}

// New builds a Pipeline bound to graph (already validated) and resolver
// (a live model lookup, typically a *registry.Registry).
func New(definitionName string, graph *dag.Graph, resolver dag.ModelResolver, opts executor.Options) *Pipeline {
	return &Pipeline{DefinitionName: definitionName, Graph: graph, Resolver: resolver, Options: opts}
}

// Execute runs the pipeline to completion (§4.8): create the Entry's
// session, run the executor loop until Exit completes or a node reports
// a non-recoverable error, and return the first non-OK status observed.
func (p *Pipeline) Execute(ctx context.Context, request map[string]tensor.Tensor, deadline time.Duration) (map[string]tensor.Tensor, error) {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	return executor.Execute(ctx, p.Graph, p.Resolver, request, p.Options)
}
