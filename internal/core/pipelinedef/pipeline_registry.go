package pipelinedef

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/executor"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
)

// Desc is one pipeline's requested configuration: its node list and
// connections, as delivered by a config source.
type Desc struct {
	Nodes       []dag.NodeInfo
	Connections []dag.Connection
	ExecOptions executor.Options
}

// PipelineRegistry owns name -> Definition (§4.10) and is itself the
// registry.PipelineSubscriber the ModelRegistry's dynamic-reshape gating
// consults (§4.6): a model is "referenced by a pipeline" iff some owned
// Definition currently validates against it.
type PipelineRegistry struct {
	reg      *registry.Registry
	subTable *subscription.Table

	mu          sync.RWMutex
	definitions map[string]*Definition
	applied     map[string]Desc
}

// New creates an empty PipelineRegistry bound to reg, whose Subscriptions
// table is reused for model-change notifications.
func New(reg *registry.Registry) *PipelineRegistry {
	return &PipelineRegistry{
		reg:         reg,
		subTable:    reg.Subscriptions(),
		definitions: make(map[string]*Definition),
		applied:     make(map[string]Desc),
	}
}

// Get returns the Definition registered under name, or nil.
func (pr *PipelineRegistry) Get(name string) *Definition {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return pr.definitions[name]
}

// Names returns the currently registered pipeline definition names.
func (pr *PipelineRegistry) Names() []string {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	names := make([]string, 0, len(pr.definitions))
	for n := range pr.definitions {
		names = append(names, n)
	}
	return names
}

// IsReferencedByPipeline implements registry.PipelineSubscriber: true iff
// any owned definition's last successful validation used modelName.
func (pr *PipelineRegistry) IsReferencedByPipeline(modelName string) bool {
	pr.mu.RLock()
	defs := make([]*Definition, 0, len(pr.definitions))
	for _, d := range pr.definitions {
		defs = append(defs, d)
	}
	pr.mu.RUnlock()

	for _, d := range defs {
		if d.IsReferencedByPipeline(modelName) {
			return true
		}
	}
	return false
}

// ApplyDiff resolves desired (name -> Desc) against the currently applied
// set: create = requested \ existing; reload = intersection where nodes/
// connections/exec options changed (the old definition is retired, a
// fresh one replaces it, in-flight Pipelines from the old one keep
// running per §I5); retire = existing \ requested. Every created or
// reloaded definition is validated immediately.
func (pr *PipelineRegistry) ApplyDiff(ctx context.Context, desired map[string]Desc) map[string]error {
	failures := make(map[string]error)

	pr.mu.Lock()
	names := make(map[string]struct{}, len(desired)+len(pr.definitions))
	for n := range desired {
		names[n] = struct{}{}
	}
	for n := range pr.definitions {
		names[n] = struct{}{}
	}
	pr.mu.Unlock()

	sortedNames := make([]string, 0, len(names))
	for n := range names {
		sortedNames = append(sortedNames, n)
	}
	sort.Strings(sortedNames)

	for _, name := range sortedNames {
		want, wantOK := desired[name]

		pr.mu.RLock()
		existing, existOK := pr.definitions[name]
		prevDesc, prevOK := pr.applied[name]
		pr.mu.RUnlock()

		switch {
		case wantOK && !existOK:
			def := New(name, want.Nodes, want.Connections, want.ExecOptions, pr.subTable)
			if err := def.Validate(ctx, pr.reg); err != nil {
				failures[name] = err
			}
			pr.mu.Lock()
			pr.definitions[name] = def
			pr.applied[name] = want
			pr.mu.Unlock()

		case wantOK && existOK:
			if prevOK && descEqual(prevDesc, want) {
				continue
			}
			existing.Retire()
			def := New(name, want.Nodes, want.Connections, want.ExecOptions, pr.subTable)
			if err := def.Validate(ctx, pr.reg); err != nil {
				failures[name] = err
			}
			pr.mu.Lock()
			pr.definitions[name] = def
			pr.applied[name] = want
			pr.mu.Unlock()

		case !wantOK && existOK:
			existing.Retire()
			pr.mu.Lock()
			delete(pr.definitions, name)
			delete(pr.applied, name)
			pr.mu.Unlock()
		}
	}

	return failures
}

func descEqual(a, b Desc) bool {
	return reflect.DeepEqual(a.Nodes, b.Nodes) && reflect.DeepEqual(a.Connections, b.Connections) &&
		reflect.DeepEqual(a.ExecOptions, b.ExecOptions)
}
