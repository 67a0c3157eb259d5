// Package registry implements ModelRegistry (C6): it owns every Model by
// name, computes the reload-diff (start/reload/retire) against a desired
// configuration snapshot, and applies it. Grounded on the teacher's
// DefaultConfigComparator set-diff shape (internal/config/update_diff.go),
// adapted from a field-path diff to a model-version-set diff.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/model"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

// PipelineSubscriber reports whether a model name is currently referenced
// by any pipeline definition. Injected rather than imported directly
// (pipelinedef depends on registry, not the reverse) so the cross-pass
// gating in §4.6 can consult it without a package cycle.
type PipelineSubscriber interface {
	IsReferencedByPipeline(modelName string) bool
}

// Diff is one model's start/reload/retire sets (§4.6).
type Diff struct {
	Start  map[int64]model.Config
	Reload map[int64]model.Config
	Retire []int64
}

// Registry owns every Model by name (ModelRegistry, §4.6).
type Registry struct {
	runtime backend.Runtime
	fs      storage.FilesystemAdapter
	subs    *subscription.Table
	pipe    PipelineSubscriber

	mu     sync.RWMutex
	models map[string]*model.Model
	// applied mirrors the last successfully-applied config per
	// (name, version), used purely to compute the next diff; it is
	// intentionally separate from Model's own state since a failed
	// version stays in Model.versions as LOADING_FAILED but must not be
	// treated as "currently served" for diffing purposes.
	applied map[string]map[int64]model.Config
}

// New creates an empty Registry. SetPipelineSubscriber must be called
// before the first ApplyDiff if dynamic-reshape gating (§4.6) is needed;
// a nil subscriber disables that check.
func New(runtime backend.Runtime, fs storage.FilesystemAdapter, subs *subscription.Table) *Registry {
	return &Registry{
		runtime: runtime,
		fs:      fs,
		subs:    subs,
		models:  make(map[string]*model.Model),
		applied: make(map[string]map[int64]model.Config),
	}
}

// SetPipelineSubscriber wires the cross-pass gating collaborator.
func (r *Registry) SetPipelineSubscriber(p PipelineSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipe = p
}

// Get returns the Model registered under name, or nil.
func (r *Registry) Get(name string) *model.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// Subscriptions returns the subscription table shared by every Model and
// ModelInstance this registry owns, so a PipelineDefinition can subscribe
// to a referenced model's ChangedEvent without the registry needing to
// know anything about pipelines (§4.9's UsedModelChanged signal).
func (r *Registry) Subscriptions() *subscription.Table {
	return r.subs
}

// Resolve looks up a loaded model instance by name and version,
// satisfying dag.ModelResolver so a Pipeline can dispatch DL nodes
// directly against this registry.
func (r *Registry) Resolve(name string, version int64) *model.Instance {
	m := r.Get(name)
	if m == nil {
		return nil
	}
	return m.Get(version)
}

// Names returns every currently registered model name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for n := range r.models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Failures is the result of ApplyDiff: per-model, per-version errors
// encountered while starting or reloading a version.
type Failures map[string]map[int64]error

func (f Failures) add(name string, version int64, err error) {
	if f[name] == nil {
		f[name] = make(map[int64]error)
	}
	f[name][version] = err
}

// ApplyDiff resolves desired (name -> version -> Config) against the
// currently-applied state and applies start/reload/retire per model. If
// any version fails to start, the registry recomputes the diff exactly
// once with those versions excluded from desired and applies again,
// before returning the (now final) set of failures -- the bounded retry
// named in §4.6, rather than looping indefinitely.
func (r *Registry) ApplyDiff(ctx context.Context, desired map[string]map[int64]model.Config) Failures {
	failures := r.applyOnce(ctx, desired)
	if len(failures) == 0 {
		return failures
	}

	retryDesired := cloneDesired(desired)
	for name, versions := range failures {
		for version := range versions {
			delete(retryDesired[name], version)
		}
	}
	more := r.applyOnce(ctx, retryDesired)
	for name, versions := range more {
		for version, err := range versions {
			failures.add(name, version, err)
		}
	}
	return failures
}

func cloneDesired(in map[string]map[int64]model.Config) map[string]map[int64]model.Config {
	out := make(map[string]map[int64]model.Config, len(in))
	for name, versions := range in {
		vc := make(map[int64]model.Config, len(versions))
		for v, cfg := range versions {
			vc[v] = cfg
		}
		out[name] = vc
	}
	return out
}

func (r *Registry) applyOnce(ctx context.Context, desired map[string]map[int64]model.Config) Failures {
	failures := make(Failures)

	r.mu.Lock()
	names := make(map[string]struct{}, len(desired)+len(r.models))
	for n := range desired {
		names[n] = struct{}{}
	}
	for n := range r.models {
		names[n] = struct{}{}
	}
	r.mu.Unlock()

	for name := range names {
		wantVersions := desired[name]

		if err := r.checkDynamicReshapeGating(name, wantVersions); err != nil {
			failures.add(name, 0, err)
			continue
		}

		r.mu.Lock()
		m, ok := r.models[name]
		if !ok {
			m = model.NewModel(name, r.runtime, r.fs, r.subs)
			r.models[name] = m
		}
		applied := r.applied[name]
		if applied == nil {
			applied = make(map[int64]model.Config)
			r.applied[name] = applied
		}
		r.mu.Unlock()

		diff := computeDiff(applied, wantVersions)
		errs := m.ApplyVersions(ctx, model.VersionDiff{Start: diff.Start, Reload: diff.Reload, Retire: diff.Retire})

		r.mu.Lock()
		for v, cfg := range diff.Start {
			if _, failed := errs[v]; !failed {
				r.applied[name][v] = cfg
			}
		}
		for v, cfg := range diff.Reload {
			if _, failed := errs[v]; !failed {
				r.applied[name][v] = cfg
			}
		}
		for _, v := range diff.Retire {
			delete(r.applied[name], v)
		}
		r.mu.Unlock()

		for v, err := range errs {
			failures.add(name, v, err)
		}
	}

	return failures
}

func (r *Registry) checkDynamicReshapeGating(name string, wantVersions map[int64]model.Config) error {
	r.mu.RLock()
	pipe := r.pipe
	r.mu.RUnlock()
	if pipe == nil {
		return nil
	}
	for _, cfg := range wantVersions {
		if cfg.Batch.Auto && pipe.IsReferencedByPipeline(name) {
			return status.Newf(status.RequestedDynamicParametersOnSubscribedModel,
				"model %q requests dynamic batch but is referenced by a pipeline", name)
		}
	}
	return nil
}

// computeDiff implements §4.6's start/reload/retire set algorithm for one
// model: start = requested \ applied; reload = intersection where the
// config's shape-affecting fields changed; retire = applied \ requested.
func computeDiff(applied map[int64]model.Config, requested map[int64]model.Config) Diff {
	diff := Diff{Start: make(map[int64]model.Config), Reload: make(map[int64]model.Config)}

	for v, cfg := range requested {
		prev, exists := applied[v]
		switch {
		case !exists:
			diff.Start[v] = cfg
		case !prev.ShapeEqual(cfg):
			diff.Reload[v] = cfg
		}
	}
	for v := range applied {
		if _, stillWanted := requested[v]; !stillWanted {
			diff.Retire = append(diff.Retire, v)
		}
	}
	sort.Slice(diff.Retire, func(i, j int) bool { return diff.Retire[i] < diff.Retire[j] })
	return diff
}
