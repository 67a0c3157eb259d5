package model

import (
	"context"
	"sort"
	"sync"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

// Model owns every version of one model name (§4.5).
type Model struct {
	Name string

	fs      storage.FilesystemAdapter
	runtime backend.Runtime
	subs    *subscription.Table

	mu       sync.RWMutex
	versions map[int64]*Instance
}

// NewModel creates an empty Model ready for ApplyVersions.
func NewModel(name string, runtime backend.Runtime, fs storage.FilesystemAdapter, subs *subscription.Table) *Model {
	return &Model{Name: name, runtime: runtime, fs: fs, subs: subs}
}

// ChangedEvent is published on the shared subscription table, keyed by
// bare model name, whenever ApplyVersions starts, reloads, or retires any
// version -- the "UsedModelChanged" signal a PipelineDefinition
// subscribes to so it knows to re-validate (§4.9, I4).
type ChangedEvent struct {
	Name string
}

// VersionDiff is the set of per-version operations ApplyVersions performs,
// computed by the registry's diff algorithm (§4.6).
type VersionDiff struct {
	Start  map[int64]Config
	Reload map[int64]Config
	Retire []int64
}

// ApplyVersions resolves diff against the current version map: starts new
// versions (Load), reloads changed ones, and retires dropped ones. Start
// failures are reported per-version so the registry can drop them from
// the served set and recompute (the bounded retry named in §4.6).
func (m *Model) ApplyVersions(ctx context.Context, diff VersionDiff) map[int64]error {
	failures := make(map[int64]error)

	for version, cfg := range diff.Start {
		inst := NewInstance(m.Name, version, m.runtime, m.fs, m.subs)
		if err := inst.Load(ctx, cfg); err != nil {
			failures[version] = err
		}
		m.mu.Lock()
		if m.versions == nil {
			m.versions = make(map[int64]*Instance)
		}
		m.versions[version] = inst
		m.mu.Unlock()
	}

	for version, cfg := range diff.Reload {
		m.mu.RLock()
		inst, ok := m.versions[version]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := inst.Reload(ctx, cfg); err != nil {
			failures[version] = err
		}
	}

	for _, version := range diff.Retire {
		m.mu.RLock()
		inst, ok := m.versions[version]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		inst.Retire(ctx, true)
	}

	if m.subs != nil {
		m.subs.Notify(m.Name, ChangedEvent{Name: m.Name})
	}

	return failures
}

// DefaultVersion returns the numerically greatest version currently
// AVAILABLE, or 0 if none is.
func (m *Model) DefaultVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best int64
	found := false
	for v, inst := range m.versions {
		if inst.Status() == StatusAvailable && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best
}

// Get returns the Instance for version, or the default version's
// Instance if version == 0. Returns nil if no AVAILABLE version exists
// (for version == 0) or the named version was never registered.
func (m *Model) Get(version int64) *Instance {
	if version == 0 {
		version = m.DefaultVersion()
		if version == 0 {
			return nil
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[version]
}

// Versions returns every version number currently registered (any
// status), sorted ascending.
func (m *Model) Versions() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.versions))
	for v := range m.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasAvailableVersion reports whether at least one version is AVAILABLE,
// used by PipelineDefinition validation rule 2 (§4.9).
func (m *Model) HasAvailableVersion() bool {
	return m.DefaultVersion() != 0
}
