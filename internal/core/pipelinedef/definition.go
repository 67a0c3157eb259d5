package pipelinedef

import (
	"context"
	"sync"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/executor"
	"github.com/inferencemesh/modelmesh/internal/core/pipeline"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
)

// Definition is a PipelineDefinition (§4.9): immutable graph description
// plus a mutable lifecycle status, condvar-waitable the same way
// model.Instance's status is (statusCh closed-and-replaced on every
// transition), so create() can block a caller up to a deadline the same
// way wait_for_available does.
type Definition struct {
	Name        string
	Nodes       []dag.NodeInfo
	Connections []dag.Connection
	ExecOptions executor.Options

	mu       sync.Mutex
	status   Status
	statusCh chan struct{}
	graph    *dag.Graph

	subTable *subscription.Table
	subIDs   []subscription.SubID
	modelSet map[string]bool
}

// New creates a Definition in BEGIN state. Call Validate before any
// Create call can succeed.
func New(name string, nodes []dag.NodeInfo, connections []dag.Connection, opts executor.Options, subTable *subscription.Table) *Definition {
	return &Definition{
		Name:        name,
		Nodes:       nodes,
		Connections: connections,
		ExecOptions: opts,
		status:      StatusBegin,
		statusCh:    make(chan struct{}),
		subTable:    subTable,
		modelSet:    make(map[string]bool),
	}
}

func (d *Definition) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Definition) setStatusLocked(s Status) {
	d.status = s
	close(d.statusCh)
	d.statusCh = make(chan struct{})
}

// Validate runs the full §4.9 check list against reg and transitions to
// AVAILABLE or LOADING_PRECONDITION_FAILED. It re-subscribes to every
// referenced model's ChangedEvent so a later model status change
// triggers automatic re-validation (I4), dropping any subscriptions held
// from a previous validate pass first.
func (d *Definition) Validate(ctx context.Context, reg *registry.Registry) error {
	d.mu.Lock()
	d.setStatusLocked(StatusValidating)
	d.mu.Unlock()

	graph, err := dag.BuildGraph(d.Nodes, d.Connections)
	if err == nil {
		err = checkModelRules(graph, reg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.graph = nil
		d.setStatusLocked(StatusLoadingPreconditionFailed)
		d.resubscribeLocked(reg, collectModelNames(d.Nodes))
		return err
	}
	d.graph = graph
	d.setStatusLocked(StatusAvailable)
	d.resubscribeLocked(reg, collectModelNames(d.Nodes))
	return nil
}

func collectModelNames(nodes []dag.NodeInfo) map[string]bool {
	set := make(map[string]bool)
	for _, n := range nodes {
		if n.Kind == dag.KindDL {
			set[n.ModelName] = true
		}
	}
	return set
}

func (d *Definition) resubscribeLocked(reg *registry.Registry, modelNames map[string]bool) {
	if d.subTable == nil {
		return
	}
	for _, id := range d.subIDs {
		d.subTable.Unsubscribe(id)
	}
	d.subIDs = d.subIDs[:0]
	for name := range modelNames {
		id := d.subTable.Subscribe(name, d.onModelChanged(reg))
		d.subIDs = append(d.subIDs, id)
	}
	d.modelSet = modelNames
}

// onModelChanged is invoked (possibly concurrently, from the
// subscription table's notify fanout) whenever a referenced model
// starts, reloads, or retires a version. It re-validates in the
// background so a status transition reaches AVAILABLE or
// LOADING_PRECONDITION_FAILED without the caller polling.
func (d *Definition) onModelChanged(reg *registry.Registry) subscription.Observer {
	return func(event any) {
		go func() { _ = d.Validate(context.Background(), reg) }()
	}
}

// IsReferencedByPipeline reports whether modelName is one of this
// definition's currently validated DL node models, satisfying
// registry.PipelineSubscriber for a single definition; PipelineRegistry
// aggregates this across every definition it owns.
func (d *Definition) IsReferencedByPipeline(modelName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status == StatusAvailable && d.modelSet[modelName]
}

// Create blocks up to deadline for status to leave a transient state and
// builds a Pipeline bound to reg, per §4.9's create() contract.
func (d *Definition) Create(ctx context.Context, reg *registry.Registry, deadline time.Duration) (*pipeline.Pipeline, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		d.mu.Lock()
		st := d.status
		ch := d.statusCh
		graph := d.graph
		d.mu.Unlock()

		switch st {
		case StatusAvailable:
			return pipeline.New(d.Name, graph, reg, d.ExecOptions), nil
		case StatusRetired:
			return nil, status.Newf(status.PipelineDefinitionNotLoadedAnymore, "pipeline %q is retired", d.Name)
		}

		select {
		case <-ch:
			continue
		case <-timer.C:
			return nil, status.Newf(status.PipelineDefinitionNotLoadedYet, "pipeline %q is not loaded yet", d.Name)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Retire transitions to RETIRED and drops every model subscription. Any
// Pipeline already created via Create keeps its own *dag.Graph copy and
// is unaffected (§I5).
func (d *Definition) Retire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setStatusLocked(StatusRetired)
	if d.subTable != nil {
		for _, id := range d.subIDs {
			d.subTable.Unsubscribe(id)
		}
	}
	d.subIDs = nil
	d.modelSet = nil
}
