package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/slotpool"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

// BatchSize is either a fixed value or "auto" (the model adapts its batch
// dimension on demand, subject to ReshapePolicy).
type BatchSize struct {
	Auto  bool
	Value int64
}

// Config is the shape-affecting and loading configuration of one model
// version, as delivered by a config source (spec.md §6).
type Config struct {
	BasePath       string
	Device         string
	Batch          BatchSize
	Nireq          int
	ShapeOverrides map[string]tensor.Shape
	Layout         map[string]tensor.Layout
	PluginConfig   map[string]any
	Stateful       bool
}

// ShapeEqual reports whether two configs are identical in every field the
// ModelRegistry diff (§4.6) treats as reload-triggering: base_path,
// device, nireq, batch, shape, layout, and plugin_config.
func (c Config) ShapeEqual(other Config) bool {
	if c.BasePath != other.BasePath || c.Device != other.Device || c.Nireq != other.Nireq {
		return false
	}
	if c.Batch != other.Batch {
		return false
	}
	if len(c.ShapeOverrides) != len(other.ShapeOverrides) {
		return false
	}
	for k, v := range c.ShapeOverrides {
		ov, ok := other.ShapeOverrides[k]
		if !ok || v.String() != ov.String() {
			return false
		}
	}
	if len(c.Layout) != len(other.Layout) {
		return false
	}
	for k, v := range c.Layout {
		ov, ok := other.Layout[k]
		if !ok || len(v) != len(ov) {
			return false
		}
		for j := range v {
			if v[j] != ov[j] {
				return false
			}
		}
	}
	if len(c.PluginConfig) != len(other.PluginConfig) {
		return false
	}
	for k, v := range c.PluginConfig {
		if ov, ok := other.PluginConfig[k]; !ok || fmt.Sprint(ov) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (c Config) backendConfig(name string) backend.BackendConfig {
	return backend.BackendConfig{
		"model":         name,
		"base_path":     c.BasePath,
		"device":        c.Device,
		"plugin_config": c.PluginConfig,
	}
}

const drainPollInterval = 10 * time.Millisecond

// AvailableToken is returned by WaitForAvailable; it holds the
// in-flight-count increment open until Release is called, which is what
// blocks a concurrent reload/unload from proceeding past the drain wait
// (§4.4, §5's drain protocol).
type AvailableToken struct {
	instance *Instance
	released int32
}

// Release decrements the instance's in-flight counter. Safe to call more
// than once; only the first call has effect.
func (t *AvailableToken) Release() {
	if atomic.CompareAndSwapInt32(&t.released, 0, 1) {
		atomic.AddInt64(&t.instance.inFlight, -1)
	}
}

// Instance is one loaded (name, version): ModelInstance from spec.md §4.4.
type Instance struct {
	Name    string
	Version int64

	runtime backend.Runtime
	fs      storage.FilesystemAdapter
	subs    *subscription.Table

	// mu serializes load/reload/reshape/retire (the "reload-lock"). It is
	// not re-entrant: every exported method acquires it exactly once and
	// calls unexported *Locked helpers internally, which is how spec.md's
	// "re-entrant reload-lock" requirement is satisfied without Go's
	// mutexes needing to support re-entrancy.
	mu         sync.Mutex
	status     VersionStatus
	statusCh   chan struct{} // closed and replaced on every status transition
	cfg        Config
	prevCfg    *Config
	backendMdl backend.BackendModel
	pool       *slotpool.Pool
	inputs     backend.TensorMap
	outputs    backend.TensorMap

	inFlight int64 // atomic
}

// NewInstance creates an Instance in the START state; call Load to bring
// it up.
func NewInstance(name string, version int64, runtime backend.Runtime, fs storage.FilesystemAdapter, subs *subscription.Table) *Instance {
	return &Instance{
		Name:     name,
		Version:  version,
		runtime:  runtime,
		fs:       fs,
		subs:     subs,
		status:   StatusStart,
		statusCh: make(chan struct{}),
	}
}

// subscriptionTarget is the key used in the shared subscription.Table so
// a Model's PipelineDefinition subscribers can be notified of this
// instance's status changes without holding a direct pointer to it.
func (i *Instance) subscriptionTarget() string {
	return fmt.Sprintf("%s:%d", i.Name, i.Version)
}

func (i *Instance) Status() VersionStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// ConfigSnapshot returns the config currently applied, used by
// PipelineDefinition validation to reject dynamic-parameter models
// (§4.9 rule 2).
func (i *Instance) ConfigSnapshot() Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg
}

// Inputs and Outputs expose the model's declared tensor metadata once
// loaded (used by validate.RequestValidator and by PipelineDefinition
// validation).
func (i *Instance) Inputs() backend.TensorMap {
	i.mu.Lock()
	defer i.mu.Unlock()
	return cloneMap(i.inputs)
}

func (i *Instance) Outputs() backend.TensorMap {
	i.mu.Lock()
	defer i.mu.Unlock()
	return cloneMap(i.outputs)
}

func cloneMap(m backend.TensorMap) backend.TensorMap {
	out := make(backend.TensorMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (i *Instance) setStatusLocked(s VersionStatus) {
	i.status = s
	close(i.statusCh)
	i.statusCh = make(chan struct{})
	if i.subs != nil {
		go i.subs.Notify(i.subscriptionTarget(), s)
	}
}

// Load transitions START/LOADING_FAILED -> LOADING -> AVAILABLE|LOADING_FAILED.
// Concurrent Load/Reload/Reshape/Retire calls are serialized by mu.
func (i *Instance) Load(ctx context.Context, cfg Config) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loadLocked(ctx, cfg)
}

func (i *Instance) loadLocked(ctx context.Context, cfg Config) error {
	i.setStatusLocked(StatusLoading)

	exists, err := i.fs.Exists(ctx, cfg.BasePath)
	if err != nil || !exists {
		i.setStatusLocked(StatusLoadingFailed)
		return status.Newf(status.InternalError, "model %s:%d: base path %q unavailable: %v", i.Name, i.Version, cfg.BasePath, err)
	}

	bm, err := i.runtime.Load(ctx, cfg.backendConfig(i.Name))
	if err != nil {
		i.setStatusLocked(StatusLoadingFailed)
		return status.Newf(status.InternalError, "model %s:%d: backend load failed: %v", i.Name, i.Version, err)
	}

	if len(cfg.ShapeOverrides) > 0 {
		if err := bm.Reshape(ctx, cfg.ShapeOverrides); err != nil {
			bm.Close()
			i.setStatusLocked(StatusLoadingFailed)
			return status.Newf(status.InvalidShape, "model %s:%d: initial reshape failed: %v", i.Name, i.Version, err)
		}
	}

	nireq := cfg.Nireq
	if nireq <= 0 {
		nireq = 1
	}
	slots, err := bm.CreateSlots(ctx, nireq)
	if err != nil {
		bm.Close()
		i.setStatusLocked(StatusLoadingFailed)
		return status.Newf(status.InternalError, "model %s:%d: slot creation failed: %v", i.Name, i.Version, err)
	}
	execs := make([]slotpool.Executor, len(slots))
	for idx, s := range slots {
		execs[idx] = s
	}
	pool, err := slotpool.New(nireq, execs)
	if err != nil {
		bm.Close()
		i.setStatusLocked(StatusLoadingFailed)
		return status.Newf(status.InternalError, "model %s:%d: slot pool: %v", i.Name, i.Version, err)
	}

	i.cfg = cfg
	i.backendMdl = bm
	i.pool = pool
	i.inputs = bm.Inputs()
	i.outputs = bm.Outputs()
	i.setStatusLocked(StatusAvailable)
	return nil
}

// Reload drains in-flight inference, then reloads with cfg. On failure it
// attempts to recover by reloading the previous config; if that also
// fails the instance is left LOADING_FAILED.
func (i *Instance) Reload(ctx context.Context, cfg Config) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.cfg
	i.setStatusLocked(StatusLoading)
	i.drainLocked(ctx)
	i.closeBackendLocked()

	if err := i.loadLocked(ctx, cfg); err != nil {
		recoverErr := i.loadLocked(ctx, prev)
		if recoverErr != nil {
			i.setStatusLocked(StatusLoadingFailed)
			return status.Newf(status.InternalError, "model %s:%d: reload failed (%v) and recovery failed (%v)", i.Name, i.Version, err, recoverErr)
		}
		return err
	}
	return nil
}

// Reshape is a Reload restricted to shape-affecting fields, triggered by
// the request path when ReshapePolicy demands BATCHSIZE_CHANGE_REQUIRED
// or RESHAPE_REQUIRED (§4.11).
func (i *Instance) Reshape(ctx context.Context, shapeOverrides map[string]tensor.Shape) error {
	i.mu.Lock()
	cfg := i.cfg
	i.mu.Unlock()

	next := cfg
	next.ShapeOverrides = shapeOverrides
	return i.Reload(ctx, next)
}

// drainLocked blocks, polling every 10ms, until in-flight inference count
// reaches zero. mu is held throughout, matching spec.md's note that the
// reload-lock stays held but each poll tick is short so completion
// callbacks (which must not take the reload-lock) are never blocked by
// it -- they only touch the atomic inFlight counter.
func (i *Instance) drainLocked(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for atomic.LoadInt64(&i.inFlight) > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (i *Instance) closeBackendLocked() {
	if i.pool != nil {
		i.pool = nil
	}
	if i.backendMdl != nil {
		i.backendMdl.Close()
		i.backendMdl = nil
	}
}

// WaitForAvailable blocks up to deadline for the instance to reach
// AVAILABLE. On success it returns an AvailableToken that must be
// released by the caller once done, and which is what makes a concurrent
// Reload/Retire wait in drainLocked. Transient states (START, LOADING,
// UNLOADING) yield status.ModelVersionNotLoadedYet on timeout; terminal
// unavailability (LOADING_FAILED, END) returns
// status.ModelVersionNotLoadedAnymore immediately.
func (i *Instance) WaitForAvailable(ctx context.Context, deadline time.Duration) (*AvailableToken, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		i.mu.Lock()
		st := i.status
		ch := i.statusCh
		i.mu.Unlock()

		switch st {
		case StatusAvailable:
			atomic.AddInt64(&i.inFlight, 1)
			return &AvailableToken{instance: i}, nil
		case StatusLoadingFailed, StatusEnd:
			return nil, status.Newf(status.ModelVersionNotLoadedAnymore, "model %s:%d is not loaded anymore (%s)", i.Name, i.Version, st)
		}

		select {
		case <-ch:
			continue
		case <-timer.C:
			return nil, status.Newf(status.ModelVersionNotLoadedYet, "model %s:%d not loaded yet (%s)", i.Name, i.Version, st)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Infer runs one inference against already-resolved input tensors: it
// acquires a slot (bounded by slotTimeout), dispatches the inference, and
// releases the slot when done. Request validation and any reshape
// decision (§4.11) are the caller's responsibility (typically
// pkg/engine), kept out of Instance to avoid coupling C4 to C11.
func (i *Instance) Infer(ctx context.Context, inputs map[string]tensor.Tensor, slotTimeout time.Duration) (map[string]tensor.Tensor, error) {
	token, err := i.WaitForAvailable(ctx, slotTimeout)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	i.mu.Lock()
	pool := i.pool
	i.mu.Unlock()
	if pool == nil {
		return nil, status.New(status.ModelVersionNotLoadedAnymore, "model instance has no slot pool")
	}

	scoped, err := pool.TryAcquire(ctx, slotTimeout)
	if err != nil {
		return nil, status.Newf(status.ModelVersionNotLoadedYet, "no free slot for %s:%d: %v", i.Name, i.Version, err)
	}
	defer scoped.Release()

	exec, ok := scoped.Slot().Executor.(backend.Executor)
	if !ok {
		return nil, status.New(status.InternalError, "slot executor has unexpected type")
	}

	out, err := exec.Infer(ctx, inputs)
	if err != nil {
		return nil, status.Newf(status.InternalError, "backend inference failed: %v", err)
	}
	return out, nil
}

// AsyncHandle is a slot + availability token held by a caller driving
// asynchronous inference (the DAG executor's DLNode, §4.7): dispatch via
// InferAsync, which releases both back to the pool/instance exactly once,
// right before invoking done.
type AsyncHandle struct {
	instance *Instance
	token    *AvailableToken
	scoped   *slotpool.ScopedSlot
	released int32
}

func (h *AsyncHandle) release() {
	if atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		h.scoped.Release()
		h.token.Release()
	}
}

// InferAsync dispatches inference on the held slot and releases the slot
// and availability token immediately before invoking done, so a DLNode's
// completion callback never needs to touch the reload-lock (§9).
func (h *AsyncHandle) InferAsync(ctx context.Context, inputs map[string]tensor.Tensor, done func(map[string]tensor.Tensor, error)) {
	exec, ok := h.scoped.Slot().Executor.(backend.Executor)
	if !ok {
		h.release()
		done(nil, status.New(status.InternalError, "slot executor has unexpected type"))
		return
	}
	exec.InferAsync(ctx, inputs, func(out map[string]tensor.Tensor, err error) {
		h.release()
		if err != nil {
			err = status.Newf(status.InternalError, "backend inference failed: %v", err)
		}
		done(out, err)
	})
}

// TryAcquireForAsync makes one non-blocking attempt to obtain both an
// availability token and a free slot. ready=false with a nil error means
// the caller should defer (re-enqueue) and retry later; a non-nil error
// means the instance is permanently unavailable (§4.7's DLNode defer
// semantics: this must never block the executor thread).
func (i *Instance) TryAcquireForAsync(ctx context.Context) (handle *AsyncHandle, ready bool, err error) {
	token, err := i.WaitForAvailable(ctx, 0)
	if err != nil {
		if status.CodeOf(err) == status.ModelVersionNotLoadedYet {
			return nil, false, nil
		}
		return nil, false, err
	}

	i.mu.Lock()
	pool := i.pool
	i.mu.Unlock()
	if pool == nil {
		token.Release()
		return nil, false, nil
	}

	// An already-cancelled context makes TryAcquire return at once when no
	// slot is free, instead of queueing without a deadline.
	tryCtx, cancel := context.WithCancel(ctx)
	cancel()
	scoped, err := pool.TryAcquire(tryCtx, 0)
	if err != nil {
		token.Release()
		return nil, false, nil
	}

	return &AsyncHandle{instance: i, token: token, scoped: scoped}, true, nil
}

// Retire transitions the instance to UNLOADING, drains in-flight
// inference, releases the backend, and finally to END (permanent) or back
// to LOADING (transient, e.g. a version dropped then re-added before the
// registry finalizes the diff).
func (i *Instance) Retire(ctx context.Context, permanent bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.setStatusLocked(StatusUnloading)
	i.drainLocked(ctx)
	i.closeBackendLocked()

	if permanent {
		i.setStatusLocked(StatusEnd)
	} else {
		i.setStatusLocked(StatusLoading)
	}
}

// InFlight returns the current in-flight inference count (observability
// only; never used to gate correctness outside drainLocked's own atomic
// read).
func (i *Instance) InFlight() int64 {
	return atomic.LoadInt64(&i.inFlight)
}
