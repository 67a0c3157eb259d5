// Package executor implements the shared event-queue worker pool that
// drives one pipeline execution (C12): a (node, session key) work item
// is dequeued by whichever worker goroutine is free, a DL node that
// isn't ready to dispatch is deferred and re-enqueued after a backoff
// delay rather than retried busy-spin, and an async inference
// completion re-enqueues every newly-ready dependant. Grounded on
// internal/core/processing/async_processor.go's worker pool
// (jobQueue/stopChan/wg), generalized from a one-shot job queue to a
// re-entrant event queue.
package executor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/resilience"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// Options configures one Execute call.
type Options struct {
	// Workers is the number of goroutines draining the shared event
	// queue. Defaults to 4.
	Workers int
	// Backoff governs the delay before a deferred DL node is
	// re-enqueued. Its MaxRetries field is unused here -- a deferred
	// node retries until the run's context is done, since "the slot
	// isn't free yet" is not a bounded-attempt failure, just a wait.
	Backoff *resilience.Policy
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Backoff == nil {
		o.Backoff = resilience.DefaultPolicy()
	}
	return o
}

type workItem struct {
	node    *dag.Node
	key     string
	attempt int
}

// run holds the mutable state of one Execute invocation.
type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	graph    *dag.Graph
	resolver dag.ModelResolver
	opts     Options

	mu       sync.Mutex
	sessions map[string]map[string]*dag.Session

	queue chan workItem
	wg    sync.WaitGroup

	once      sync.Once
	result    map[string]tensor.Tensor
	resultErr error
	done      chan struct{}
}

// Execute runs graph to completion against request, starting at the
// entry node and returning the exit node's collected response, or the
// first non-OK error raised by any node (§4.10: in-flight DL slots on
// early exit are released by their own InferAsync completion, never
// aborted out from under the backend).
func Execute(ctx context.Context, graph *dag.Graph, resolver dag.ModelResolver, request map[string]tensor.Tensor, opts Options) (map[string]tensor.Tensor, error) {
	opts = opts.withDefaults()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		ctx:      runCtx,
		cancel:   cancel,
		graph:    graph,
		resolver: resolver,
		opts:     opts,
		sessions: make(map[string]map[string]*dag.Session),
		queue:    make(chan workItem, 256),
		done:     make(chan struct{}),
	}

	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.workerLoop()
	}

	r.dispatchEntry(request)

	select {
	case <-r.done:
	case <-runCtx.Done():
		r.finish(nil, runCtx.Err())
	}
	r.wg.Wait()
	return r.result, r.resultErr
}

func (r *run) finish(result map[string]tensor.Tensor, err error) {
	r.once.Do(func() {
		r.result = result
		r.resultErr = err
		r.cancel()
		close(r.done)
	})
}

func (r *run) workerLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.queue:
			r.process(item)
		}
	}
}

func (r *run) enqueue(item workItem) {
	select {
	case r.queue <- item:
	case <-r.ctx.Done():
	}
}

func (r *run) scheduleRetry(item workItem) {
	item.attempt++
	delay := backoffDelay(r.opts.Backoff, item.attempt)
	time.AfterFunc(delay, func() { r.enqueue(item) })
}

// backoffDelay reuses resilience.Policy's shape for the defer-retry
// delay, though it is not driven through resilience.Do: a deferred DL
// node isn't a failed operation being retried synchronously, it is an
// event-queue item waiting on a condition (a free slot) that some other
// goroutine's completion will eventually satisfy.
func backoffDelay(p *resilience.Policy, attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	return delay
}

func (r *run) getOrCreateSession(node *dag.Node, key string, meta dag.SessionMetadata, expectedShards int) *dag.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey := r.sessions[node.Info.Name]
	if byKey == nil {
		byKey = make(map[string]*dag.Session)
		r.sessions[node.Info.Name] = byKey
	}
	s, ok := byKey[key]
	if !ok {
		s = dag.NewSession(node, meta, expectedShards)
		byKey[key] = s
	}
	return s
}

func (r *run) getSession(nodeName, key string) *dag.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey := r.sessions[nodeName]
	if byKey == nil {
		return nil
	}
	return byKey[key]
}

func (r *run) dispatchEntry(request map[string]tensor.Tensor) {
	entry := r.graph.Entry
	outputs := dag.RunEntry(entry, request)
	r.propagateFrom(entry, dag.SessionMetadata{}, outputs)
}

// propagateFrom delivers from's outputs to every dependant input they
// feed, keying each dependant's session per resolveFeedTarget, and
// enqueues a dependant the instant its session becomes ready.
func (r *run) propagateFrom(from *dag.Node, meta dag.SessionMetadata, outputs map[string]tensor.Tensor) {
	for _, to := range from.Dependants {
		for _, conn := range to.Inbound {
			if conn.FromNode != from.Info.Name {
				continue
			}
			value, ok := outputs[conn.FromOutput]
			if !ok {
				continue
			}
			key, shardID, expectedShards, sessMeta := resolveFeedTarget(to, meta)
			session := r.getOrCreateSession(to, key, sessMeta, expectedShards)
			if session.Feed(conn.ToInput, shardID, value) {
				r.enqueue(workItem{node: to, key: key})
			}
		}
	}
}

// resolveFeedTarget computes the session key, shard id, and (for a
// gathering node) expected shard count a value feeding `to` should use.
// A gathering node's session lives one demultiplex level up (the frame
// it is collecting is popped); any other node's session is shard-local.
func resolveFeedTarget(to *dag.Node, meta dag.SessionMetadata) (key string, shardID int, expectedShards int, sessionMeta dag.SessionMetadata) {
	if to.IsGather() {
		parent, frame := meta.Pop()
		return parent.SessionKey(), frame.ShardID, frame.NumShards, parent
	}
	return meta.SessionKey(), 0, 0, meta
}

func (r *run) process(item workItem) {
	node := item.node
	session := r.getSession(node.Info.Name, item.key)
	if session == nil {
		return
	}

	inputs, err := collectInputs(node, session)
	if err != nil {
		r.finish(nil, err)
		return
	}

	switch node.Info.Kind {
	case dag.KindExit:
		r.finish(dag.RunExit(node, inputs), nil)

	case dag.KindDL:
		handle, ready, err := dag.TryDispatchDL(r.ctx, node, r.resolver)
		if err != nil {
			r.finish(nil, err)
			return
		}
		if !ready {
			r.scheduleRetry(item)
			return
		}
		handle.InferAsync(r.ctx, inputs, func(outputs map[string]tensor.Tensor, err error) {
			if err != nil {
				r.finish(nil, err)
				return
			}
			r.onDLComplete(node, session, outputs)
		})

	default:
		// An Entry node never re-enters the queue; Entry's only
		// dispatch happens via dispatchEntry.
	}
}

func collectInputs(node *dag.Node, session *dag.Session) (map[string]tensor.Tensor, error) {
	if !node.IsGather() {
		return session.Handler.Collect(), nil
	}
	shards, err := session.Handler.CollectShards()
	if err != nil {
		return nil, err
	}
	return dag.Gather(shards)
}

func (r *run) onDLComplete(node *dag.Node, session *dag.Session, outputs map[string]tensor.Tensor) {
	outputs = applyAliases(node, outputs)

	if !node.IsDemultiplex() {
		r.propagateFrom(node, session.Meta, outputs)
		return
	}

	n, err := dag.ResolveShardCount(node, outputs)
	if err != nil {
		r.finish(nil, err)
		return
	}
	shards, err := dag.Demultiplex(outputs, n)
	if err != nil {
		r.finish(nil, err)
		return
	}
	for i, shardOut := range shards {
		childMeta := session.Meta.Push(node.Info.Name, i, n)
		r.propagateFrom(node, childMeta, shardOut)
	}
}

func applyAliases(node *dag.Node, outputs map[string]tensor.Tensor) map[string]tensor.Tensor {
	if len(node.Info.OutputAliases) == 0 {
		return outputs
	}
	aliased := make(map[string]tensor.Tensor, len(outputs)+len(node.Info.OutputAliases))
	for k, v := range outputs {
		aliased[k] = v
	}
	for alias, real := range node.Info.OutputAliases {
		if v, ok := outputs[real]; ok {
			aliased[alias] = v
		}
	}
	return aliased
}
