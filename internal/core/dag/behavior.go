// Node-kind behavior: what Entry, DL, and Exit nodes each do when the
// executor decides to run them. Grounded on the three node subclasses
// in original_source/src/ovms_lib/{entrynodesession,dlnodesession,
// exitnodesession}.cpp, collapsed into plain functions over *Node since
// Go favors composition over a subclass hierarchy here (§9 redesign
// note).
package dag

import (
	"context"
	"fmt"

	"github.com/inferencemesh/modelmesh/internal/core/model"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// ModelResolver looks up a loaded model instance by name and version,
// satisfied by internal/core/registry.Registry. Declared here (rather
// than importing registry directly) so dag has no dependency on the
// registry package.
type ModelResolver interface {
	Resolve(modelName string, version int64) *model.Instance
}

// RunEntry produces the entry node's outputs from the caller's request:
// entry has no upstream dependencies, its output set IS the request
// (§4.8).
func RunEntry(n *Node, request map[string]tensor.Tensor) map[string]tensor.Tensor {
	return request
}

// RunExit produces the pipeline's final response from the exit node's
// collected inputs, returned as they are: each is already keyed by its
// inbound connection's ToInput name (the response field name), per §4.8.
func RunExit(n *Node, collected map[string]tensor.Tensor) map[string]tensor.Tensor {
	return collected
}

// TryDispatchDL makes one non-blocking attempt to acquire a slot on a DL
// node's backing model instance and begin asynchronous inference.
// ready=false, err=nil means the caller should defer (re-enqueue) and
// retry later (§4.7); a non-nil err means the node's model is
// permanently unavailable for this request.
func TryDispatchDL(ctx context.Context, n *Node, resolver ModelResolver) (handle *model.AsyncHandle, ready bool, err error) {
	if n.Info.Kind != KindDL {
		return nil, false, fmt.Errorf("dag: TryDispatchDL called on non-DL node %q", n.Info.Name)
	}
	inst := resolver.Resolve(n.Info.ModelName, n.Info.ModelVersion)
	if inst == nil {
		return nil, false, status.Newf(status.ModelNameMissing, "DL node %q references unknown model %q", n.Info.Name, n.Info.ModelName)
	}
	return inst.TryAcquireForAsync(ctx)
}

// ResolveShardCount determines how many shards a demultiplexing node's
// outputs split into for this execution: a fixed configured count, or
// (Demultiply.Any) the leading dimension of the first named output
// tensor, which must be concrete.
func ResolveShardCount(n *Node, outputs map[string]tensor.Tensor) (int, error) {
	if !n.IsDemultiplex() {
		return 1, nil
	}
	if !n.Info.Demultiply.Any {
		if n.Info.Demultiply.Fixed <= 0 {
			return 0, fmt.Errorf("dag: node %q has demultiply enabled with no fixed count and Any=false", n.Info.Name)
		}
		return n.Info.Demultiply.Fixed, nil
	}
	for _, t := range outputs {
		if len(t.Shape) == 0 || t.Shape[0].Kind != tensor.DimStatic {
			continue
		}
		return int(t.Shape[0].Value), nil
	}
	return 0, fmt.Errorf("dag: node %q demultiply=Any requires at least one concrete output shape", n.Info.Name)
}
