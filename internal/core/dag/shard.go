package dag

import (
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// Demultiplex splits every output tensor in outputs into n shards along
// its leading axis, returning n per-shard output maps -- one per child
// session a demultiplexing node spawns (§4.8).
func Demultiplex(outputs map[string]tensor.Tensor, n int) ([]map[string]tensor.Tensor, error) {
	if n <= 1 {
		return []map[string]tensor.Tensor{outputs}, nil
	}
	shards := make([]map[string]tensor.Tensor, n)
	for i := range shards {
		shards[i] = make(map[string]tensor.Tensor, len(outputs))
	}
	for name, t := range outputs {
		parts, err := t.Split(n)
		if err != nil {
			return nil, status.Newf(status.PipelineInconsistentShardDimensions,
				"cannot split output %q into %d shards: %v", name, n, err)
		}
		for i, p := range parts {
			shards[i][name] = p
		}
	}
	return shards, nil
}

// Gather reassembles the per-shard input slices collected by an
// InputHandler back into whole tensors, concatenating along the leading
// axis. A shape or count mismatch across shards surfaces as
// PIPELINE_INCONSISTENT_SHARD_DIMENSIONS (§4.8).
func Gather(byInput map[string][]tensor.Tensor) (map[string]tensor.Tensor, error) {
	out := make(map[string]tensor.Tensor, len(byInput))
	for name, shards := range byInput {
		t, err := tensor.Concat(shards)
		if err != nil {
			return nil, status.Newf(status.PipelineInconsistentShardDimensions,
				"cannot gather input %q: %v", name, err)
		}
		out[name] = t
	}
	return out, nil
}
