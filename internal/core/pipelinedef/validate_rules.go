package pipelinedef

import (
	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// checkModelRules applies §4.9 rules 2-5 (model availability, dynamic-
// parameter rejection, alias/name resolution, tensor intersection) and
// rule 8 (demultiplex/gather balance) against a resolved graph.
func checkModelRules(g *dag.Graph, reg *registry.Registry) error {
	for _, n := range g.Nodes {
		if n.Info.Kind != dag.KindDL {
			continue
		}
		m := reg.Get(n.Info.ModelName)
		if m == nil {
			return status.Newf(status.PipelineNodeReferringToMissingModel,
				"node %q references unknown model %q", n.Info.Name, n.Info.ModelName)
		}
		if !m.HasAvailableVersion() {
			return status.Newf(status.PipelineNodeReferringToMissingModel,
				"node %q's model %q has no AVAILABLE version", n.Info.Name, n.Info.ModelName)
		}
		inst := m.Get(n.Info.ModelVersion)
		if inst == nil {
			return status.Newf(status.PipelineNodeReferringToMissingModel,
				"node %q's model %q version %d is not available", n.Info.Name, n.Info.ModelName, n.Info.ModelVersion)
		}
		if cfg := inst.ConfigSnapshot(); cfg.Batch.Auto {
			return status.Newf(status.RequestedDynamicParametersOnSubscribedModel,
				"node %q's model %q has dynamic batching enabled and cannot be used in a pipeline", n.Info.Name, n.Info.ModelName)
		}

		declaredInputs := inst.Inputs()
		for name := range declaredInputs {
			if !connectionFeeds(n, name) {
				return status.Newf(status.PipelineNotAllInputsConnected,
					"node %q's model input %q is not connected", n.Info.Name, name)
			}
		}

		for _, c := range n.Inbound {
			if _, ok := declaredInputs[c.ToInput]; !ok {
				return status.Newf(status.PipelineNodeReferringToMissingDataSource,
					"node %q has no model input named %q", n.Info.Name, c.ToInput)
			}
		}
	}

	if err := checkAdjacentTensorInfos(g, reg); err != nil {
		return err
	}
	return checkDemultiplexGatherBalance(g)
}

func connectionFeeds(n *dag.Node, inputName string) bool {
	for _, c := range n.Inbound {
		if c.ToInput == inputName {
			return true
		}
	}
	return false
}

// checkAdjacentTensorInfos verifies rule 5: every connection's producer
// output and consumer input admit a non-empty TensorInfo intersection.
// A connection whose producer is the Entry node has no declared
// TensorInfo to check against and is skipped.
func checkAdjacentTensorInfos(g *dag.Graph, reg *registry.Registry) error {
	for _, n := range g.Nodes {
		if n.Info.Kind != dag.KindDL {
			continue
		}
		m := reg.Get(n.Info.ModelName)
		if m == nil {
			continue // already reported by checkModelRules
		}
		inst := m.Get(n.Info.ModelVersion)
		if inst == nil {
			continue
		}
		declaredInputs := inst.Inputs()

		for _, c := range n.Inbound {
			consumerInfo, ok := declaredInputs[c.ToInput]
			if !ok {
				continue
			}
			producerInfo, ok := producerTensorInfo(g, reg, c)
			if !ok {
				continue
			}
			if _, ok := producerInfo.Intersection(consumerInfo); !ok {
				return status.Newf(status.InvalidShape,
					"connection %s.%s -> %s.%s has incompatible tensor info",
					c.FromNode, c.FromOutput, c.ToNode, c.ToInput)
			}
		}
	}
	return nil
}

func producerTensorInfo(g *dag.Graph, reg *registry.Registry, c dag.Connection) (tensor.TensorInfo, bool) {
	from, ok := g.Nodes[c.FromNode]
	if !ok || from.Info.Kind != dag.KindDL {
		return tensor.TensorInfo{}, false
	}
	m := reg.Get(from.Info.ModelName)
	if m == nil {
		return tensor.TensorInfo{}, false
	}
	inst := m.Get(from.Info.ModelVersion)
	if inst == nil {
		return tensor.TensorInfo{}, false
	}
	realName := from.Info.OutputAliases[c.FromOutput]
	if realName == "" {
		realName = c.FromOutput
	}
	info, ok := inst.Outputs()[realName]
	return info, ok
}

// checkDemultiplexGatherBalance applies rule 8: a demultiplex node that
// can reach Exit must be gathered by some downstream node before Exit,
// so no shard-dimensioned data reaches the response ungathered.
func checkDemultiplexGatherBalance(g *dag.Graph) error {
	for _, n := range g.Nodes {
		if !n.IsDemultiplex() {
			continue
		}
		if !reaches(n, g.Exit) {
			continue // sinks into no further use, exempted per §4.9 rule 8
		}
		if !gatheredDownstream(n, n.Info.Name, make(map[string]bool)) {
			return status.Newf(status.PipelineInconsistentShardDimensions,
				"demultiplex node %q is never gathered before Exit", n.Info.Name)
		}
	}
	return nil
}

func reaches(from, to *dag.Node) bool {
	visited := make(map[string]bool)
	var dfs func(n *dag.Node) bool
	dfs = func(n *dag.Node) bool {
		if n == to {
			return true
		}
		if visited[n.Info.Name] {
			return false
		}
		visited[n.Info.Name] = true
		for _, d := range n.Dependants {
			if dfs(d) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

func gatheredDownstream(n *dag.Node, sourceName string, visited map[string]bool) bool {
	for _, d := range n.Dependants {
		if visited[d.Info.Name] {
			continue
		}
		visited[d.Info.Name] = true
		for _, g := range d.Info.GatherFrom {
			if g == sourceName {
				return true
			}
		}
		if gatheredDownstream(d, sourceName, visited) {
			return true
		}
	}
	return false
}
