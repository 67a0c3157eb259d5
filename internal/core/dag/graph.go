package dag

import (
	"fmt"
	"sort"

	"github.com/inferencemesh/modelmesh/internal/core/status"
)

// Graph is a fully resolved DAG: every Node's Dependencies/Dependants are
// populated and acyclicity has been verified. Building one is the shared
// validation step reused by a pipeline definition's own validate() pass
// (§4.9) and by the executor when it walks dependency order.
type Graph struct {
	Nodes map[string]*Node
	Entry *Node
	Exit  *Node
}

// BuildGraph resolves a set of NodeInfos and Connections into a Graph,
// enforcing exactly-one-entry, exactly-one-exit, no-duplicate-names,
// every connection endpoint resolving to a known node, at most one
// connection per (to_node, to_input), no connection targeting the entry
// node or originating from the exit node, and acyclicity (§4.9 rules 1,
// 6 and 7, and the node-name half of rule 3). Grounded on the teacher's graph-building pass in
// original_source/src/ovms_lib/pipelinedefinition.cpp's validateNodes.
func BuildGraph(infos []NodeInfo, conns []Connection) (*Graph, error) {
	nodes := make(map[string]*Node, len(infos))
	for i := range infos {
		info := infos[i]
		if _, dup := nodes[info.Name]; dup {
			return nil, status.Newf(status.PipelineNodeNameDuplicate, "duplicate node name %q", info.Name)
		}
		nodes[info.Name] = &Node{Info: &info}
	}

	var entry, exit *Node
	for _, n := range nodes {
		switch n.Info.Kind {
		case KindEntry:
			if entry != nil {
				return nil, status.New(status.PipelineMultipleEntryNodes, "graph has more than one entry node")
			}
			entry = n
		case KindExit:
			if exit != nil {
				return nil, status.New(status.PipelineMultipleExitNodes, "graph has more than one exit node")
			}
			exit = n
		}
	}
	if entry == nil || exit == nil {
		return nil, status.New(status.PipelineMissingEntryOrExit, "graph must have exactly one entry and one exit node")
	}

	seenTarget := make(map[string]bool)
	for _, c := range conns {
		from, ok := nodes[c.FromNode]
		if !ok {
			return nil, status.Newf(status.PipelineNodeReferringToMissingNode, "connection references unknown source node %q", c.FromNode)
		}
		to, ok := nodes[c.ToNode]
		if !ok {
			return nil, status.Newf(status.PipelineNodeReferringToMissingNode, "connection references unknown destination node %q", c.ToNode)
		}
		if to == entry {
			return nil, status.Newf(status.PipelineNodeReferringToMissingNode, "entry node %q cannot be a connection target", c.ToNode)
		}
		if from == exit {
			return nil, status.Newf(status.PipelineNodeReferringToMissingNode, "exit node %q cannot be a connection source", c.FromNode)
		}

		key := c.ToNode + "." + c.ToInput
		if seenTarget[key] {
			return nil, status.Newf(status.PipelineModelInputConnectedToMultipleSources,
				"input %q of node %q is connected to more than one source", c.ToInput, c.ToNode)
		}
		seenTarget[key] = true

		to.Inbound = append(to.Inbound, c)
		if !containsNode(to.Dependencies, from) {
			to.Dependencies = append(to.Dependencies, from)
		}
		if !containsNode(from.Dependants, to) {
			from.Dependants = append(from.Dependants, to)
		}
	}

	g := &Graph{Nodes: nodes, Entry: entry, Exit: exit}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

func containsNode(list []*Node, n *Node) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}

// checkAcyclic runs a grey/black DFS over Dependants edges (§4.9 rule 6).
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		color[n.Info.Name] = grey
		for _, dep := range n.Dependants {
			switch color[dep.Info.Name] {
			case grey:
				return status.Newf(status.PipelineCycleFound, "cycle detected through node %q", dep.Info.Name)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[n.Info.Name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if err := visit(g.Nodes[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoOrder returns nodes in a dependency-respecting order (dependencies
// before dependants), used by tests and by the executor's sanity checks.
// Assumes the graph is acyclic.
func (g *Graph) TopoOrder() []*Node {
	visited := make(map[string]bool, len(g.Nodes))
	order := make([]*Node, 0, len(g.Nodes))

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n.Info.Name] {
			return
		}
		visited[n.Info.Name] = true
		for _, dep := range n.Dependencies {
			visit(dep)
		}
		order = append(order, n)
	}
	for _, name := range names {
		visit(g.Nodes[name])
	}
	return order
}

func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%d nodes, entry=%s, exit=%s)", len(g.Nodes), g.Entry.Info.Name, g.Exit.Info.Name)
}
