// Package dag implements Node & NodeSession (C7): the abstract DAG vertex
// with per-session state, its Entry/DL/Exit variants, and demultiplex/
// gather session bookkeeping. Grounded on
// original_source/src/ovms_lib/dlnodesession.cpp and
// gathernodeinputhandler.cpp for the shard/frame accounting, reshaped
// into a Go tagged-variant (Kind + behavior switch) per spec.md §9's
// "tagged variant + behavior table" design note.
package dag

import "fmt"

// Kind tags which of the three node variants a NodeInfo describes.
type Kind int

const (
	KindEntry Kind = iota
	KindDL
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "ENTRY"
	case KindDL:
		return "DL"
	case KindExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// DemultiplyCount configures a DL node's fan-out: either disabled, a
// fixed shard count, or "any" (read at runtime from a named output's
// leading dimension).
type DemultiplyCount struct {
	Enabled bool
	Any     bool
	Fixed   int
}

// NodeInfo is the immutable, compile-time descriptor of one DAG vertex
// (§3).
type NodeInfo struct {
	Kind          Kind
	Name          string
	ModelName     string
	ModelVersion  int64
	OutputAliases map[string]string // alias -> real output name
	Demultiply    DemultiplyCount
	GatherFrom    []string // names of upstream nodes this node gathers shards from
}

// Connection is one data edge: from_node's from_output feeds to_node's
// to_input. Graph-wide, at most one Connection may target a given
// (ToNode, ToInput) pair (§3).
type Connection struct {
	FromNode   string
	FromOutput string
	ToNode     string
	ToInput    string
}

// Node is a NodeInfo resolved against its graph neighbors: dependency
// edges computed from Connections, kept immutable once built.
type Node struct {
	Info *NodeInfo

	// Inbound connections feeding this node's inputs.
	Inbound []Connection
	// Dependencies are the distinct upstream nodes this node waits on.
	Dependencies []*Node
	// Dependants are the distinct downstream nodes waiting on this one.
	Dependants []*Node
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(%s, %s)", n.Info.Name, n.Info.Kind)
}

// IsDemultiplex reports whether this node's outputs fan out into shards.
func (n *Node) IsDemultiplex() bool {
	return n.Info.Demultiply.Enabled
}

// IsGather reports whether this node gathers shards from upstream
// demultiplex nodes before executing.
func (n *Node) IsGather() bool {
	return len(n.Info.GatherFrom) > 0
}

// resolveOutput maps an output alias to its real backend output name; if
// no alias is registered the name is returned unchanged.
func (n *Node) resolveOutput(alias string) string {
	if real, ok := n.Info.OutputAliases[alias]; ok {
		return real
	}
	return alias
}
