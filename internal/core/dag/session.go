package dag

import (
	"sync"

	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// ShardFrame identifies one level of demultiplexing: the node that
// split the data, which shard this branch is, and how many shards its
// sibling branches total. A session's metadata is a stack of these
// frames, pushed on demultiplex and popped on the matching gather
// (§4.8), grounded on
// original_source/src/ovms_lib/nodesessionmetadata.cpp.
type ShardFrame struct {
	SourceNode string
	ShardID    int
	NumShards  int
}

// SessionMetadata is an immutable frame stack identifying one DAG
// session (one execution of one node, possibly inside nested
// demultiplexed branches). SessionKey derives the map key every node
// uses to track per-session state.
type SessionMetadata struct {
	Frames []ShardFrame
}

// SessionKey returns a stable string identifying this metadata, used to
// key per-session maps (NodeInputHandler collections, executor queue
// entries).
func (m SessionMetadata) SessionKey() string {
	if len(m.Frames) == 0 {
		return "root"
	}
	key := ""
	for _, f := range m.Frames {
		key += f.SourceNode + ":" + itoa(f.ShardID) + "/" + itoa(f.NumShards) + ";"
	}
	return key
}

// Push returns new metadata with one more demultiplex frame appended.
func (m SessionMetadata) Push(sourceNode string, shardID, numShards int) SessionMetadata {
	frames := make([]ShardFrame, len(m.Frames)+1)
	copy(frames, m.Frames)
	frames[len(m.Frames)] = ShardFrame{SourceNode: sourceNode, ShardID: shardID, NumShards: numShards}
	return SessionMetadata{Frames: frames}
}

// Pop returns metadata with its innermost frame removed, and that frame,
// used by a gather node closing out the demultiplex level it collects.
func (m SessionMetadata) Pop() (SessionMetadata, ShardFrame) {
	if len(m.Frames) == 0 {
		return m, ShardFrame{}
	}
	last := m.Frames[len(m.Frames)-1]
	return SessionMetadata{Frames: m.Frames[:len(m.Frames)-1]}, last
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// InputHandler collects a node's inputs for one session key, tracking
// readiness by counted arrivals (ordinary fan-in) or by a full
// gather-set of shard IDs (gathering node), per §4.8.
//
// Not safe for concurrent use by itself -- callers (NodeSession) hold
// their own lock around Feed/Ready/Collect.
type InputHandler struct {
	node *Node

	// received maps input name -> shard id -> tensor. For ordinary
	// (non-gathering) nodes, shard id is always 0.
	received map[string]map[int]tensor.Tensor
	// expectedShards is set only for a gathering node: the number of
	// shards it must collect per input before it is ready.
	expectedShards int
}

func newInputHandler(n *Node, expectedShards int) *InputHandler {
	return &InputHandler{
		node:           n,
		received:       make(map[string]map[int]tensor.Tensor),
		expectedShards: expectedShards,
	}
}

// Feed records one arrived input value for shardID (0 for non-gathering
// nodes).
func (h *InputHandler) Feed(inputName string, shardID int, value tensor.Tensor) {
	if h.received[inputName] == nil {
		h.received[inputName] = make(map[int]tensor.Tensor)
	}
	h.received[inputName][shardID] = value
}

// Ready reports whether every expected input has arrived: for an
// ordinary node, one value per distinct inbound connection input name;
// for a gathering node, expectedShards values per input name.
func (h *InputHandler) Ready() bool {
	wantInputs := make(map[string]bool)
	for _, c := range h.node.Inbound {
		wantInputs[c.ToInput] = true
	}
	need := 1
	if h.expectedShards > 0 {
		need = h.expectedShards
	}
	for name := range wantInputs {
		if len(h.received[name]) < need {
			return false
		}
	}
	return true
}

// Collect returns the single-shard view of every received input
// (shardID 0), used by non-gathering nodes to build their inference
// request.
func (h *InputHandler) Collect() map[string]tensor.Tensor {
	out := make(map[string]tensor.Tensor, len(h.received))
	for name, byShard := range h.received {
		out[name] = byShard[0]
	}
	return out
}

// CollectShards returns, per input name, the ordered slice of shard
// values (index == shard id), used by a gathering node to reassemble
// tensors via tensor.Concat. An error is returned if any shard index in
// [0, expectedShards) is missing.
func (h *InputHandler) CollectShards() (map[string][]tensor.Tensor, error) {
	out := make(map[string][]tensor.Tensor, len(h.received))
	for name, byShard := range h.received {
		ordered := make([]tensor.Tensor, h.expectedShards)
		for id := 0; id < h.expectedShards; id++ {
			v, ok := byShard[id]
			if !ok {
				return nil, status.Newf(status.PipelineInconsistentShardDimensions,
					"gather input %q is missing shard %d", name, id)
			}
			ordered[id] = v
		}
		out[name] = ordered
	}
	return out, nil
}

// Session is one node's per-session-key execution state: its collected
// inputs and a mutex guarding concurrent Feed calls from multiple
// upstream dependencies completing concurrently.
type Session struct {
	mu      sync.Mutex
	Node    *Node
	Meta    SessionMetadata
	Handler *InputHandler
}

func newSession(n *Node, meta SessionMetadata, expectedShards int) *Session {
	return &Session{Node: n, Meta: meta, Handler: newInputHandler(n, expectedShards)}
}

// NewSession is the exported constructor used by internal/core/executor
// to create a node's per-key session lazily on first feed.
func NewSession(n *Node, meta SessionMetadata, expectedShards int) *Session {
	return newSession(n, meta, expectedShards)
}

// Feed is the concurrency-safe entry point used by a dependency's
// completion callback to deliver one output into this session,
// returning whether the session is now ready to execute.
func (s *Session) Feed(inputName string, shardID int, value tensor.Tensor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Handler.Feed(inputName, shardID, value)
	return s.Handler.Ready()
}
