package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

func TestSessionMetadataKeyAndPushPop(t *testing.T) {
	root := SessionMetadata{}
	assert.Equal(t, "root", root.SessionKey())

	pushed := root.Push("split1", 2, 4)
	assert.Contains(t, pushed.SessionKey(), "split1:2/4")

	popped, frame := pushed.Pop()
	assert.Equal(t, root, popped)
	assert.Equal(t, "split1", frame.SourceNode)
	assert.Equal(t, 2, frame.ShardID)
	assert.Equal(t, 4, frame.NumShards)
}

func TestInputHandlerReadyAfterAllInputsArrive(t *testing.T) {
	n := &Node{
		Info: &NodeInfo{Name: "n1"},
		Inbound: []Connection{
			{ToNode: "n1", ToInput: "a"},
			{ToNode: "n1", ToInput: "b"},
		},
	}
	h := newInputHandler(n, 0)
	assert.False(t, h.Ready())

	h.Feed("a", 0, tensor.NewFP32([]int64{1}, []float32{1}))
	assert.False(t, h.Ready())

	h.Feed("b", 0, tensor.NewFP32([]int64{1}, []float32{2}))
	assert.True(t, h.Ready())

	collected := h.Collect()
	assert.Len(t, collected, 2)
}

func TestInputHandlerGatherRequiresAllShards(t *testing.T) {
	n := &Node{
		Info:    &NodeInfo{Name: "gather1"},
		Inbound: []Connection{{ToNode: "gather1", ToInput: "a"}},
	}
	h := newInputHandler(n, 3)
	h.Feed("a", 0, tensor.NewFP32([]int64{1}, []float32{1}))
	h.Feed("a", 1, tensor.NewFP32([]int64{1}, []float32{2}))
	assert.False(t, h.Ready())

	h.Feed("a", 2, tensor.NewFP32([]int64{1}, []float32{3}))
	assert.True(t, h.Ready())

	shards, err := h.CollectShards()
	require.NoError(t, err)
	require.Len(t, shards["a"], 3)
}

func TestSessionFeedReturnsReadiness(t *testing.T) {
	n := &Node{Info: &NodeInfo{Name: "n1"}, Inbound: []Connection{{ToNode: "n1", ToInput: "a"}}}
	s := newSession(n, SessionMetadata{}, 0)
	ready := s.Feed("a", 0, tensor.NewFP32([]int64{1}, []float32{1}))
	assert.True(t, ready)
}
