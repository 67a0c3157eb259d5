package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct{ blob ModelBlob }

func (s stubLoader) Load(ctx context.Context, name string, cfg map[string]any) (ModelBlob, error) {
	return s.blob, nil
}

func TestRegisterAndLookupLoader(t *testing.T) {
	defer UnregisterLoader("s3-custom")
	RegisterLoader("s3-custom", stubLoader{blob: ModelBlob{Format: "onnx", Data: []byte("x")}})

	l, err := Loader("s3-custom")
	require.NoError(t, err)
	blob, err := l.Load(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "onnx", blob.Format)
}

func TestLookupMissingLoader(t *testing.T) {
	_, err := Loader("does-not-exist")
	assert.Error(t, err)
}

func TestRegisterReplacesExistingLoader(t *testing.T) {
	defer UnregisterLoader("dup")
	RegisterLoader("dup", stubLoader{blob: ModelBlob{Format: "v1"}})
	RegisterLoader("dup", stubLoader{blob: ModelBlob{Format: "v2"}})

	l, err := Loader("dup")
	require.NoError(t, err)
	blob, _ := l.Load(context.Background(), "x", nil)
	assert.Equal(t, "v2", blob.Format)
}
