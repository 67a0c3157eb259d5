package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(InvalidShape, "shape mismatch on input b")
	assert.Equal(t, "[INVALID_SHAPE] shape mismatch on input b", err.Error())
}

func TestCodeClass(t *testing.T) {
	assert.Equal(t, ClassTransient, ModelVersionNotLoadedYet.Class())
	assert.Equal(t, ClassPermanent, ModelVersionNotLoadedAnymore.Class())
	assert.Equal(t, ClassBackend, InternalError.Class())
	assert.Equal(t, ClassCaller, InvalidShape.Class())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(OK), CodeOf(nil))
	assert.Equal(t, InvalidShape, CodeOf(New(InvalidShape, "bad")))
	assert.Equal(t, InternalError, CodeOf(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
