package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	base := Newf(KindNotFound, "library %q", "contracts")
	wrapped := fmt.Errorf("loading search context: %w", base)

	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindConflict))
	assert.True(t, errors.Is(wrapped, New(KindNotFound, "")))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindPersistence, "insert chunks", cause)

	require.NotNil(t, err)
	assert.Equal(t, KindPersistence, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert chunks")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrapNilCause(t *testing.T) {
	assert.Nil(t, Wrap(KindPersistence, "insert chunks", nil))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindTimeout))
}
