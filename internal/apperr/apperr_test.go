package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndIs(t *testing.T) {
	err := New(KindInvalidState, "cannot accept in state %s", "Done")
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.True(t, Is(err, KindInvalidState))
	assert.False(t, Is(err, KindConflict))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrap_PreservesChain(t *testing.T) {
	inner := errors.New("row locked")
	err := Wrap(KindConflict, inner, "concurrent transition")

	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "CONFLICT")
	assert.Contains(t, err.Error(), "row locked")
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(KindForbidden, "nope"))
	assert.True(t, Is(err, KindForbidden))
}
