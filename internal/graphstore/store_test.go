package graphstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToIntNormalizesDriverNumerics(t *testing.T) {
	n, ok := ToInt(int64(42))
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = ToInt(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = ToInt("not a number")
	assert.False(t, ok)
}

func TestNormalizeValueNested(t *testing.T) {
	in := []any{int64(1), map[string]any{"x": int64(2)}}
	out := normalizeValue(in).([]any)
	assert.Equal(t, int64(1), out[0])
	assert.Equal(t, int64(2), out[1].(map[string]any)["x"])
}

func TestIsTransientIndexConflict(t *testing.T) {
	assert.True(t, isTransientIndexConflict(errors.New("could not acquire index lock")))
	assert.True(t, isTransientIndexConflict(errors.New("Deadlock detected")))
	assert.True(t, isTransientIndexConflict(errors.New("Transient error")))
	assert.False(t, isTransientIndexConflict(errors.New("constraint violation")))
}

func TestIsBenignBootstrapError(t *testing.T) {
	assert.True(t, isBenignBootstrapError(errors.New("An equivalent constraint already exists")))
	assert.True(t, isBenignBootstrapError(errors.New("this feature is experimental")))
	assert.True(t, isBenignBootstrapError(errors.New("value violates uniqueness")))
	assert.False(t, isBenignBootstrapError(errors.New("connection refused")))
}
