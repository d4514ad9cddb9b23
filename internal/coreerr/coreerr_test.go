package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Storage, "insert order", cause)
	require.Error(t, err)

	assert.True(t, Is(err, Storage))
	assert.False(t, Is(err, Cache))
	assert.Equal(t, Storage, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestNewHasNoCause(t *testing.T) {
	err := New(Duplicate, "idempotency key already claimed")
	assert.True(t, Is(err, Duplicate))
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(Storage, "noop", nil))
}
