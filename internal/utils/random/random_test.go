package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt63nBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v, err := Int63n(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(7))
	}
}

func TestInt63nRejectsEmptyRange(t *testing.T) {
	_, err := Int63n(0)
	assert.Error(t, err)
}

func TestCode(t *testing.T) {
	code, err := Code(8)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Regexp(t, `^[A-Z2-9]{8}$`, code)
}
