package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	s := Scale{Divisor: 10}

	v, err := s.FromDevice(int64(215))
	require.NoError(t, err)
	assert.Equal(t, 21.5, v)

	v, err = s.ToDevice(21.5)
	require.NoError(t, err)
	assert.Equal(t, int64(215), v)

	_, err = s.FromDevice("hot")
	assert.ErrorIs(t, err, ErrTransform)
}

func TestChainOrder(t *testing.T) {
	c := Chain{Scale{Divisor: 1000}, Clamp{Min: 0, Max: 1}}

	v, err := c.FromDevice(int64(1200))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = c.ToDevice(0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(500), v)

	v, err = c.ToDevice(7.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)
}

func TestEnumMap(t *testing.T) {
	e := EnumMap{Values: []string{"low", "medium", "high"}}

	v, err := e.FromDevice(uint8(2))
	require.NoError(t, err)
	assert.Equal(t, "high", v)

	v, err = e.ToDevice("medium")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)

	_, err = e.FromDevice(uint8(3))
	assert.ErrorIs(t, err, ErrTransform)

	_, err = e.ToDevice("max")
	assert.ErrorIs(t, err, ErrTransform)
}

func TestBoolEnumAndInvert(t *testing.T) {
	b := BoolEnum{On: 0, Off: 1}

	v, err := b.FromDevice(uint8(0))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = b.ToDevice(false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = Invert{}.FromDevice(true)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = Invert{}.ToDevice(1)
	assert.ErrorIs(t, err, ErrTransform)
}
