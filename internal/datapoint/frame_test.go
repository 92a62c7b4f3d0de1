package datapoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	payload := []byte{
		0x00, 0x2a, // seq
		0x01, 0x01, 0x00, 0x01, 0x01, // dp1 bool true
		0x02, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0xc8, // dp2 value 200
	}

	f, err := ParseFrame(payload)
	require.NoError(t, err)

	assert.Equal(t, uint16(42), f.Sequence)
	require.Len(t, f.Reports, 2)
	assert.Equal(t, Report{ID: 1, Type: TypeBool, Data: []byte{0x01}}, f.Reports[0])
	assert.Equal(t, Report{ID: 2, Type: TypeValue, Data: []byte{0x00, 0x00, 0x00, 0xc8}}, f.Reports[1])

	out, err := f.Marshal()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestParseFrameTruncated(t *testing.T) {
	_, err := ParseFrame([]byte{0x00})
	assert.ErrorIs(t, err, ErrFrame)

	_, err = ParseFrame([]byte{0x00, 0x01, 0x01, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrFrame)

	_, err = ParseFrame([]byte{0x00, 0x01, 0x01, 0x02, 0x00, 0x04, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrFrame)
}

func TestParseFrameEmpty(t *testing.T) {
	f, err := ParseFrame([]byte{0x00, 0x05})
	require.NoError(t, err)
	assert.Empty(t, f.Reports)
}

func TestTimeSyncResponse(t *testing.T) {
	now := time.Unix(1700000000, 0).In(time.FixedZone("test", 3600))

	buf := TimeSyncResponse(7, now)

	assert.Equal(t, []byte{
		0x00, 0x07,
		0x65, 0x53, 0xf1, 0x00,
		0x65, 0x53, 0xff, 0x10,
	}, buf)
}
