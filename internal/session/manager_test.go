package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supby/tuyazigbee/internal/datapoint"
)

func TestManager(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.cfg, f.host)
	defer m.Close()

	ctx := context.Background()

	_, err := m.Pair(ctx, Device{IEEEAddress: 1, DeviceType: "toaster"})
	assert.ErrorIs(t, err, ErrUnknownDeviceType)

	c, err := m.Pair(ctx, Device{IEEEAddress: 1, DeviceType: "switch"})
	require.NoError(t, err)

	again, err := m.Pair(ctx, Device{IEEEAddress: 1, DeviceType: "switch"})
	require.NoError(t, err)
	assert.Same(t, c, again)

	assert.True(t, m.Deliver(1, DatapointEvent{Reports: []datapoint.Report{{ID: 1, Type: datapoint.TypeBool, Data: []byte{0x01}}}}))
	eventually(t, c, "onoff", true)

	assert.False(t, m.Deliver(2, DatapointEvent{}))

	_, err = m.SetCapability(ctx, 1, "onoff", false)
	require.NoError(t, err)
	v, _ := c.Value("onoff")
	assert.Equal(t, false, v)

	assert.Len(t, m.Devices(), 1)
	assert.True(t, m.Remove(ctx, 1))
	assert.False(t, m.Remove(ctx, 1))

	_, err = m.SetCapability(ctx, 1, "onoff", true)
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestManagerRepairWithNewType(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.cfg, f.host)
	defer m.Close()

	ctx := context.Background()

	first, err := m.Pair(ctx, Device{IEEEAddress: 1, DeviceType: "switch"})
	require.NoError(t, err)

	second, err := m.Pair(ctx, Device{IEEEAddress: 1, DeviceType: "dimmer"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, first.Deliver(DatapointEvent{}))

	got, ok := m.Get(1)
	assert.True(t, ok)
	assert.Same(t, second, got)
}
