package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supby/tuyazigbee/internal/datapoint"
)

func TestResolveOverridePrecedence(t *testing.T) {
	r, _, err := NewBuilder().
		Add(Entry{DeviceType: "X", DatapointID: 2, Type: datapoint.TypeValue, CapabilityID: "dim", Transform: Scale{Divisor: 1000}, Direction: DirectionBoth}).
		AddOverride("acme", Entry{DeviceType: "X", DatapointID: 2, Type: datapoint.TypeValue, CapabilityID: "dim", Transform: Scale{Divisor: 255}, Direction: DirectionBoth}).
		Build()
	require.NoError(t, err)

	e, ok := r.Resolve("X", "acme", 2)
	require.True(t, ok)
	assert.Equal(t, Scale{Divisor: 255}, e.Transform)

	e, ok = r.Resolve("X", "other", 2)
	require.True(t, ok)
	assert.Equal(t, Scale{Divisor: 1000}, e.Transform)

	_, ok = r.Resolve("X", "acme", 9)
	assert.False(t, ok)

	_, ok = r.Resolve("Y", "acme", 2)
	assert.False(t, ok)

	e, ok = r.ResolveCapability("X", "acme", "dim")
	require.True(t, ok)
	assert.Equal(t, Scale{Divisor: 255}, e.Transform)
}

func TestResolveIsDeterministic(t *testing.T) {
	r, _, err := NewRegistry()
	require.NoError(t, err)

	first, ok := r.Resolve("thermometer", "", 1)
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		e, ok := r.Resolve("thermometer", "", 1)
		require.True(t, ok)
		assert.Equal(t, first, e)
	}
}

func TestReverseFirstWriterWins(t *testing.T) {
	r, warnings, err := NewBuilder().
		Add(Entry{DeviceType: "X", DatapointID: 2, Type: datapoint.TypeValue, CapabilityID: "dim", Transform: Identity{}, Direction: DirectionWrite}).
		Add(Entry{DeviceType: "X", DatapointID: 5, Type: datapoint.TypeValue, CapabilityID: "dim", Transform: Identity{}, Direction: DirectionBoth}).
		Add(Entry{DeviceType: "X", DatapointID: 7, Type: datapoint.TypeValue, CapabilityID: "dim", Transform: Identity{}, Direction: DirectionRead}).
		Build()
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, uint8(2), warnings[0].Kept)
	assert.Equal(t, uint8(5), warnings[0].Ignored)
	assert.Contains(t, warnings[0].String(), `"dim"`)

	e, ok := r.ResolveCapability("X", "", "dim")
	require.True(t, ok)
	assert.Equal(t, uint8(2), e.DatapointID)
}

func TestReadOnlyCapabilityIsNotWritable(t *testing.T) {
	r, _, err := NewRegistry()
	require.NoError(t, err)

	_, ok := r.ResolveCapability("thermometer", "", "measure_temperature")
	assert.False(t, ok)
}

func TestBuildRejectsBrokenEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"no device type", Entry{DatapointID: 1, Type: datapoint.TypeBool, CapabilityID: "onoff", Transform: Identity{}, Direction: DirectionRead}},
		{"no capability", Entry{DeviceType: "X", DatapointID: 1, Type: datapoint.TypeBool, Transform: Identity{}, Direction: DirectionRead}},
		{"no transform", Entry{DeviceType: "X", DatapointID: 1, Type: datapoint.TypeBool, CapabilityID: "onoff", Direction: DirectionRead}},
		{"no direction", Entry{DeviceType: "X", DatapointID: 1, Type: datapoint.TypeBool, CapabilityID: "onoff", Transform: Identity{}}},
		{"unknown type", Entry{DeviceType: "X", DatapointID: 1, Type: datapoint.Type(9), CapabilityID: "onoff", Transform: Identity{}, Direction: DirectionRead}},
		{"unknown class", Entry{DeviceType: "X", DatapointID: 1, CapabilityID: "onoff", Transform: Identity{}, Direction: DirectionRead, Actuation: "color"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewBuilder().Add(tt.entry).Build()
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestBuildRejectsDanglingFingerprint(t *testing.T) {
	_, _, err := NewBuilder().
		AddFingerprint(Fingerprint{Model: "TS0601", DeviceType: "nothing"}).
		Build()
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestMatchPrefersExactFingerprint(t *testing.T) {
	r, _, err := NewBuilder().
		AddDeviceType(DeviceType{Name: "a"}).
		AddDeviceType(DeviceType{Name: "b"}).
		AddFingerprint(Fingerprint{Model: "TS0601", DeviceType: "a"}).
		AddFingerprint(Fingerprint{Manufacturer: "acme", Model: "TS0601", DeviceType: "b"}).
		Build()
	require.NoError(t, err)

	dt, ok := r.Match("acme", "TS0601")
	assert.True(t, ok)
	assert.Equal(t, "b", dt)

	dt, ok = r.Match("other", "TS0601")
	assert.True(t, ok)
	assert.Equal(t, "a", dt)

	_, ok = r.Match("acme", "TS0000")
	assert.False(t, ok)
}

func TestBuiltinCatalog(t *testing.T) {
	r, warnings, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, warnings)

	dt, ok := r.DeviceType("motion_sensor")
	require.True(t, ok)
	assert.Equal(t, "alarm_motion", dt.ZoneCapability)
	assert.EqualValues(t, 1, dt.Endpoint)

	e, ok := r.ResolveClass("level_dimmer", "", ClassLevel)
	require.True(t, ok)
	assert.Equal(t, "dim", e.CapabilityID)

	assert.Equal(t, []string{"onoff", "dim", "dim_min"}, r.Capabilities("dimmer", ""))

	e, ok = r.Resolve("dimmer", "", 1)
	require.True(t, ok)
	assert.Equal(t, ClassDatapoint, e.Actuation)
	assert.Equal(t, Identity{}, e.Transform)

	dim, err := ApplyTransform(mustResolve(t, r, "dimmer", "", 2), int64(500))
	require.NoError(t, err)
	assert.Equal(t, 0.5, dim)

	dim, err = ApplyTransform(mustResolve(t, r, "dimmer", "_TZE200_3p5ydos3", 2), int64(255))
	require.NoError(t, err)
	assert.Equal(t, 1.0, dim)
}

func mustResolve(t *testing.T, r *Registry, deviceType, manufacturer string, dp uint8) Entry {
	t.Helper()

	e, ok := r.Resolve(deviceType, manufacturer, dp)
	require.True(t, ok)
	return e
}
