package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
version: 2
device_types:
  - name: thermostat
    endpoint: 1
    bind:
      - cluster: 0xef00
    datapoints:
      - dp: 2
        capability: target_temperature
        type: value
        direction: both
        transform:
          - kind: scale
            divisor: 10
      - dp: 4
        capability: mode
        type: enum
        direction: both
        transform:
          - kind: enum
            values: [auto, manual, off]
overrides:
  - manufacturer: _TZE200_thermo
    device_type: thermostat
    datapoints:
      - dp: 2
        capability: target_temperature
        type: value
        direction: both
        transform:
          - kind: scale
            divisor: 2
fingerprints:
  - manufacturer: _TZE200_thermo
    model: TS0601
    device_type: thermostat
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)

	r, warnings, err := NewRegistry(c)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	dt, ok := r.Match("_TZE200_thermo", "TS0601")
	require.True(t, ok)
	assert.Equal(t, "thermostat", dt)

	e, ok := r.ResolveCapability("thermostat", "_TZE200_thermo", "target_temperature")
	require.True(t, ok)
	v, err := ReverseTransform(e, 21.5)
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)

	e, ok = r.Resolve("thermostat", "", 4)
	require.True(t, ok)
	v, err = ApplyTransform(e, uint8(1))
	require.NoError(t, err)
	assert.Equal(t, "manual", v)

	// built-in device types are still there
	_, ok = r.Resolve("switch", "", 1)
	assert.True(t, ok)
}

func TestCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown transform", "device_types:\n  - name: x\n    datapoints:\n      - {dp: 1, capability: a, type: value, transform: [{kind: log}]}\n"},
		{"unknown type", "device_types:\n  - name: x\n    datapoints:\n      - {dp: 1, capability: a, type: float}\n"},
		{"unknown direction", "device_types:\n  - name: x\n    datapoints:\n      - {dp: 1, capability: a, type: bool, direction: sideways}\n"},
		{"zero divisor", "device_types:\n  - name: x\n    datapoints:\n      - {dp: 1, capability: a, type: value, transform: [{kind: scale}]}\n"},
		{"unknown field", "device_type:\n  - name: x\n"},
		{"override without manufacturer", "overrides:\n  - device_type: switch\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCatalog([]byte(tt.body))
			if err == nil {
				err = c.Apply(NewBuilder())
			}
			assert.ErrorIs(t, err, ErrCatalog)
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrCatalog)
}
