package mapping

import (
	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/datapoint"
)

type Direction uint8

const (
	DirectionRead Direction = iota + 1
	DirectionWrite
	DirectionBoth
)

var directionNames = map[string]Direction{
	"read":  DirectionRead,
	"write": DirectionWrite,
	"both":  DirectionBoth,
}

func (d Direction) String() string {
	for n, v := range directionNames {
		if v == d {
			return n
		}
	}

	return "invalid"
}

// Class selects the family of command strategies used to write a capability.
type Class string

const (
	// ClassDatapoint writes through the 0xEF00 cluster.
	ClassDatapoint Class = "datapoint"
	// ClassLevel writes through the standard Level Control cluster.
	ClassLevel Class = "level"
	// ClassOnOff writes through the standard On/Off cluster.
	ClassOnOff Class = "onoff"
)

// Entry binds one datapoint of one device type to a capability.
type Entry struct {
	DeviceType   string
	DatapointID  uint8
	Type         datapoint.Type
	CapabilityID string
	Transform    Transform
	Direction    Direction
	Actuation    Class
	// Calibrated entries get the device's calibration offset for this capability.
	Calibrated bool
}

func (e Entry) Readable() bool {
	return e.Direction == DirectionRead || e.Direction == DirectionBoth
}

func (e Entry) Writable() bool {
	return e.Direction == DirectionWrite || e.Direction == DirectionBoth
}

// Binding is one cluster bound to the coordinator at pairing time, with the
// attributes to read back once bound.
type Binding struct {
	ClusterID  zigbee.ClusterID
	Attributes []zcl.AttributeID
}

// DeviceType carries the per-type facts the session needs besides datapoints.
type DeviceType struct {
	Name     string
	Endpoint zigbee.Endpoint
	Bindings []Binding
	// ZoneCapability is set for IAS zone sensors; alarm1 of the zone status maps to it.
	ZoneCapability string
}

// Fingerprint maps what the Basic cluster reports to a device type. An empty
// Manufacturer matches any manufacturer with that model.
type Fingerprint struct {
	Manufacturer string
	Model        string
	DeviceType   string
}
