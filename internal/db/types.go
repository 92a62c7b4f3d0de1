package db

import "time"

// Device is a node as last seen by the coordinator, plus what its interview
// resolved it to.
type Device struct {
	IEEEAddress    uint64
	NetworkAddress uint16
	LogicalType    uint8
	LQI            uint8
	Depth          uint8
	LastDiscovered time.Time
	LastReceived   time.Time

	Manufacturer string
	Model        string
	DeviceType   string
}
