package types

type DeviceSetMessage struct {
	IEEEAddress uint64
	Capability  string
	Value       interface{}
}

type DeviceCalibrateMessage struct {
	IEEEAddress uint64
	Capability  string
	Offset      float64
}

type DeviceRemoveMessage struct {
	IEEEAddress uint64
}

type DeviceConfigSetMessage struct {
	PermitJoin bool
}
