package mqtt

// CapabilitySetMessage is the payload of <root>/0x<ieee>/set.
type CapabilitySetMessage struct {
	Capability string      `json:"capability"`
	Value      interface{} `json:"value"`
}

// CalibrateMessage is the payload of <root>/0x<ieee>/calibrate.
type CalibrateMessage struct {
	Capability string  `json:"capability"`
	Offset     float64 `json:"offset"`
}

// CapabilityErrorMessage is published on <root>/0x<ieee>/error when a set fails.
type CapabilityErrorMessage struct {
	Capability string   `json:"capability"`
	Error      string   `json:"error"`
	Attempted  []string `json:"attempted,omitempty"`
}

type DeviceDescriptionMessage struct {
	IEEEAddress  uint64   `json:"ieeeAddress"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	DeviceType   string   `json:"deviceType"`
	Capabilities []string `json:"capabilities"`
}

type SetGatewayConfig struct {
	PermitJoin bool
}
