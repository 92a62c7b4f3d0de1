package router

import (
	"errors"
	"fmt"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
)

var errShortFrame = errors.New("zcl frame too short")

// Frame control bits of the ZCL header.
const (
	frameTypeMask          = 0x03
	frameManufacturer      = 0x04
	frameServerToClient    = 0x08
	frameNoDefaultResponse = 0x10
)

// zclHeader is the ZCL header of a cluster-specific frame the command
// registry has no definition for.
type zclHeader struct {
	FrameType         zcl.FrameType
	ServerToClient    bool
	NoDefaultResponse bool
	Manufacturer      zigbee.ManufacturerCode
	Sequence          uint8
	Command           uint8
}

func parseHeader(data []byte) (zclHeader, []byte, error) {
	if len(data) < 3 {
		return zclHeader{}, nil, fmt.Errorf("%w: % x", errShortFrame, data)
	}

	control := data[0]
	h := zclHeader{
		FrameType:         zcl.FrameType(control & frameTypeMask),
		ServerToClient:    control&frameServerToClient != 0,
		NoDefaultResponse: control&frameNoDefaultResponse != 0,
		Manufacturer:      zigbee.NoManufacturer,
	}

	rest := data[1:]
	if control&frameManufacturer != 0 {
		if len(rest) < 4 {
			return zclHeader{}, nil, fmt.Errorf("%w: % x", errShortFrame, data)
		}
		h.Manufacturer = zigbee.ManufacturerCode(uint16(rest[0]) | uint16(rest[1])<<8)
		rest = rest[2:]
	}

	h.Sequence = rest[0]
	h.Command = rest[1]

	return h, rest[2:], nil
}

func (h zclHeader) marshal(payload []byte) []byte {
	control := uint8(h.FrameType) & frameTypeMask
	if h.ServerToClient {
		control |= frameServerToClient
	}
	if h.NoDefaultResponse {
		control |= frameNoDefaultResponse
	}

	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, control)
	if h.Manufacturer != zigbee.NoManufacturer {
		buf[0] |= frameManufacturer
		buf = append(buf, byte(h.Manufacturer), byte(h.Manufacturer>>8))
	}

	buf = append(buf, h.Sequence, h.Command)
	return append(buf, payload...)
}
