// Package datapoint decodes and encodes Tuya datapoints, the (id, type, value)
// triples carried by the vendor's private cluster 0xEF00.
package datapoint

import (
	"fmt"

	"github.com/shimmeringbee/zigbee"
)

// ClusterID is the Tuya private cluster carrying all datapoint traffic.
const ClusterID = zigbee.ClusterID(0xef00)

// Cluster commands of 0xEF00.
const (
	CommandDataRequest        uint8 = 0x00
	CommandDataResponse       uint8 = 0x01
	CommandDataReport         uint8 = 0x02
	CommandDataQuery          uint8 = 0x03
	CommandSendData           uint8 = 0x04
	CommandActiveStatusReport uint8 = 0x06
	CommandTimeSync           uint8 = 0x24
)

// Type is the datapoint type tag as sent on the wire.
type Type uint8

const (
	TypeRaw    Type = 0x00
	TypeBool   Type = 0x01
	TypeValue  Type = 0x02
	TypeString Type = 0x03
	TypeEnum   Type = 0x04
	TypeBitmap Type = 0x05
)

var typeNames = map[Type]string{
	TypeRaw:    "raw",
	TypeBool:   "bool",
	TypeValue:  "value",
	TypeString: "string",
	TypeEnum:   "enum",
	TypeBitmap: "bitmap",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}

	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// ParseType maps a catalog type name back to its tag.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}

	return 0, false
}

// Report is a single datapoint as received from, or sent to, a device.
type Report struct {
	ID   uint8
	Type Type
	Data []byte
}

// Bitmap is the unpacked form of a TypeBitmap datapoint. Width is the payload
// width in bytes (1, 2 or 4), Bits lists the set bit positions strictly
// ascending, nil when none are set. Decode always returns this form and
// Encode rejects anything else, so a decoded Bitmap round trips unchanged.
type Bitmap struct {
	Width int
	Bits  []uint
}

// Has reports whether bit is set.
func (b Bitmap) Has(bit uint) bool {
	for _, v := range b.Bits {
		if v == bit {
			return true
		}
	}

	return false
}
