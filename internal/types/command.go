package types

import (
	"errors"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
)

var (
	// ErrCommandTimeout is returned when a command got no acknowledgement in time.
	ErrCommandTimeout = errors.New("command not acknowledged in time")
	// ErrCommandRejected is returned when a device answered with a non-success status.
	ErrCommandRejected = errors.New("command rejected by device")
)

// Command is one outbound ZCL command addressed to an endpoint of a node.
// Either Command (a shimmeringbee zcl command struct marshalled through the
// command registry) or Payload (raw cluster-specific bytes) is set.
type Command struct {
	Endpoint          zigbee.Endpoint
	ClusterID         zigbee.ClusterID
	FrameType         zcl.FrameType
	CommandIdentifier zcl.CommandIdentifier
	Command           interface{}
	Payload           []byte
}
