package session

import (
	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/datapoint"
)

// Event is an inbound message for one session, processed in arrival order.
type Event interface {
	event()
}

// DatapointEvent carries the records of a 0xEF00 report or response.
type DatapointEvent struct {
	Reports []datapoint.Report
}

// ZoneStatusEvent carries an IAS Zone Status Change Notification.
type ZoneStatusEvent struct {
	Status uint16
}

// EnrollRequestEvent is an IAS Zone Enroll Request from the device.
type EnrollRequestEvent struct{}

// AttributeEvent is one attribute of a standard cluster, reported or read.
type AttributeEvent struct {
	Cluster   zigbee.ClusterID
	Attribute zcl.AttributeID
	Value     interface{}
}

func (DatapointEvent) event()     {}
func (ZoneStatusEvent) event()    {}
func (EnrollRequestEvent) event() {}
func (AttributeEvent) event()     {}
