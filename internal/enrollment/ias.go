package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/global"
	"github.com/shimmeringbee/zcl/commands/local/ias_zone"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/types"
)

const (
	ClusterIASZone = zigbee.ClusterID(0x0500)

	AttrZoneState     = zcl.AttributeID(0x0000)
	AttrZoneType      = zcl.AttributeID(0x0001)
	AttrZoneStatus    = zcl.AttributeID(0x0002)
	AttrIASCIEAddress = zcl.AttributeID(0x0010)
	AttrZoneID        = zcl.AttributeID(0x0011)

	zoneStateEnrolled = 0x01
	enrollSuccess     = 0x00

	DefaultPollInterval = 500 * time.Millisecond
)

// ErrNotEnrolled is returned by a tier that got an answer saying the zone is
// still not enrolled.
var ErrNotEnrolled = errors.New("enrollment: zone not enrolled")

// Link is what the IAS tiers need from the radio.
type Link interface {
	SendCommand(ctx context.Context, cmd types.Command) error
	ReadAttributes(ctx context.Context, endpoint zigbee.Endpoint, cluster zigbee.ClusterID, attrs []zcl.AttributeID) (map[zcl.AttributeID]interface{}, error)
}

// IASZone holds the IAS zone tiers of one device.
type IASZone struct {
	Link         Link
	Endpoint     zigbee.Endpoint
	CIEAddress   zigbee.IEEEAddress
	ZoneID       uint8
	PollInterval time.Duration

	requests chan struct{}
}

func NewIASZone(link Link, endpoint zigbee.Endpoint, cie zigbee.IEEEAddress, zoneID uint8, poll time.Duration) *IASZone {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &IASZone{
		Link:         link,
		Endpoint:     endpoint,
		CIEAddress:   cie,
		ZoneID:       zoneID,
		PollInterval: poll,
		requests:     make(chan struct{}, 1),
	}
}

// EnrollRequested signals a Zone Enroll Request from the device. It never blocks.
func (z *IASZone) EnrollRequested() {
	select {
	case z.requests <- struct{}{}:
	default:
	}
}

func (z *IASZone) Tiers() map[State]Tier {
	return map[State]Tier{
		Tier1: standardEnrollment{z},
		Tier2: autoEnrollment{z},
		Tier3: pollEnrollment{z},
	}
}

func (z *IASZone) command(id zcl.CommandIdentifier, frameType zcl.FrameType, cmd interface{}) types.Command {
	return types.Command{
		Endpoint:          z.Endpoint,
		ClusterID:         ClusterIASZone,
		FrameType:         frameType,
		CommandIdentifier: id,
		Command:           cmd,
	}
}

func (z *IASZone) enrollResponse(ctx context.Context) error {
	return z.Link.SendCommand(ctx, z.command(ias_zone.ZoneEnrollResponseId, zcl.FrameLocal, &ias_zone.ZoneEnrollResponse{
		ResponseCode: enrollSuccess,
		ZoneID:       z.ZoneID,
	}))
}

func (z *IASZone) zoneEnrolled(ctx context.Context) error {
	values, err := z.Link.ReadAttributes(ctx, z.Endpoint, ClusterIASZone, []zcl.AttributeID{AttrZoneState})
	if err != nil {
		return err
	}

	state, ok := toUint(values[AttrZoneState])
	if !ok {
		return fmt.Errorf("%w: zone state %v", ErrNotEnrolled, values[AttrZoneState])
	}
	if state != zoneStateEnrolled {
		return fmt.Errorf("%w: zone state %d", ErrNotEnrolled, state)
	}

	return nil
}

// standardEnrollment writes the CIE address, waits for the device's Zone
// Enroll Request and answers it.
type standardEnrollment struct{ z *IASZone }

func (standardEnrollment) Method() string { return "cie-address-handshake" }

func (t standardEnrollment) Attempt(ctx context.Context) error {
	// drop requests left from an earlier pairing
	select {
	case <-t.z.requests:
	default:
	}

	write := t.z.command(global.WriteAttributesID, zcl.FrameGlobal, &global.WriteAttributes{
		Records: []global.WriteAttributesRecord{
			{
				Identifier: AttrIASCIEAddress,
				DataTypeValue: &zcl.AttributeDataTypeValue{
					DataType: zcl.TypeIEEEAddress,
					Value:    t.z.CIEAddress,
				},
			},
		},
	})
	if err := t.z.Link.SendCommand(ctx, write); err != nil {
		return fmt.Errorf("write cie address: %w", err)
	}

	select {
	case <-t.z.requests:
	case <-ctx.Done():
		return ctx.Err()
	}

	return t.z.enrollResponse(ctx)
}

// autoEnrollment sends an unsolicited Zone Enroll Response and checks the
// zone state took it.
type autoEnrollment struct{ z *IASZone }

func (autoEnrollment) Method() string { return "auto-enroll-response" }

func (t autoEnrollment) Attempt(ctx context.Context) error {
	if err := t.z.enrollResponse(ctx); err != nil {
		return fmt.Errorf("enroll response: %w", err)
	}

	return t.z.zoneEnrolled(ctx)
}

// pollEnrollment polls the zone state until it reads enrolled.
type pollEnrollment struct{ z *IASZone }

func (pollEnrollment) Method() string { return "poll-zone-state" }

func (t pollEnrollment) Attempt(ctx context.Context) error {
	ticker := time.NewTicker(t.z.PollInterval)
	defer ticker.Stop()

	for {
		err := t.z.zoneEnrolled(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%v: %w", err, ctx.Err())
		}
	}
}

func toUint(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	}

	return 0, false
}
