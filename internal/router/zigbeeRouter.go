package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/global"
	"github.com/shimmeringbee/zcl/commands/local/ias_zone"
	"github.com/shimmeringbee/zcl/commands/local/level"
	"github.com/shimmeringbee/zcl/commands/local/onoff"
	"github.com/shimmeringbee/zigbee"
	"github.com/shimmeringbee/zstack"
	"github.com/supby/tuyazigbee/internal/capability"
	"github.com/supby/tuyazigbee/internal/configuration"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"github.com/supby/tuyazigbee/internal/db"
	"github.com/supby/tuyazigbee/internal/enrollment"
	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/mqtt"
	"github.com/supby/tuyazigbee/internal/session"
	"github.com/supby/tuyazigbee/internal/types"
	"go.bug.st/serial.v1"
)

const (
	adapterEndpoint   = zigbee.Endpoint(0x01)
	interviewEndpoint = zigbee.Endpoint(0x01)

	clusterBasic         = zigbee.ClusterID(0x0000)
	attrManufacturerName = zcl.AttributeID(0x0004)
	attrModelIdentifier  = zcl.AttributeID(0x0005)

	iasZoneStatusChange = uint8(0x00)
	iasZoneEnrollReq    = uint8(0x01)

	defaultResponseWindow = time.Second
	interviewTimeout      = 30 * time.Second
	timeSyncTimeout       = 5 * time.Second
)

// ZigbeeOptions is what the Zigbee router needs besides the adapter itself.
// Journal may be nil.
type ZigbeeOptions struct {
	Configuration configuration.ConfigurationService
	Database      db.DeviceDB
	Catalog       *mapping.Registry
	Session       session.Config
	Capabilities  capability.Store
	Journal       session.Journal
	// ResponseWindow is how long an acknowledged command waits for a ZCL
	// response that could reject it.
	ResponseWindow time.Duration
}

type zigbeeRouter struct {
	zstack              *zstack.ZStack
	adapterIEEE         zigbee.IEEEAddress
	configuration       configuration.ConfigurationService
	zclCommandRegistry  *zcl.CommandRegistry
	catalog             *mapping.Registry
	database            db.DeviceDB
	sessions            *session.Manager
	pending             *pendingTracker
	sequence            uint32
	responseWindow      time.Duration
	onDeviceDescription func(devMsg mqtt.DeviceDescriptionMessage)
	logger              logger.Logger
}

func NewZigbeeRouter(opts ZigbeeOptions) ZigbeeRouter {
	zclCommandRegistry := zcl.NewCommandRegistry()
	global.Register(zclCommandRegistry)
	onoff.Register(zclCommandRegistry)
	level.Register(zclCommandRegistry)
	ias_zone.Register(zclCommandRegistry)

	if opts.ResponseWindow == 0 {
		opts.ResponseWindow = defaultResponseWindow
	}

	ret := &zigbeeRouter{
		configuration:      opts.Configuration,
		zclCommandRegistry: zclCommandRegistry,
		catalog:            opts.Catalog,
		database:           opts.Database,
		pending:            newPendingTracker(),
		responseWindow:     opts.ResponseWindow,
		logger:             logger.GetLogger("[Zigbee Router]", opts.Session.LogLevel),
	}

	ret.sessions = session.NewManager(opts.Session, func(ieeeAddress uint64) session.Host {
		return session.Host{
			Link:         &deviceLink{router: ret, ieeeAddress: zigbee.IEEEAddress(ieeeAddress)},
			Capabilities: opts.Capabilities,
			Values:       opts.Database,
			Journal:      opts.Journal,
			CIEAddress:   ret.adapterAddress(),
		}
	})

	return ret
}

func (mh *zigbeeRouter) Sessions() *session.Manager {
	return mh.sessions
}

func (mh *zigbeeRouter) SubscribeOnDeviceDescription(callback func(devMsg mqtt.DeviceDescriptionMessage)) {
	mh.onDeviceDescription = callback
}

func (mh *zigbeeRouter) ProccessSetDeviceConfigMessage(ctx context.Context, devCmd types.DeviceConfigSetMessage) {
	cfg := mh.configuration.GetConfiguration()
	if devCmd.PermitJoin == cfg.PermitJoin {
		return
	}

	if devCmd.PermitJoin {
		if err := mh.zstack.PermitJoin(ctx, true); err != nil {
			mh.logger.Error("PermitJoin: %v", err)
			return
		}
	} else {
		if err := mh.zstack.DenyJoin(ctx); err != nil {
			mh.logger.Error("DenyJoin: %v", err)
			return
		}
	}

	cfg.PermitJoin = devCmd.PermitJoin
	if err := mh.configuration.Update(cfg); err != nil {
		mh.logger.Warn("saving configuration: %v", err)
	}
}

// ProccessRemoveMessage asks the node to leave and forgets it either way.
func (mh *zigbeeRouter) ProccessRemoveMessage(ctx context.Context, devCmd types.DeviceRemoveMessage) {
	ieeeAddress := zigbee.IEEEAddress(devCmd.IEEEAddress)

	if err := mh.zstack.RequestNodeLeave(ctx, ieeeAddress); err != nil {
		mh.logger.Warn("leave request to 0x%016x: %v", devCmd.IEEEAddress, err)
	}

	mh.forget(ctx, ieeeAddress)
}

func (mh *zigbeeRouter) forget(ctx context.Context, ieeeAddress zigbee.IEEEAddress) {
	if mh.sessions.Remove(ctx, uint64(ieeeAddress)) {
		mh.logger.Info("session of 0x%016x removed", uint64(ieeeAddress))
	}

	if err := mh.database.DeleteDevice(ctx, uint64(ieeeAddress)); err != nil && !errors.Is(err, db.ErrNotFound) {
		mh.logger.Warn("deleting 0x%016x: %v", uint64(ieeeAddress), err)
	}
}

func (mh *zigbeeRouter) Run(ctx context.Context) error {
	z, err := mh.initZStack(ctx)
	if err != nil {
		return fmt.Errorf("zstack initialization: %w", err)
	}

	adapterIEEE, err := z.GetAdapterIEEEAddress(ctx)
	if err != nil {
		z.Stop()
		return fmt.Errorf("reading adapter address: %w", err)
	}

	mh.zstack = z
	mh.adapterIEEE = adapterIEEE
	mh.logger.Info("adapter 0x%016x", uint64(adapterIEEE))

	mh.resumeSessions(ctx)
	mh.startEventLoop(ctx)

	return nil
}

func (mh *zigbeeRouter) Stop() {
	mh.sessions.Close()

	if mh.zstack == nil {
		return
	}

	mh.zstack.Stop()
}

// adapterAddress is the coordinator's IEEE address, zero before Run.
func (mh *zigbeeRouter) adapterAddress() zigbee.IEEEAddress {
	return mh.adapterIEEE
}

func (mh *zigbeeRouter) initZStack(ctx context.Context) (*zstack.ZStack, error) {
	cfg := mh.configuration.GetConfiguration()

	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	mode := &serial.Mode{
		BaudRate: int(cfg.SerialConfiguration.BaudRate),
	}

	port, err := serial.Open(cfg.SerialConfiguration.PortName, mode)
	if err != nil {
		return nil, err
	}
	port.SetRTS(true)

	/* Construct node table, cache of network nodes. */
	dbDevices, err := mh.database.GetDevices(initCtx)
	if err != nil {
		return nil, err
	}
	t := zstack.NewNodeTable()
	znodes := make([]zigbee.Node, len(dbDevices))
	for i, dbNode := range dbDevices {
		znodes[i] = zigbee.Node{
			IEEEAddress:    zigbee.IEEEAddress(dbNode.IEEEAddress),
			NetworkAddress: zigbee.NetworkAddress(dbNode.NetworkAddress),
			LogicalType:    zigbee.LogicalType(dbNode.LogicalType),
			LQI:            dbNode.LQI,
			Depth:          dbNode.Depth,
			LastDiscovered: dbNode.LastDiscovered,
			LastReceived:   dbNode.LastReceived,
		}
	}
	t.Load(znodes)

	z := zstack.New(port, t)

	netCfg := zigbee.NetworkConfiguration{
		PANID:         zigbee.PANID(cfg.ZNetworkConfiguration.PANID),
		ExtendedPANID: zigbee.ExtendedPANID(cfg.ZNetworkConfiguration.ExtendedPANID),
		NetworkKey:    cfg.ZNetworkConfiguration.NetworkKey,
		Channel:       cfg.ZNetworkConfiguration.Channel,
	}

	if err := z.Initialise(initCtx, netCfg); err != nil {
		return nil, err
	}

	if cfg.PermitJoin {
		if err := z.PermitJoin(initCtx, true); err != nil {
			mh.logger.Warn("permit join: %v", err)
		}
	} else {
		if err := z.DenyJoin(initCtx); err != nil {
			mh.logger.Warn("deny join: %v", err)
		}
	}

	if err := z.RegisterAdapterEndpoint(
		initCtx,
		adapterEndpoint,
		zigbee.ProfileHomeAutomation,
		1,
		1,
		[]zigbee.ClusterID{},
		[]zigbee.ClusterID{enrollment.ClusterIASZone}); err != nil {
		return nil, err
	}

	return z, nil
}

// resumeSessions pairs a session for every known device whose type was
// resolved before.
func (mh *zigbeeRouter) resumeSessions(ctx context.Context) {
	devices, err := mh.database.GetDevices(ctx)
	if err != nil {
		mh.logger.Error("loading devices: %v", err)
		return
	}

	for _, d := range devices {
		if d.DeviceType == "" {
			continue
		}

		go mh.pair(ctx, d)
	}
}

func (mh *zigbeeRouter) startEventLoop(ctx context.Context) {
	mh.logger.Info("[Event loop] Start event")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		event, err := mh.zstack.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			mh.logger.Warn("[Event loop] Error read event: %v", err)
			continue
		}

		switch e := event.(type) {
		case zigbee.NodeJoinEvent:
			mh.logger.Info("[Event loop] Node join: 0x%016x", uint64(e.IEEEAddress))
			go mh.processNodeJoin(ctx, e)
		case zigbee.NodeLeaveEvent:
			mh.logger.Info("[Event loop] Node leave: 0x%016x", uint64(e.IEEEAddress))
			go mh.forget(ctx, e.IEEEAddress)
		case zigbee.NodeUpdateEvent:
			mh.logger.Debug("[Event loop] Node update: 0x%016x", uint64(e.IEEEAddress))
			go mh.saveNode(ctx, e.Node)
		case zigbee.NodeIncomingMessageEvent:
			// in the loop so a device's reports reach its session in arrival order
			mh.processIncomingMessage(ctx, e)
		}
	}
}

func (mh *zigbeeRouter) processNodeJoin(ctx context.Context, e zigbee.NodeJoinEvent) {
	device := mh.saveNode(ctx, e.Node)

	ctx, cancel := context.WithTimeout(ctx, interviewTimeout)
	defer cancel()

	values, err := mh.readAttributes(ctx, e.IEEEAddress, interviewEndpoint, clusterBasic,
		[]zcl.AttributeID{attrManufacturerName, attrModelIdentifier})
	if err != nil {
		mh.logger.Warn("interview of 0x%016x: %v", uint64(e.IEEEAddress), err)
		return
	}

	device.Manufacturer, _ = values[attrManufacturerName].(string)
	device.Model, _ = values[attrModelIdentifier].(string)

	deviceType, ok := mh.catalog.Match(device.Manufacturer, device.Model)
	if !ok {
		mh.logger.Warn("no device type for %q/%q (0x%016x)", device.Manufacturer, device.Model, uint64(e.IEEEAddress))
	}
	device.DeviceType = deviceType

	if err := mh.database.SaveDevice(ctx, device); err != nil {
		mh.logger.Warn("saving 0x%016x: %v", device.IEEEAddress, err)
	}

	if ok {
		mh.pair(ctx, device)
	}
}

func (mh *zigbeeRouter) pair(ctx context.Context, d db.Device) {
	_, err := mh.sessions.Pair(ctx, session.Device{
		IEEEAddress:  d.IEEEAddress,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		DeviceType:   d.DeviceType,
	})
	if err != nil {
		mh.logger.Warn("pairing 0x%016x as %v: %v", d.IEEEAddress, d.DeviceType, err)
		return
	}

	mh.logger.Info("0x%016x paired as %v", d.IEEEAddress, d.DeviceType)

	if mh.onDeviceDescription != nil {
		mh.onDeviceDescription(mqtt.DeviceDescriptionMessage{
			IEEEAddress:  d.IEEEAddress,
			Manufacturer: d.Manufacturer,
			Model:        d.Model,
			DeviceType:   d.DeviceType,
			Capabilities: mh.catalog.Capabilities(d.DeviceType, d.Manufacturer),
		})
	}
}

// saveNode stores the network facts of a node, keeping what the interview
// resolved earlier.
func (mh *zigbeeRouter) saveNode(ctx context.Context, znode zigbee.Node) db.Device {
	device, err := mh.database.GetDevice(ctx, uint64(znode.IEEEAddress))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		mh.logger.Warn("loading 0x%016x: %v", uint64(znode.IEEEAddress), err)
	}

	device.IEEEAddress = uint64(znode.IEEEAddress)
	device.NetworkAddress = uint16(znode.NetworkAddress)
	device.LogicalType = uint8(znode.LogicalType)
	device.LQI = znode.LQI
	device.Depth = znode.Depth
	device.LastDiscovered = znode.LastDiscovered
	device.LastReceived = znode.LastReceived

	if err := mh.database.SaveDevice(ctx, device); err != nil {
		mh.logger.Warn("saving 0x%016x: %v", device.IEEEAddress, err)
	}

	return device
}

func (mh *zigbeeRouter) processIncomingMessage(ctx context.Context, e zigbee.NodeIncomingMessageEvent) {
	msg := e.IncomingMessage
	appMsg := msg.ApplicationMessage
	ieeeAddress := msg.SourceAddress.IEEEAddress

	switch appMsg.ClusterID {
	case datapoint.ClusterID, enrollment.ClusterIASZone:
		header, payload, err := parseHeader(appMsg.Data)
		if err != nil {
			mh.logger.Warn("0x%016x cluster 0x%04x: %v", uint64(ieeeAddress), uint16(appMsg.ClusterID), err)
			return
		}
		if header.FrameType == zcl.FrameLocal {
			mh.processClusterCommand(ctx, ieeeAddress, appMsg, header, payload)
			return
		}
	}

	message, err := mh.zclCommandRegistry.Unmarshal(appMsg)
	if err != nil {
		mh.logger.Debug("0x%016x: cannot parse cluster 0x%04x message: %v", uint64(ieeeAddress), uint16(appMsg.ClusterID), err)
		return
	}

	mh.logger.Debug("Incomming command of type (%T) is received. ClusterId=%v, SourceEndpoint=%v",
		message.Command, message.ClusterID, message.SourceEndpoint)

	switch cmd := message.Command.(type) {
	case *global.ReportAttributes:
		for _, r := range cmd.Records {
			if r.DataTypeValue == nil {
				continue
			}
			mh.deliver(ieeeAddress, session.AttributeEvent{
				Cluster:   appMsg.ClusterID,
				Attribute: r.Identifier,
				Value:     r.DataTypeValue.Value,
			})
		}
	case *global.ReadAttributesResponse, *global.DefaultResponse, *global.WriteAttributesResponse:
		if !mh.pending.resolve(ieeeAddress, message) {
			mh.logger.Debug("0x%016x: unsolicited %T (seq %d)", uint64(ieeeAddress), cmd, message.TransactionSequence)
		}
	}
}

func (mh *zigbeeRouter) processClusterCommand(ctx context.Context, ieeeAddress zigbee.IEEEAddress, appMsg zigbee.ApplicationMessage, header zclHeader, payload []byte) {
	if appMsg.ClusterID == enrollment.ClusterIASZone {
		switch header.Command {
		case iasZoneStatusChange:
			if len(payload) < 2 {
				mh.logger.Warn("0x%016x: short zone status [% x]", uint64(ieeeAddress), payload)
				return
			}
			mh.deliver(ieeeAddress, session.ZoneStatusEvent{Status: uint16(payload[0]) | uint16(payload[1])<<8})
		case iasZoneEnrollReq:
			mh.deliver(ieeeAddress, session.EnrollRequestEvent{})
		}
		return
	}

	switch header.Command {
	case datapoint.CommandDataResponse, datapoint.CommandDataReport, datapoint.CommandActiveStatusReport:
		frame, err := datapoint.ParseFrame(payload)
		if err != nil {
			mh.logger.Warn("0x%016x: dropping frame [% x]: %v", uint64(ieeeAddress), payload, err)
			return
		}
		mh.deliver(ieeeAddress, session.DatapointEvent{Reports: frame.Reports})

	case datapoint.CommandTimeSync:
		var sequence uint16
		if len(payload) >= 2 {
			sequence = uint16(payload[0])<<8 | uint16(payload[1])
		}
		go mh.answerTimeSync(ctx, ieeeAddress, appMsg.SourceEndpoint, sequence)

	default:
		mh.logger.Debug("0x%016x: ignoring 0xef00 command 0x%02x", uint64(ieeeAddress), header.Command)
	}
}

func (mh *zigbeeRouter) answerTimeSync(ctx context.Context, ieeeAddress zigbee.IEEEAddress, endpoint zigbee.Endpoint, sequence uint16) {
	ctx, cancel := context.WithTimeout(ctx, timeSyncTimeout)
	defer cancel()

	err := mh.sendCommand(ctx, ieeeAddress, types.Command{
		Endpoint:          endpoint,
		ClusterID:         datapoint.ClusterID,
		FrameType:         zcl.FrameLocal,
		CommandIdentifier: zcl.CommandIdentifier(datapoint.CommandTimeSync),
		Payload:           datapoint.TimeSyncResponse(sequence, time.Now()),
	})
	if err != nil {
		mh.logger.Warn("time sync to 0x%016x: %v", uint64(ieeeAddress), err)
	}
}

func (mh *zigbeeRouter) deliver(ieeeAddress zigbee.IEEEAddress, ev session.Event) {
	if !mh.sessions.Deliver(uint64(ieeeAddress), ev) {
		mh.logger.Debug("0x%016x has no session, dropping %T", uint64(ieeeAddress), ev)
	}
}

func (mh *zigbeeRouter) nextSequence() uint8 {
	return uint8(atomic.AddUint32(&mh.sequence, 1))
}

func (mh *zigbeeRouter) marshal(sequence uint8, cmd types.Command) (zigbee.ApplicationMessage, error) {
	if cmd.Command == nil {
		header := zclHeader{
			FrameType:    cmd.FrameType,
			Manufacturer: zigbee.NoManufacturer,
			Sequence:     sequence,
			Command:      uint8(cmd.CommandIdentifier),
		}

		return zigbee.ApplicationMessage{
			ClusterID:           cmd.ClusterID,
			SourceEndpoint:      adapterEndpoint,
			DestinationEndpoint: cmd.Endpoint,
			Data:                header.marshal(cmd.Payload),
		}, nil
	}

	return mh.zclCommandRegistry.Marshal(zcl.Message{
		FrameType:           cmd.FrameType,
		Direction:           zcl.ClientToServer,
		TransactionSequence: sequence,
		Manufacturer:        zigbee.NoManufacturer,
		ClusterID:           cmd.ClusterID,
		SourceEndpoint:      adapterEndpoint,
		DestinationEndpoint: cmd.Endpoint,
		CommandIdentifier:   cmd.CommandIdentifier,
		Command:             cmd.Command,
	})
}

// sendCommand sends cmd with an APS acknowledgement. A ZCL response arriving
// within the response window can still reject it.
func (mh *zigbeeRouter) sendCommand(ctx context.Context, ieeeAddress zigbee.IEEEAddress, cmd types.Command) error {
	sequence := mh.nextSequence()

	appMsg, err := mh.marshal(sequence, cmd)
	if err != nil {
		return fmt.Errorf("marshal cluster 0x%04x command 0x%02x: %w", uint16(cmd.ClusterID), uint8(cmd.CommandIdentifier), err)
	}

	responses, done := mh.pending.add(ieeeAddress, sequence)
	defer done()

	if err := mh.zstack.SendApplicationMessageToNode(ctx, ieeeAddress, appMsg, true); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", types.ErrCommandTimeout, err)
		}
		return err
	}

	window := time.NewTimer(mh.responseWindow)
	defer window.Stop()

	select {
	case msg := <-responses:
		return responseError(msg)
	case <-window.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (mh *zigbeeRouter) readAttributes(ctx context.Context, ieeeAddress zigbee.IEEEAddress, endpoint zigbee.Endpoint, cluster zigbee.ClusterID, attrs []zcl.AttributeID) (map[zcl.AttributeID]interface{}, error) {
	sequence := mh.nextSequence()

	appMsg, err := mh.zclCommandRegistry.Marshal(zcl.Message{
		FrameType:           zcl.FrameGlobal,
		Direction:           zcl.ClientToServer,
		TransactionSequence: sequence,
		Manufacturer:        zigbee.NoManufacturer,
		ClusterID:           cluster,
		SourceEndpoint:      adapterEndpoint,
		DestinationEndpoint: endpoint,
		CommandIdentifier:   global.ReadAttributesID,
		Command: &global.ReadAttributes{
			Identifier: attrs,
		},
	})
	if err != nil {
		return nil, err
	}

	responses, done := mh.pending.add(ieeeAddress, sequence)
	defer done()

	if err := mh.zstack.SendApplicationMessageToNode(ctx, ieeeAddress, appMsg, false); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCommandTimeout, err)
		}
		return nil, err
	}

	select {
	case msg := <-responses:
		return attributeValues(msg)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: read of cluster 0x%04x", types.ErrCommandTimeout, uint16(cluster))
	}
}

func responseError(msg zcl.Message) error {
	switch cmd := msg.Command.(type) {
	case *global.DefaultResponse:
		if cmd.Status != 0 {
			return fmt.Errorf("%w: command 0x%02x status 0x%02x", types.ErrCommandRejected, cmd.CommandIdentifier, cmd.Status)
		}
	case *global.WriteAttributesResponse:
		for _, r := range cmd.Records {
			if r.Status != 0 {
				return fmt.Errorf("%w: attribute 0x%04x status 0x%02x", types.ErrCommandRejected, uint16(r.Identifier), r.Status)
			}
		}
	}

	return nil
}

func attributeValues(msg zcl.Message) (map[zcl.AttributeID]interface{}, error) {
	switch cmd := msg.Command.(type) {
	case *global.ReadAttributesResponse:
		values := make(map[zcl.AttributeID]interface{}, len(cmd.Records))
		for _, r := range cmd.Records {
			if r.Status == 0 && r.DataTypeValue != nil {
				values[r.Identifier] = r.DataTypeValue.Value
			}
		}
		return values, nil
	case *global.DefaultResponse:
		return nil, fmt.Errorf("%w: status 0x%02x", types.ErrCommandRejected, cmd.Status)
	}

	return nil, fmt.Errorf("%w: unexpected %T", types.ErrCommandRejected, msg.Command)
}
