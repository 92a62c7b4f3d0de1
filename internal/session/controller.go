// Package session runs one controller per paired device. The controller is
// the only writer of the device's capability values and enrollment state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/actuation"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"github.com/supby/tuyazigbee/internal/db"
	"github.com/supby/tuyazigbee/internal/enrollment"
	"github.com/supby/tuyazigbee/internal/journal"
	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
)

const (
	eventQueueSize = 64

	keyCalibration    = "calibration"
	keyEnrollmentTier = "enrollment/tier"

	clusterPowerConfiguration = zigbee.ClusterID(0x0001)
	clusterOnOff              = zigbee.ClusterID(0x0006)
	clusterLevelControl       = zigbee.ClusterID(0x0008)

	attrBatteryPercentage = zcl.AttributeID(0x0021)
	attrOnOff             = zcl.AttributeID(0x0000)
	attrCurrentLevel      = zcl.AttributeID(0x0000)

	zoneAlarm1     = 1 << 0
	zoneTamper     = 1 << 2
	zoneBatteryLow = 1 << 3

	capabilityTamper  = "alarm_tamper"
	capabilityBattery = "alarm_battery"
	capabilityLevel   = "measure_battery"
)

type calibrationEvent struct {
	capability string
	offset     float64
}

func (calibrationEvent) event() {}

type Controller struct {
	device     Device
	deviceType mapping.DeviceType
	registry   *mapping.Registry
	executor   *actuation.Executor
	host       Host
	logger     logger.Logger

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	wg     sync.WaitGroup

	mu     sync.Mutex
	writes map[string]*writeQueue
	// removing is held for writing while the session is cancelled, so a
	// write that finishes concurrently either stores first or sees removal.
	removing    sync.RWMutex
	calibration map[string]float64
	lastDevice  map[string]interface{}

	zone      *enrollment.IASZone
	machine   *enrollment.Machine
	confirmed bool
}

func New(dev Device, cfg Config, host Host) (*Controller, error) {
	dt, ok := cfg.Registry.DeviceType(dev.DeviceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, dev.DeviceType)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		device:      dev,
		deviceType:  dt,
		registry:    cfg.Registry,
		executor:    cfg.Executor,
		host:        host,
		logger:      logger.GetLogger(fmt.Sprintf("[Session 0x%016x]", dev.IEEEAddress), cfg.LogLevel),
		events:      make(chan Event, eventQueueSize),
		ctx:         ctx,
		cancel:      cancel,
		writes:      make(map[string]*writeQueue),
		calibration: make(map[string]float64),
		lastDevice:  make(map[string]interface{}),
	}

	if dt.ZoneCapability != "" {
		c.zone = enrollment.NewIASZone(host.Link, dt.Endpoint, host.CIEAddress, cfg.Enrollment.ZoneID, cfg.Enrollment.PollInterval)
		c.machine = enrollment.NewMachine(enrollment.Options{
			Store:    tierStore{values: host.Values, ieeeAddress: dev.IEEEAddress},
			Tiers:    c.zone.Tiers(),
			Timeouts: cfg.Enrollment.Timeouts,
			Logger:   c.logger,
		})
	}

	return c, nil
}

func (c *Controller) Device() Device {
	return c.device
}

// Pair starts the session: calibration is loaded, the event loop and
// enrollment start, and the device type's clusters are bound and read.
func (c *Controller) Pair(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrRemoved
	}

	c.start.Do(func() {
		c.loadCalibration(ctx)

		c.wg.Add(1)
		go c.loop()

		if c.machine != nil {
			c.wg.Add(1)
			go c.enroll()
		}
	})

	c.bind(ctx)
	return nil
}

func (c *Controller) bind(ctx context.Context) {
	for _, b := range c.deviceType.Bindings {
		if err := c.host.Link.Bind(ctx, c.deviceType.Endpoint, b.ClusterID); err != nil {
			c.logger.Warn("bind cluster 0x%04x: %v", uint16(b.ClusterID), err)
			continue
		}

		if len(b.Attributes) == 0 {
			continue
		}

		values, err := c.host.Link.ReadAttributes(ctx, c.deviceType.Endpoint, b.ClusterID, b.Attributes)
		if err != nil {
			c.logger.Warn("read cluster 0x%04x: %v", uint16(b.ClusterID), err)
			continue
		}

		for _, attr := range b.Attributes {
			if v, ok := values[attr]; ok {
				c.Deliver(AttributeEvent{Cluster: b.ClusterID, Attribute: attr, Value: v})
			}
		}
	}
}

func (c *Controller) enroll() {
	defer c.wg.Done()

	state, err := c.machine.Run(c.ctx)
	if err != nil {
		c.logger.Info("enrollment stopped at %v: %v", state, err)
		return
	}

	c.logger.Info("zone enrolled, passive: %v", c.machine.Passive())
}

// Deliver queues an inbound event. It returns false once the session is gone.
func (c *Controller) Deliver(ev Event) bool {
	if c.ctx.Err() != nil {
		return false
	}

	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev Event) {
	switch e := ev.(type) {
	case DatapointEvent:
		c.handleReports(e.Reports)
	case ZoneStatusEvent:
		c.handleZoneStatus(e.Status)
	case EnrollRequestEvent:
		if c.zone != nil {
			c.zone.EnrollRequested()
		}
	case AttributeEvent:
		c.handleAttribute(e)
	case calibrationEvent:
		c.handleCalibration(e)
	}
}

func (c *Controller) handleReports(reports []datapoint.Report) {
	for _, r := range reports {
		entry, ok := c.registry.Resolve(c.device.DeviceType, c.device.Manufacturer, r.ID)
		if !ok {
			c.logger.Debug("dp %d (%v) is not mapped for %v", r.ID, r.Type, c.device.DeviceType)
			c.record(r, "unmapped")
			continue
		}

		v, err := datapoint.Decode(r)
		if err != nil {
			c.logger.Warn("dropping dp %d [% x]: %v", r.ID, r.Data, err)
			c.record(r, err.Error())
			continue
		}

		c.accept(entry, v)
	}
}

func (c *Controller) accept(entry mapping.Entry, v interface{}) {
	c.mu.Lock()
	c.lastDevice[entry.CapabilityID] = v
	c.mu.Unlock()

	if !entry.Readable() {
		return
	}

	value, err := mapping.ApplyTransform(entry, v)
	if err != nil {
		c.logger.Warn("dp %d (%v): %v", entry.DatapointID, entry.CapabilityID, err)
		return
	}

	c.setCapability(entry.CapabilityID, c.calibrate(entry, value, 1))
}

func (c *Controller) handleZoneStatus(status uint16) {
	if c.machine != nil && c.machine.Passive() && !c.confirmed {
		c.confirmed = true
		c.logger.Info("zone status 0x%04x taken as enrollment confirmation", status)
	}

	if c.deviceType.ZoneCapability != "" {
		c.setCapability(c.deviceType.ZoneCapability, status&zoneAlarm1 != 0)
	}
	c.setCapability(capabilityTamper, status&zoneTamper != 0)
	c.setCapability(capabilityBattery, status&zoneBatteryLow != 0)
}

func (c *Controller) handleAttribute(e AttributeEvent) {
	switch {
	case e.Cluster == enrollment.ClusterIASZone && e.Attribute == enrollment.AttrZoneStatus:
		if status, ok := toFloat(e.Value); ok {
			c.handleZoneStatus(uint16(status))
		}

	case e.Cluster == clusterPowerConfiguration && e.Attribute == attrBatteryPercentage:
		// half percent units, 0xff is invalid
		if f, ok := toFloat(e.Value); ok && f != 0xff {
			c.setCapability(capabilityLevel, f/2)
		}

	case e.Cluster == clusterOnOff && e.Attribute == attrOnOff:
		c.acceptClass(mapping.ClassOnOff, e.Value)

	case e.Cluster == clusterLevelControl && e.Attribute == attrCurrentLevel:
		c.acceptClass(mapping.ClassLevel, e.Value)

	default:
		c.logger.Debug("ignoring attribute 0x%04x of cluster 0x%04x", uint16(e.Attribute), uint16(e.Cluster))
	}
}

func (c *Controller) acceptClass(class mapping.Class, v interface{}) {
	entry, ok := c.registry.ResolveClass(c.device.DeviceType, c.device.Manufacturer, class)
	if !ok {
		return
	}

	if f, ok := toFloat(v); ok {
		v = int64(f)
	}

	c.accept(entry, v)
}

func (c *Controller) setCapability(capability string, value interface{}) {
	if err := c.host.Capabilities.SetCapabilityValue(c.device.IEEEAddress, capability, value); err != nil {
		c.logger.Warn("set %v: %v", capability, err)
	}
}

// calibrate adds (sign 1) or removes (sign -1) the capability's offset on
// calibrated entries.
func (c *Controller) calibrate(entry mapping.Entry, value interface{}, sign float64) interface{} {
	if !entry.Calibrated {
		return value
	}

	c.mu.Lock()
	offset := c.calibration[entry.CapabilityID]
	c.mu.Unlock()

	f, ok := toFloat(value)
	if !ok || offset == 0 {
		return value
	}

	return f + sign*offset
}

// SetCapability writes a capability value to the device. Calls for the same
// capability run one at a time in call order; the value is stored only once a
// strategy is acknowledged. Once attempts begin the write is not cancelled by
// ctx. A write that completes after Remove returns ErrRemoved and stores
// nothing.
func (c *Controller) SetCapability(ctx context.Context, capability string, value interface{}) (actuation.Result, error) {
	if c.ctx.Err() != nil {
		return actuation.Result{}, ErrRemoved
	}

	entry, ok := c.registry.ResolveCapability(c.device.DeviceType, c.device.Manufacturer, capability)
	if !ok {
		return actuation.Result{}, fmt.Errorf("%w: %q on %v", ErrUnsupportedCapability, capability, c.device.DeviceType)
	}

	queue := c.writeQueue(capability)
	queue.acquire()
	defer queue.release()

	if c.ctx.Err() != nil {
		return actuation.Result{}, ErrRemoved
	}

	deviceValue, err := mapping.ReverseTransform(entry, c.calibrate(entry, value, -1))
	if err != nil {
		return actuation.Result{}, err
	}

	c.mu.Lock()
	last := c.lastDevice[capability]
	c.mu.Unlock()

	result, err := c.executor.Execute(context.WithoutCancel(ctx), c.host.Link, capability, actuation.Target{
		Endpoint:  c.deviceType.Endpoint,
		Entry:     entry,
		Value:     deviceValue,
		LastKnown: last,
	})

	c.removing.RLock()
	defer c.removing.RUnlock()

	if c.ctx.Err() != nil {
		c.logger.Info("%v: device removed during write, dropping result", capability)
		return result, ErrRemoved
	}

	if err != nil {
		c.host.Capabilities.Republish(c.device.IEEEAddress, capability)
		return result, err
	}

	c.mu.Lock()
	c.lastDevice[capability] = deviceValue
	c.mu.Unlock()

	accepted, err := mapping.ApplyTransform(entry, deviceValue)
	if err != nil {
		accepted = value
	}
	c.setCapability(capability, c.calibrate(entry, accepted, 1))

	return result, nil
}

func (c *Controller) writeQueue(capability string) *writeQueue {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.writes[capability]
	if !ok {
		q = &writeQueue{}
		c.writes[capability] = q
	}

	return q
}

// SetCalibration sets the offset added to a calibrated capability. It is
// applied in order with inbound reports.
func (c *Controller) SetCalibration(capability string, offset float64) error {
	calibrated := false
	for _, e := range c.registry.Entries(c.device.DeviceType, c.device.Manufacturer) {
		if e.CapabilityID == capability && e.Calibrated && e.Readable() {
			calibrated = true
		}
	}
	if !calibrated {
		return fmt.Errorf("%w: %q cannot be calibrated", ErrUnsupportedCapability, capability)
	}

	if !c.Deliver(calibrationEvent{capability: capability, offset: offset}) {
		return ErrRemoved
	}

	return nil
}

func (c *Controller) handleCalibration(e calibrationEvent) {
	c.mu.Lock()
	old := c.calibration[e.capability]
	c.calibration[e.capability] = e.offset
	snapshot := make(map[string]float64, len(c.calibration))
	for k, v := range c.calibration {
		snapshot[k] = v
	}
	c.mu.Unlock()

	c.persist(c.ctx, keyCalibration, snapshot)

	if v, ok := c.host.Capabilities.GetCapabilityValue(c.device.IEEEAddress, e.capability); ok {
		if f, ok := toFloat(v); ok {
			c.setCapability(e.capability, f-old+e.offset)
		}
	}
}

func (c *Controller) loadCalibration(ctx context.Context) {
	var offsets map[string]float64

	err := c.host.Values.GetValue(ctx, c.device.IEEEAddress, keyCalibration, &offsets)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		err = c.host.Values.GetValue(ctx, c.device.IEEEAddress, keyCalibration, &offsets)
	}
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			c.logger.Warn("load calibration: %v", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range offsets {
		c.calibration[k] = v
	}
}

// persist writes a device-local value, retrying once.
func (c *Controller) persist(ctx context.Context, key string, value interface{}) {
	err := c.host.Values.SetValue(ctx, c.device.IEEEAddress, key, value)
	if err != nil {
		err = c.host.Values.SetValue(ctx, c.device.IEEEAddress, key, value)
	}
	if err != nil {
		c.logger.Warn("persist %v: %v", key, err)
	}
}

func (c *Controller) record(r datapoint.Report, reason string) {
	if c.host.Journal == nil {
		return
	}

	err := c.host.Journal.Record(c.ctx, journal.Entry{
		IEEEAddress:  c.device.IEEEAddress,
		DeviceType:   c.device.DeviceType,
		Manufacturer: c.device.Manufacturer,
		Datapoint:    r.ID,
		TypeTag:      uint8(r.Type),
		Raw:          r.Data,
		Reason:       reason,
	})
	if err != nil {
		c.logger.Warn("journal dp %d: %v", r.ID, err)
	}
}

// Value returns the current value of a capability.
func (c *Controller) Value(capability string) (interface{}, bool) {
	return c.host.Capabilities.GetCapabilityValue(c.device.IEEEAddress, capability)
}

func (c *Controller) EnrollmentState() enrollment.State {
	if c.machine == nil {
		return enrollment.Unenrolled
	}

	return c.machine.State()
}

// Stop ends the session and keeps its persisted state, used at shutdown.
func (c *Controller) Stop() {
	c.removing.Lock()
	c.cancel()
	c.removing.Unlock()

	c.wg.Wait()
}

// Remove ends the session and discards everything kept for the device, so a
// new pairing starts unenrolled and uncalibrated.
func (c *Controller) Remove(ctx context.Context) {
	c.Stop()

	if c.machine != nil {
		c.machine.Reset(ctx)
	}

	err := c.host.Values.DeleteValue(ctx, c.device.IEEEAddress, keyCalibration)
	if err != nil {
		err = c.host.Values.DeleteValue(ctx, c.device.IEEEAddress, keyCalibration)
	}
	if err != nil {
		c.logger.Warn("clear calibration: %v", err)
	}

	c.host.Capabilities.Forget(c.device.IEEEAddress)
}

type tierStore struct {
	values      ValueStore
	ieeeAddress uint64
}

func (s tierStore) LoadTier(ctx context.Context) (enrollment.State, bool, error) {
	var tier uint8

	err := s.values.GetValue(ctx, s.ieeeAddress, keyEnrollmentTier, &tier)
	if errors.Is(err, db.ErrNotFound) {
		return enrollment.Unenrolled, false, nil
	}
	if err != nil {
		return enrollment.Unenrolled, false, err
	}

	return enrollment.State(tier), true, nil
}

func (s tierStore) SaveTier(ctx context.Context, state enrollment.State) error {
	return s.values.SetValue(ctx, s.ieeeAddress, keyEnrollmentTier, uint8(state))
}

func (s tierStore) ClearTier(ctx context.Context) error {
	return s.values.DeleteValue(ctx, s.ieeeAddress, keyEnrollmentTier)
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	}

	return 0, false
}
