package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supby/tuyazigbee/internal/actuation"
	"github.com/supby/tuyazigbee/internal/capability"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"github.com/supby/tuyazigbee/internal/db"
	"github.com/supby/tuyazigbee/internal/enrollment"
	"github.com/supby/tuyazigbee/internal/journal"
	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/types"
)

var errNoAck = errors.New("no ack")

type fakeLink struct {
	mu         sync.Mutex
	failures   int
	delay      time.Duration
	sent       []types.Command
	bound      []zigbee.ClusterID
	attributes map[zigbee.ClusterID]map[zcl.AttributeID]interface{}

	inflight    int32
	interleaved atomic.Bool
}

func (l *fakeLink) SendCommand(ctx context.Context, cmd types.Command) error {
	if atomic.AddInt32(&l.inflight, 1) > 1 {
		l.interleaved.Store(true)
	}
	defer atomic.AddInt32(&l.inflight, -1)

	if l.delay > 0 {
		time.Sleep(l.delay)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sent = append(l.sent, cmd)
	if l.failures > 0 {
		l.failures--
		return errNoAck
	}

	return nil
}

func (l *fakeLink) ReadAttributes(_ context.Context, _ zigbee.Endpoint, cluster zigbee.ClusterID, _ []zcl.AttributeID) (map[zcl.AttributeID]interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	values, ok := l.attributes[cluster]
	if !ok {
		return nil, errNoAck
	}

	return values, nil
}

func (l *fakeLink) Bind(_ context.Context, _ zigbee.Endpoint, cluster zigbee.ClusterID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bound = append(l.bound, cluster)
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *fakeJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, e)
	return nil
}

func (j *fakeJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.entries)
}

type fixture struct {
	cfg     Config
	link    *fakeLink
	values  db.DeviceDB
	caps    capability.Store
	journal *fakeJournal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := mapping.NewBuilder()
	require.NoError(t, mapping.Builtin().Apply(b))
	b.AddDeviceType(mapping.DeviceType{Name: "X"})
	b.Add(mapping.Entry{
		DeviceType:   "X",
		DatapointID:  1,
		Type:         datapoint.TypeBool,
		CapabilityID: "alarm_motion",
		Transform:    mapping.Identity{},
		Direction:    mapping.DirectionRead,
	})
	registry, _, err := b.Build()
	require.NoError(t, err)

	values, err := db.NewDeviceDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { values.Close(context.Background()) })

	return &fixture{
		cfg: Config{
			Registry: registry,
			Executor: actuation.NewExecutor(actuation.Options{
				AttemptTimeout: 100 * time.Millisecond,
				SettleDelay:    time.Millisecond,
			}),
			Enrollment: EnrollmentConfig{
				ZoneID: 1,
				Timeouts: map[enrollment.State]time.Duration{
					enrollment.Tier1: 10 * time.Millisecond,
					enrollment.Tier2: 10 * time.Millisecond,
					enrollment.Tier3: 10 * time.Millisecond,
				},
				PollInterval: time.Millisecond,
			},
			LogLevel: logger.LogLevelDebug,
		},
		link:    &fakeLink{},
		values:  values,
		caps:    capability.NewStore(nil, nil, logger.LogLevelInfo),
		journal: &fakeJournal{},
	}
}

func (f *fixture) host(uint64) Host {
	return Host{
		Link:         f.link,
		Capabilities: f.caps,
		Values:       f.values,
		Journal:      f.journal,
		CIEAddress:   0x00124b0000000001,
	}
}

func (f *fixture) pair(t *testing.T, deviceType, manufacturer string) *Controller {
	t.Helper()

	c, err := New(Device{IEEEAddress: 0xa1, DeviceType: deviceType, Manufacturer: manufacturer}, f.cfg, f.host(0xa1))
	require.NoError(t, err)
	require.NoError(t, c.Pair(context.Background()))
	t.Cleanup(c.Stop)

	return c
}

func eventually(t *testing.T, c *Controller, capability string, want interface{}) {
	t.Helper()

	assert.Eventually(t, func() bool {
		v, ok := c.Value(capability)
		return ok && v == want
	}, time.Second, time.Millisecond, "%v never became %v", capability, want)
}

func TestReportSetsCapability(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "X", "")

	assert.True(t, c.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 1, Type: datapoint.TypeBool, Data: []byte{0x01}},
	}}))

	eventually(t, c, "alarm_motion", true)
}

func TestSetDimWinsAtThirdStrategy(t *testing.T) {
	f := newFixture(t)
	f.link.failures = 2
	c := f.pair(t, "level_dimmer", "")

	result, err := c.SetCapability(context.Background(), "dim", 0.5)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Index)
	assert.Equal(t, "move-to-level", result.Winner)

	v, ok := c.Value("dim")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
}

func TestExhaustionLeavesValueUntouched(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "dimmer", "")

	c.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 2, Type: datapoint.TypeValue, Data: []byte{0x00, 0x00, 0x01, 0x2c}},
	}})
	eventually(t, c, "dim", 0.3)

	f.link.mu.Lock()
	f.link.failures = 100
	f.link.mu.Unlock()

	_, err := c.SetCapability(context.Background(), "dim", 0.9)
	require.ErrorIs(t, err, actuation.ErrExhausted)

	var exhausted *actuation.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"dp-data-request", "dp-send-data"}, exhausted.Attempted)

	v, _ := c.Value("dim")
	assert.Equal(t, 0.3, v)
}

func TestConcurrentSetsDoNotInterleave(t *testing.T) {
	f := newFixture(t)
	f.link.failures = 3
	f.link.delay = 2 * time.Millisecond
	c := f.pair(t, "level_dimmer", "")

	var wg sync.WaitGroup
	for _, v := range []float64{0.25, 0.75} {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()

			_, err := c.SetCapability(context.Background(), "dim", v)
			assert.NoError(t, err)
		}(v)
	}
	wg.Wait()

	assert.False(t, f.link.interleaved.Load())
}

func TestSetsApplyInCallOrder(t *testing.T) {
	f := newFixture(t)
	f.link.delay = 20 * time.Millisecond
	c := f.pair(t, "level_dimmer", "")

	var wg sync.WaitGroup
	set := func(v float64) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := c.SetCapability(context.Background(), "dim", v)
			assert.NoError(t, err)
		}()
	}

	set(0.25)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.link.inflight) == 1 }, time.Second, time.Millisecond)

	queue := c.writeQueue("dim")
	set(0.75)
	require.Eventually(t, func() bool { return queue.waiters() == 1 }, time.Second, time.Millisecond)
	set(0.5)
	require.Eventually(t, func() bool { return queue.waiters() == 2 }, time.Second, time.Millisecond)

	wg.Wait()

	v, ok := c.Value("dim")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
	assert.False(t, f.link.interleaved.Load())
}

func TestRemoveDuringWriteStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.link.delay = 50 * time.Millisecond
	c := f.pair(t, "level_dimmer", "")

	done := make(chan error, 1)
	go func() {
		_, err := c.SetCapability(context.Background(), "dim", 0.5)
		done <- err
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.link.inflight) == 1 }, time.Second, time.Millisecond)
	c.Remove(context.Background())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRemoved)
	case <-time.After(time.Second):
		t.Fatal("write did not finish")
	}

	_, ok := f.caps.GetCapabilityValue(0xa1, "dim")
	assert.False(t, ok)
}

func TestDecodeErrorIsDroppedAndJournaled(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "thermometer", "_TZE200_bjawzodf")

	c.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 1, Type: datapoint.TypeValue, Data: []byte{0x00, 0xd7, 0x00}},
		{ID: 99, Type: datapoint.TypeBool, Data: []byte{0x01}},
		{ID: 2, Type: datapoint.TypeValue, Data: []byte{0x00, 0x00, 0x00, 0x37}},
	}})

	eventually(t, c, "measure_humidity", int64(55))
	assert.Equal(t, 2, f.journal.len())

	_, ok := c.Value("measure_temperature")
	assert.False(t, ok)

	f.journal.mu.Lock()
	assert.Equal(t, uint8(1), f.journal.entries[0].Datapoint)
	assert.Equal(t, "_TZE200_bjawzodf", f.journal.entries[0].Manufacturer)
	assert.Equal(t, "unmapped", f.journal.entries[1].Reason)
	f.journal.mu.Unlock()
}

func TestUnsupportedCapability(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "thermometer", "")

	_, err := c.SetCapability(context.Background(), "measure_temperature", 20.0)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)

	_, err = c.SetCapability(context.Background(), "nothing", 1)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	assert.Empty(t, f.link.sent)
}

func TestCalibration(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "thermometer", "")

	c.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 1, Type: datapoint.TypeValue, Data: []byte{0x00, 0x00, 0x00, 0xd7}},
	}})
	eventually(t, c, "measure_temperature", 21.5)

	require.NoError(t, c.SetCalibration("measure_temperature", -0.5))
	eventually(t, c, "measure_temperature", 21.0)

	c.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 1, Type: datapoint.TypeValue, Data: []byte{0x00, 0x00, 0x00, 0xdc}},
	}})
	eventually(t, c, "measure_temperature", 21.5)

	assert.ErrorIs(t, c.SetCalibration("measure_battery", 1), ErrUnsupportedCapability)

	// a new session for the same device picks the offset up
	c.Stop()
	restarted := f.pair(t, "thermometer", "")
	restarted.Deliver(DatapointEvent{Reports: []datapoint.Report{
		{ID: 1, Type: datapoint.TypeValue, Data: []byte{0x00, 0x00, 0x00, 0xc8}},
	}})
	eventually(t, restarted, "measure_temperature", 19.5)
}

func TestZoneSensorEnrollsAndReportsStatus(t *testing.T) {
	f := newFixture(t)
	f.link.attributes = map[zigbee.ClusterID]map[zcl.AttributeID]interface{}{
		enrollment.ClusterIASZone: {
			enrollment.AttrZoneState:  uint8(0),
			enrollment.AttrZoneStatus: uint64(0),
		},
		clusterPowerConfiguration: {
			attrBatteryPercentage: uint64(180),
		},
	}
	c := f.pair(t, "motion_sensor", "")

	eventually(t, c, "measure_battery", 90.0)
	eventually(t, c, "alarm_motion", false)

	require.Eventually(t, func() bool { return c.EnrollmentState() == enrollment.Enrolled }, time.Second, time.Millisecond)

	var tier uint8
	require.NoError(t, f.values.GetValue(context.Background(), 0xa1, keyEnrollmentTier, &tier))
	assert.Equal(t, uint8(enrollment.Enrolled), tier)

	c.Deliver(ZoneStatusEvent{Status: zoneAlarm1 | zoneTamper})
	eventually(t, c, "alarm_motion", true)
	eventually(t, c, "alarm_tamper", true)
	eventually(t, c, "alarm_battery", false)

	c.Remove(context.Background())
	assert.ErrorIs(t, f.values.GetValue(context.Background(), 0xa1, keyEnrollmentTier, &tier), db.ErrNotFound)
	assert.False(t, c.Deliver(ZoneStatusEvent{}))

	_, err := c.SetCapability(context.Background(), "sensitivity", "high")
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestLevelAttributeReport(t *testing.T) {
	f := newFixture(t)
	c := f.pair(t, "level_dimmer", "")

	c.Deliver(AttributeEvent{Cluster: clusterLevelControl, Attribute: attrCurrentLevel, Value: uint64(254)})
	c.Deliver(AttributeEvent{Cluster: clusterOnOff, Attribute: attrOnOff, Value: true})

	eventually(t, c, "dim", 1.0)
	eventually(t, c, "onoff", true)
}

func TestUnknownDeviceType(t *testing.T) {
	f := newFixture(t)

	_, err := New(Device{IEEEAddress: 1, DeviceType: "toaster"}, f.cfg, f.host(1))
	assert.ErrorIs(t, err, ErrUnknownDeviceType)
}
