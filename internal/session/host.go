package session

import (
	"context"
	"errors"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/actuation"
	"github.com/supby/tuyazigbee/internal/capability"
	"github.com/supby/tuyazigbee/internal/enrollment"
	"github.com/supby/tuyazigbee/internal/journal"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/types"
)

var (
	ErrUnknownDeviceType     = errors.New("session: unknown device type")
	ErrUnsupportedCapability = errors.New("session: unsupported capability")
	ErrRemoved               = errors.New("session: device removed")
)

// Link is the radio, addressed to one device.
type Link interface {
	SendCommand(ctx context.Context, cmd types.Command) error
	ReadAttributes(ctx context.Context, endpoint zigbee.Endpoint, cluster zigbee.ClusterID, attrs []zcl.AttributeID) (map[zcl.AttributeID]interface{}, error)
	Bind(ctx context.Context, endpoint zigbee.Endpoint, cluster zigbee.ClusterID) error
}

// ValueStore is the device-local persisted key/value store.
type ValueStore interface {
	GetValue(ctx context.Context, ieeeAddress uint64, key string, out interface{}) error
	SetValue(ctx context.Context, ieeeAddress uint64, key string, value interface{}) error
	DeleteValue(ctx context.Context, ieeeAddress uint64, key string) error
}

type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Host bundles what the surrounding bridge provides to one session. Journal
// may be nil.
type Host struct {
	Link         Link
	Capabilities capability.Store
	Values       ValueStore
	Journal      Journal
	// CIEAddress is written to IAS zone sensors during enrollment.
	CIEAddress zigbee.IEEEAddress
}

type EnrollmentConfig struct {
	ZoneID       uint8
	Timeouts     map[enrollment.State]time.Duration
	PollInterval time.Duration
}

// Config is shared by every session.
type Config struct {
	Registry   *mapping.Registry
	Executor   *actuation.Executor
	Enrollment EnrollmentConfig
	LogLevel   int
}

// Device identifies a paired node and what it was resolved to.
type Device struct {
	IEEEAddress  uint64
	Manufacturer string
	Model        string
	DeviceType   string
}
