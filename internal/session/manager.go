package session

import (
	"context"
	"sync"

	"github.com/supby/tuyazigbee/internal/actuation"
)

// Manager keeps the sessions of all paired devices, keyed by IEEE address.
type Manager struct {
	cfg     Config
	hostFor func(ieeeAddress uint64) Host

	mu       sync.RWMutex
	sessions map[uint64]*Controller
}

func NewManager(cfg Config, hostFor func(ieeeAddress uint64) Host) *Manager {
	return &Manager{
		cfg:      cfg,
		hostFor:  hostFor,
		sessions: make(map[uint64]*Controller),
	}
}

// Pair starts a session for dev. A live session for the same device and
// device type is reused; one for another type is stopped first.
func (m *Manager) Pair(ctx context.Context, dev Device) (*Controller, error) {
	m.mu.Lock()
	existing, ok := m.sessions[dev.IEEEAddress]
	if ok && existing.device == dev {
		m.mu.Unlock()
		return existing, existing.Pair(ctx)
	}

	c, err := New(dev, m.cfg, m.hostFor(dev.IEEEAddress))
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[dev.IEEEAddress] = c
	m.mu.Unlock()

	if ok {
		existing.Stop()
	}

	return c, c.Pair(ctx)
}

func (m *Manager) Get(ieeeAddress uint64) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[ieeeAddress]
	return c, ok
}

// Deliver routes an event to the device's session. It returns false when the
// device has no session.
func (m *Manager) Deliver(ieeeAddress uint64, ev Event) bool {
	c, ok := m.Get(ieeeAddress)
	if !ok {
		return false
	}

	return c.Deliver(ev)
}

func (m *Manager) SetCapability(ctx context.Context, ieeeAddress uint64, capability string, value interface{}) (actuation.Result, error) {
	c, ok := m.Get(ieeeAddress)
	if !ok {
		return actuation.Result{}, ErrRemoved
	}

	return c.SetCapability(ctx, capability, value)
}

func (m *Manager) SetCalibration(ieeeAddress uint64, capability string, offset float64) error {
	c, ok := m.Get(ieeeAddress)
	if !ok {
		return ErrRemoved
	}

	return c.SetCalibration(capability, offset)
}

// Remove tears the device's session down and clears its persisted state.
func (m *Manager) Remove(ctx context.Context, ieeeAddress uint64) bool {
	m.mu.Lock()
	c, ok := m.sessions[ieeeAddress]
	delete(m.sessions, ieeeAddress)
	m.mu.Unlock()

	if ok {
		c.Remove(ctx)
	}

	return ok
}

func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ret := make([]Device, 0, len(m.sessions))
	for _, c := range m.sessions {
		ret = append(ret, c.device)
	}

	return ret
}

// Close stops every session, keeping persisted state.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uint64]*Controller)
	m.mu.Unlock()

	for _, c := range sessions {
		c.Stop()
	}
}
