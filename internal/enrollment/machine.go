package enrollment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supby/tuyazigbee/internal/logger"
)

const (
	DefaultTier1Timeout = 5 * time.Second
	DefaultTier2Timeout = 3 * time.Second
	DefaultTier3Timeout = 3 * time.Second
)

type Options struct {
	Store Store
	// Tiers holds the methods for Tier1..Tier3. Tier4 is always passive.
	Tiers    map[State]Tier
	Timeouts map[State]time.Duration
	Logger   logger.Logger
}

// Machine is the enrollment state machine of one device. The tier is
// persisted before each attempt, so a crash mid-attempt resumes at the tier
// after it.
type Machine struct {
	store    Store
	tiers    map[State]Tier
	timeouts map[State]time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	state   State
	passive bool
	current Attempt
}

func NewMachine(opts Options) *Machine {
	timeouts := map[State]time.Duration{
		Tier1: DefaultTier1Timeout,
		Tier2: DefaultTier2Timeout,
		Tier3: DefaultTier3Timeout,
	}
	for s, d := range opts.Timeouts {
		if d > 0 {
			timeouts[s] = d
		}
	}

	tiers := map[State]Tier{}
	for s, t := range opts.Tiers {
		tiers[s] = t
	}
	tiers[Tier4] = passiveTier{}

	if opts.Logger == nil {
		opts.Logger = logger.GetLogger("[Enrollment]", logger.LogLevelInfo)
	}

	return &Machine{
		store:    opts.Store,
		tiers:    tiers,
		timeouts: timeouts,
		logger:   opts.Logger,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Passive reports whether Tier4 was reached: unsolicited zone status reports
// are then the only confirmation the device gives.
func (m *Machine) Passive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.passive
}

// Current returns the live attempt record, if any.
func (m *Machine) Current() Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Run drives the machine to Enrolled. It returns early only when ctx ends.
func (m *Machine) Run(ctx context.Context) (State, error) {
	start := Tier1
	persisted, ok, err := m.load(ctx)
	// Without the persisted tier any active tier could repeat one already
	// tried, and saving it could lower the stored progress.
	unknown := err != nil
	if unknown {
		start = Tier4
		m.logger.Warn("load tier: %v, falling back to %v", err, start)
	} else if ok && persisted != Unenrolled {
		start = persisted.Next()
		m.logger.Info("resuming after %v at %v", persisted, start)
	}

	if ok && persisted == Enrolled {
		m.mu.Lock()
		m.state = Enrolled
		m.mu.Unlock()
		return Enrolled, nil
	}

	m.mu.Lock()
	if start > Tier4 {
		m.passive = persisted == Tier4
	}
	m.state = start
	m.mu.Unlock()

	for s := start; s < Enrolled; s = s.Next() {
		if err := ctx.Err(); err != nil {
			return m.State(), err
		}

		tier, ok := m.tiers[s]
		if !ok {
			m.logger.Debug("no method for %v", s)
			continue
		}

		m.enter(s, tier)
		if !unknown {
			m.save(ctx, s)
		}

		if m.attempt(ctx, s, tier) {
			break
		}
		if err := ctx.Err(); err != nil {
			return m.State(), err
		}
	}

	m.mu.Lock()
	m.state = Enrolled
	m.mu.Unlock()
	m.save(ctx, Enrolled)

	return Enrolled, nil
}

func (m *Machine) enter(s State, tier Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = s
	m.current = Attempt{
		ID:        uuid.NewString(),
		Tier:      s,
		Method:    tier.Method(),
		StartedAt: time.Now(),
		Outcome:   OutcomePending,
	}
	if s == Tier4 {
		m.passive = true
	}
}

func (m *Machine) attempt(ctx context.Context, s State, tier Tier) bool {
	attemptCtx := ctx
	if d, ok := m.timeouts[s]; ok {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	err := tier.Attempt(attemptCtx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.current.Outcome = OutcomeFailed
		m.logger.Info("attempt %v %v (%v) gave up: %v", m.current.ID, s, tier.Method(), err)
		return false
	}

	m.current.Outcome = OutcomeSuccess
	m.logger.Info("attempt %v %v (%v) enrolled the device", m.current.ID, s, tier.Method())
	return true
}

func (m *Machine) load(ctx context.Context) (State, bool, error) {
	if m.store == nil {
		return Unenrolled, false, nil
	}

	s, ok, err := m.store.LoadTier(ctx)
	if err != nil {
		s, ok, err = m.store.LoadTier(ctx)
	}
	if err == nil && ok && s > Enrolled {
		return Unenrolled, false, fmt.Errorf("persisted %v is out of range", s)
	}

	return s, ok, err
}

// save persists s, retrying once. The in-memory state stays authoritative
// when both writes fail.
func (m *Machine) save(ctx context.Context, s State) {
	if m.store == nil {
		return
	}

	err := m.store.SaveTier(ctx, s)
	if err != nil {
		err = m.store.SaveTier(ctx, s)
	}
	if err != nil {
		m.logger.Warn("persist %v: %v", s, err)
	}
}

// Reset discards persisted progress, used when the device is removed.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	m.state = Unenrolled
	m.passive = false
	m.current = Attempt{}
	m.mu.Unlock()

	if m.store == nil {
		return
	}

	err := m.store.ClearTier(ctx)
	if err != nil {
		err = m.store.ClearTier(ctx)
	}
	if err != nil {
		m.logger.Warn("clear tier: %v", err)
	}
}

type passiveTier struct{}

func (passiveTier) Method() string { return "passive" }

func (passiveTier) Attempt(context.Context) error { return nil }
