// Package enrollment registers IAS zone sensors with the coordinator through
// increasingly lenient tiers, persisting progress so a restart never repeats
// an attempt.
package enrollment

import (
	"context"
	"fmt"
	"time"
)

type State uint8

const (
	Unenrolled State = iota
	Tier1
	Tier2
	Tier3
	Tier4
	Enrolled
)

var stateNames = [...]string{"unenrolled", "tier1", "tier2", "tier3", "tier4", "enrolled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", uint8(s))
}

// Next is the state entered after s, whether s succeeded or not. Enrolled is terminal.
func (s State) Next() State {
	if s >= Enrolled {
		return Enrolled
	}

	return s + 1
}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is the record of the live enrollment attempt of a device.
type Attempt struct {
	ID        string
	Tier      State
	Method    string
	StartedAt time.Time
	Outcome   Outcome
}

// Store persists the last attempted tier of one device.
type Store interface {
	LoadTier(ctx context.Context) (State, bool, error)
	SaveTier(ctx context.Context, s State) error
	ClearTier(ctx context.Context) error
}

// Tier is one enrollment method. Attempt returns nil once the device is
// enrolled; it must give up when ctx ends.
type Tier interface {
	Method() string
	Attempt(ctx context.Context) error
}
