// Package actuation writes capability values to devices by trying an ordered
// list of command strategies until one is acknowledged.
package actuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/types"
)

// Target is one write: the entry being written and its device-side value.
type Target struct {
	Endpoint zigbee.Endpoint
	Entry    mapping.Entry
	// Value is the datapoint value after the reverse transform.
	Value interface{}
	// LastKnown is the last device-side value reported, nil when unknown.
	LastKnown interface{}
	// Sequence is the Tuya frame sequence for this attempt, set by the executor.
	Sequence uint16
}

// Step is one command of a strategy, sent after Delay.
type Step struct {
	Command types.Command
	Delay   time.Duration
}

// Strategy turns a target into the commands of one write attempt.
type Strategy interface {
	Name() string
	Encode(t Target) ([]Step, error)
}

// Transport sends one command and waits for its acknowledgement.
type Transport interface {
	SendCommand(ctx context.Context, cmd types.Command) error
}

// DefaultStrategies returns the built-in strategy lists per class, in the
// order they are tried.
func DefaultStrategies(settle time.Duration) map[mapping.Class][]Strategy {
	return map[mapping.Class][]Strategy{
		mapping.ClassDatapoint: DatapointStrategies(),
		mapping.ClassLevel:     LevelStrategies(settle),
		mapping.ClassOnOff:     OnOffStrategies(),
	}
}

func step(cmd types.Command) Step {
	return Step{Command: cmd}
}

func toUint8(v interface{}) (uint8, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 || n > 0xff {
			return 0, fmt.Errorf("%w: %d outside 0..255", ErrUnsupported, n)
		}
		return uint8(n), nil
	case uint8:
		return n, nil
	case int:
		return toUint8(int64(n))
	case float64:
		return toUint8(int64(n))
	}

	return 0, fmt.Errorf("%w: want an integer, got %T", ErrUnsupported, v)
}
