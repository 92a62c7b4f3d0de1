package actuation

import (
	"fmt"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/local/onoff"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/types"
)

func OnOffStrategies() []Strategy {
	return []Strategy{
		onOffCommand{},
		toggleIfNeeded{},
		writeOnOff{},
	}
}

func commandFor(t Target, cluster zigbee.ClusterID, frameType zcl.FrameType, id zcl.CommandIdentifier, cmd interface{}) types.Command {
	return types.Command{
		Endpoint:          t.Endpoint,
		ClusterID:         cluster,
		FrameType:         frameType,
		CommandIdentifier: id,
		Command:           cmd,
	}
}

func toBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: want a bool, got %T", ErrUnsupported, v)
	}

	return b, nil
}

type onOffCommand struct{}

func (onOffCommand) Name() string { return "onoff-command" }

func (onOffCommand) Encode(t Target) ([]Step, error) {
	on, err := toBool(t.Value)
	if err != nil {
		return nil, err
	}

	if on {
		return []Step{step(commandFor(t, onOffClusterID, zcl.FrameLocal, onoff.OnId, &onoff.On{}))}, nil
	}
	return []Step{step(commandFor(t, onOffClusterID, zcl.FrameLocal, onoff.OffId, &onoff.Off{}))}, nil
}

// toggleIfNeeded toggles when the last reported state differs from the target,
// and sends nothing when they match.
type toggleIfNeeded struct{}

func (toggleIfNeeded) Name() string { return "toggle" }

func (toggleIfNeeded) Encode(t Target) ([]Step, error) {
	on, err := toBool(t.Value)
	if err != nil {
		return nil, err
	}
	if t.LastKnown == nil {
		return nil, fmt.Errorf("%w: toggle needs a known state", ErrUnsupported)
	}
	was, err := toBool(t.LastKnown)
	if err != nil {
		return nil, err
	}

	if was == on {
		return nil, nil
	}
	return []Step{step(commandFor(t, onOffClusterID, zcl.FrameLocal, onoff.ToggleId, &onoff.Toggle{}))}, nil
}

type writeOnOff struct{}

func (writeOnOff) Name() string { return "write-onoff" }

func (writeOnOff) Encode(t Target) ([]Step, error) {
	on, err := toBool(t.Value)
	if err != nil {
		return nil, err
	}

	return []Step{step(writeAttribute(t, onOffClusterID, onOffAttr, zcl.TypeBoolean, on))}, nil
}
