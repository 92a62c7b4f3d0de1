package actuation

import (
	"fmt"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/global"
	"github.com/shimmeringbee/zcl/commands/local/level"
	"github.com/shimmeringbee/zcl/commands/local/onoff"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/types"
)

const (
	levelClusterID   = zigbee.ClusterID(0x0008)
	onOffClusterID   = zigbee.ClusterID(0x0006)
	currentLevelAttr = zcl.AttributeID(0x0000)
	onOffAttr        = zcl.AttributeID(0x0000)

	stepUp   = 0x00
	stepDown = 0x01
)

// LevelStrategies writes a Level Control level (0..254). Devices differ in
// which of these they honour; settle is the pause between switching on and
// moving in the last strategy.
func LevelStrategies(settle time.Duration) []Strategy {
	return []Strategy{
		moveToLevelWithOnOff{name: "move-to-level-with-onoff"},
		moveToLevelWithOnOff{name: "move-to-level-with-onoff-transition", transition: 10},
		moveToLevel{},
		stepLevel{},
		writeCurrentLevel{},
		onThenMoveToLevel{settle: settle},
	}
}

func levelCommand(t Target, id zcl.CommandIdentifier, cmd interface{}) Step {
	return step(commandFor(t, levelClusterID, zcl.FrameLocal, id, cmd))
}

type moveToLevelWithOnOff struct {
	name       string
	transition uint16
}

func (s moveToLevelWithOnOff) Name() string { return s.name }

func (s moveToLevelWithOnOff) Encode(t Target) ([]Step, error) {
	l, err := toUint8(t.Value)
	if err != nil {
		return nil, err
	}

	return []Step{levelCommand(t, level.MoveToLevelWithOnOffId, &level.MoveToLevelWithOnOff{
		Level:          l,
		TransitionTime: s.transition,
	})}, nil
}

type moveToLevel struct{}

func (moveToLevel) Name() string { return "move-to-level" }

func (moveToLevel) Encode(t Target) ([]Step, error) {
	l, err := toUint8(t.Value)
	if err != nil {
		return nil, err
	}

	return []Step{levelCommand(t, level.MoveToLevelId, &level.MoveToLevel{Level: l})}, nil
}

// stepLevel moves relative to the last reported level.
type stepLevel struct{}

func (stepLevel) Name() string { return "step" }

func (stepLevel) Encode(t Target) ([]Step, error) {
	if t.LastKnown == nil {
		return nil, fmt.Errorf("%w: step needs a known level", ErrUnsupported)
	}

	to, err := toUint8(t.Value)
	if err != nil {
		return nil, err
	}
	from, err := toUint8(t.LastKnown)
	if err != nil {
		return nil, err
	}

	cmd := &level.Step{StepMode: stepUp, StepSize: to - from}
	if to < from {
		cmd.StepMode = stepDown
		cmd.StepSize = from - to
	}

	return []Step{levelCommand(t, level.StepId, cmd)}, nil
}

type writeCurrentLevel struct{}

func (writeCurrentLevel) Name() string { return "write-current-level" }

func (writeCurrentLevel) Encode(t Target) ([]Step, error) {
	l, err := toUint8(t.Value)
	if err != nil {
		return nil, err
	}

	return []Step{step(writeAttribute(t, levelClusterID, currentLevelAttr, zcl.TypeUnsignedInt8, uint64(l)))}, nil
}

type onThenMoveToLevel struct {
	settle time.Duration
}

func (onThenMoveToLevel) Name() string { return "on-then-move-to-level" }

func (s onThenMoveToLevel) Encode(t Target) ([]Step, error) {
	l, err := toUint8(t.Value)
	if err != nil {
		return nil, err
	}

	move := levelCommand(t, level.MoveToLevelId, &level.MoveToLevel{Level: l})
	move.Delay = s.settle

	return []Step{
		step(commandFor(t, onOffClusterID, zcl.FrameLocal, onoff.OnId, &onoff.On{})),
		move,
	}, nil
}

func writeAttribute(t Target, cluster zigbee.ClusterID, attr zcl.AttributeID, dataType zcl.AttributeDataType, value interface{}) types.Command {
	return commandFor(t, cluster, zcl.FrameGlobal, global.WriteAttributesID, &global.WriteAttributes{
		Records: []global.WriteAttributesRecord{
			{
				Identifier: attr,
				DataTypeValue: &zcl.AttributeDataTypeValue{
					DataType: dataType,
					Value:    value,
				},
			},
		},
	})
}
