package actuation

import (
	"github.com/shimmeringbee/zcl"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"github.com/supby/tuyazigbee/internal/types"
)

type datapointStrategy struct {
	name    string
	command uint8
}

// DatapointStrategies writes through 0xEF00: a data request first, then the
// send data command some firmwares expect instead.
func DatapointStrategies() []Strategy {
	return []Strategy{
		datapointStrategy{name: "dp-data-request", command: datapoint.CommandDataRequest},
		datapointStrategy{name: "dp-send-data", command: datapoint.CommandSendData},
	}
}

func (s datapointStrategy) Name() string { return s.name }

func (s datapointStrategy) Encode(t Target) ([]Step, error) {
	data, err := datapoint.Encode(t.Entry.Type, t.Value)
	if err != nil {
		return nil, err
	}

	frame := datapoint.Frame{
		Sequence: t.Sequence,
		Reports:  []datapoint.Report{{ID: t.Entry.DatapointID, Type: t.Entry.Type, Data: data}},
	}

	payload, err := frame.Marshal()
	if err != nil {
		return nil, err
	}

	return []Step{step(types.Command{
		Endpoint:          t.Endpoint,
		ClusterID:         datapoint.ClusterID,
		FrameType:         zcl.FrameLocal,
		CommandIdentifier: zcl.CommandIdentifier(s.command),
		Payload:           payload,
	})}, nil
}
