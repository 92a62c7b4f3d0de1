package router

import (
	"context"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/types"
)

// deviceLink is the adapter addressed to one node, as a session sees it.
type deviceLink struct {
	router      *zigbeeRouter
	ieeeAddress zigbee.IEEEAddress
}

func (l *deviceLink) SendCommand(ctx context.Context, cmd types.Command) error {
	return l.router.sendCommand(ctx, l.ieeeAddress, cmd)
}

func (l *deviceLink) ReadAttributes(ctx context.Context, endpoint zigbee.Endpoint, cluster zigbee.ClusterID, attrs []zcl.AttributeID) (map[zcl.AttributeID]interface{}, error) {
	return l.router.readAttributes(ctx, l.ieeeAddress, endpoint, cluster, attrs)
}

func (l *deviceLink) Bind(ctx context.Context, endpoint zigbee.Endpoint, cluster zigbee.ClusterID) error {
	return l.router.zstack.BindNodeToController(ctx, l.ieeeAddress, endpoint, adapterEndpoint, cluster)
}
