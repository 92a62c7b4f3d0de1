package router

import (
	"context"

	"github.com/supby/tuyazigbee/internal/mqtt"
	"github.com/supby/tuyazigbee/internal/session"
	"github.com/supby/tuyazigbee/internal/types"
)

type MQTTRouter interface {
	PublishDeviceDescription(msg mqtt.DeviceDescriptionMessage)
	PublishCapabilityError(ieeeAddress uint64, msg mqtt.CapabilityErrorMessage)

	SubscribeOnSetMessage(callback func(devCmd types.DeviceSetMessage))
	SubscribeOnCalibrateMessage(callback func(devCmd types.DeviceCalibrateMessage))
	SubscribeOnRemoveMessage(callback func(devCmd types.DeviceRemoveMessage))
	SubscribeOnSetDeviceConfigMessage(callback func(devCmd types.DeviceConfigSetMessage))
	// Wait blocks until every device command received so far has been handled.
	Wait()
}

type ZigbeeRouter interface {
	SubscribeOnDeviceDescription(callback func(devMsg mqtt.DeviceDescriptionMessage))
	ProccessSetDeviceConfigMessage(ctx context.Context, devCmd types.DeviceConfigSetMessage)
	ProccessRemoveMessage(ctx context.Context, devCmd types.DeviceRemoveMessage)
	// Run initialises the adapter and reads its events until ctx is done.
	Run(ctx context.Context) error
	Sessions() *session.Manager
	Stop()
}
