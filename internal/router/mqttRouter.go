package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mqtt"
	"github.com/supby/tuyazigbee/internal/types"
)

const (
	MQTT_DEVICE_SET       = "set"
	MQTT_DEVICE_CALIBRATE = "calibrate"
	MQTT_DEVICE_REMOVE    = "remove"
	MQTT_DEVICE_ERROR     = "error"
	MQTT_DEVICE_DESCR     = "description"
	MQTT_GATEWAY          = "gateway"
	MQTT_GATEWAY_CONFIG   = "config"
)

type mqttRouter struct {
	mqttClient         mqtt.MqttClient
	onSetMessage       func(devCmd types.DeviceSetMessage)
	onCalibrateMessage func(devCmd types.DeviceCalibrateMessage)
	onRemoveMessage    func(devCmd types.DeviceRemoveMessage)
	onSetDeviceConfig  func(devCmd types.DeviceConfigSetMessage)
	devices            *deviceDispatcher
	logger             logger.Logger
}

func NewMQTTRouter(mqttClient mqtt.MqttClient, logLevel int) MQTTRouter {
	ret := mqttRouter{
		mqttClient: mqttClient,
		devices:    newDeviceDispatcher(),
		logger:     logger.GetLogger("[MQTT Router]", logLevel),
	}

	mqttClient.Subscribe(ret.mqttMessage)

	return &ret
}

func deviceTopic(ieeeAddress uint64, subtopic string) string {
	return fmt.Sprintf("0x%016x/%v", ieeeAddress, subtopic)
}

func (h *mqttRouter) PublishDeviceDescription(msg mqtt.DeviceDescriptionMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error Marshal DeviceDescriptionMessage: %v", err)
		return
	}

	h.mqttClient.PublishRetained(deviceTopic(msg.IEEEAddress, MQTT_DEVICE_DESCR), jsonData)
}

func (h *mqttRouter) PublishCapabilityError(ieeeAddress uint64, msg mqtt.CapabilityErrorMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error Marshal CapabilityErrorMessage: %v", err)
		return
	}

	h.mqttClient.Publish(deviceTopic(ieeeAddress, MQTT_DEVICE_ERROR), jsonData)
}

func (h *mqttRouter) SubscribeOnSetMessage(callback func(devCmd types.DeviceSetMessage)) {
	h.onSetMessage = callback
}

func (h *mqttRouter) SubscribeOnCalibrateMessage(callback func(devCmd types.DeviceCalibrateMessage)) {
	h.onCalibrateMessage = callback
}

func (h *mqttRouter) SubscribeOnRemoveMessage(callback func(devCmd types.DeviceRemoveMessage)) {
	h.onRemoveMessage = callback
}

func (h *mqttRouter) SubscribeOnSetDeviceConfigMessage(callback func(devCmd types.DeviceConfigSetMessage)) {
	h.onSetDeviceConfig = callback
}

func (h *mqttRouter) mqttMessage(topic string, message []byte) {
	topicParts := strings.Split(topic, "/")
	if len(topicParts) < 3 {
		return
	}

	if topicParts[1] == MQTT_GATEWAY {
		h.handleGatewayMessage(topicParts[2], message)
		return
	}

	h.handleDeviceMessage(topicParts[1], topicParts[2], message)
}

func (h *mqttRouter) handleGatewayMessage(command string, message []byte) {
	if command != MQTT_GATEWAY_CONFIG {
		return
	}

	var cfgMsg mqtt.SetGatewayConfig
	if err := json.Unmarshal(message, &cfgMsg); err != nil {
		h.logger.Error("Error unmarshal gateway config message: %v", err)
		return
	}

	if h.onSetDeviceConfig != nil {
		h.onSetDeviceConfig(types.DeviceConfigSetMessage{PermitJoin: cfgMsg.PermitJoin})
	}
}

func (h *mqttRouter) handleDeviceMessage(deviceAddrStr string, command string, message []byte) {
	switch command {
	case MQTT_DEVICE_SET, MQTT_DEVICE_CALIBRATE, MQTT_DEVICE_REMOVE:
	default:
		// capability values, descriptions and errors published by the bridge itself
		return
	}

	deviceAddr, err := strconv.ParseUint(strings.Replace(deviceAddrStr, "0x", "", -1), 16, 64)
	if err != nil {
		h.logger.Error("Error parsing device address %q as uint64: %v", deviceAddrStr, err)
		return
	}

	// a set waits for the previous command on the same device, so writes
	// land in the order they were published
	h.devices.dispatch(deviceAddr, func() {
		switch command {
		case MQTT_DEVICE_SET:
			h.handleDeviceSetCommand(deviceAddr, message)
		case MQTT_DEVICE_CALIBRATE:
			h.handleDeviceCalibrateCommand(deviceAddr, message)
		case MQTT_DEVICE_REMOVE:
			h.logger.Info("REMOVE message received. Device: 0x%016x", deviceAddr)
			if h.onRemoveMessage != nil {
				h.onRemoveMessage(types.DeviceRemoveMessage{IEEEAddress: deviceAddr})
			}
		}
	})
}

// Wait blocks until every device command received so far has been handled.
func (h *mqttRouter) Wait() {
	h.devices.wait()
}

func (h *mqttRouter) handleDeviceSetCommand(deviceAddr uint64, message []byte) {
	var devMsg mqtt.CapabilitySetMessage
	if err := json.Unmarshal(message, &devMsg); err != nil {
		h.logger.Error("Error unmarshal SET message: %v", err)
		return
	}

	if devMsg.Capability == "" {
		h.logger.Warn("SET message without capability. Device: 0x%016x", deviceAddr)
		return
	}

	h.logger.Debug("SET message received. Device: 0x%016x, Capability: %v, Value: %v", deviceAddr, devMsg.Capability, devMsg.Value)

	if h.onSetMessage != nil {
		h.onSetMessage(types.DeviceSetMessage{
			IEEEAddress: deviceAddr,
			Capability:  devMsg.Capability,
			Value:       devMsg.Value,
		})
	}
}

func (h *mqttRouter) handleDeviceCalibrateCommand(deviceAddr uint64, message []byte) {
	var devMsg mqtt.CalibrateMessage
	if err := json.Unmarshal(message, &devMsg); err != nil {
		h.logger.Error("Error unmarshal CALIBRATE message: %v", err)
		return
	}

	h.logger.Debug("CALIBRATE message received. Device: 0x%016x, Capability: %v, Offset: %v", deviceAddr, devMsg.Capability, devMsg.Offset)

	if h.onCalibrateMessage != nil {
		h.onCalibrateMessage(types.DeviceCalibrateMessage{
			IEEEAddress: deviceAddr,
			Capability:  devMsg.Capability,
			Offset:      devMsg.Offset,
		})
	}
}
