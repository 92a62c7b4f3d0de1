package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/supby/tuyazigbee/internal/configuration"
	"github.com/supby/tuyazigbee/internal/logger"
)

func NewClient(config configuration.MqttConfiguration, logLevel int) (MqttClient, func(), error) {
	retClient := defaultMqttClient{
		rootTopic: config.RootTopic,
		logger:    logger.GetLogger("[MQTT Client]", logLevel),
	}

	if logLevel >= logger.LogLevelDebug {
		mqttlib.DEBUG = log.New(retClient.logger.GetWriter(), "[MQTT Client] ", 0)
	}
	mqttlib.ERROR = log.New(retClient.logger.GetWriter(), "[MQTT Client] ", 0)

	opts := mqttlib.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", config.Address, config.Port))
	opts.SetClientID(config.RootTopic)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.AutoReconnect = true
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetWill(fmt.Sprintf("%v/gateway/status", config.RootTopic), "Offline", 0, true)
	opts.OnConnect = func(client mqttlib.Client) {
		retClient.logger.Info("Connected")

		// subscriptions do not survive a reconnect with a clean session
		if token := client.Subscribe(fmt.Sprintf("%s/#", config.RootTopic), 0, retClient.onMessageReceived); token.Wait() && token.Error() != nil {
			retClient.logger.Error("Subscribe failed: %v", token.Error())
		}
		client.Publish(fmt.Sprintf("%v/gateway/status", config.RootTopic), 0, true, "Online")
	}
	opts.OnConnectionLost = func(client mqttlib.Client, err error) {
		retClient.logger.Warn("Connect lost: %v", err)
	}

	innerClient := mqttlib.NewClient(opts)

	if token := innerClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, token.Error()
	}

	retClient.logger.Info("Connected to MQTT on '%v:%v'", config.Address, config.Port)

	retClient.innerClient = innerClient

	return &retClient, func() { retClient.Dispose() }, nil
}

type MqttClient interface {
	Dispose()
	Publish(subTopic string, data []byte)
	PublishRetained(subTopic string, data []byte)
	Subscribe(callback func(topic string, message []byte))
	UnSubscribe()
}

type defaultMqttClient struct {
	innerClient     mqttlib.Client
	rootTopic       string
	mu              sync.RWMutex
	messageCallback func(topic string, message []byte)
	logger          logger.Logger
}

func (cl *defaultMqttClient) Dispose() {
	cl.logger.Info("Disposing MQTT client")
	cl.innerClient.Publish(fmt.Sprintf("%v/gateway/status", cl.rootTopic), 0, true, "Offline").Wait()
	cl.innerClient.Disconnect(250)
}

func (cl *defaultMqttClient) Publish(subTopic string, data []byte) {
	cl.innerClient.Publish(fmt.Sprintf("%v/%v", cl.rootTopic, subTopic), 0, false, data)
}

// PublishRetained keeps the message on the broker so late subscribers get the last value.
func (cl *defaultMqttClient) PublishRetained(subTopic string, data []byte) {
	cl.innerClient.Publish(fmt.Sprintf("%v/%v", cl.rootTopic, subTopic), 0, true, data)
}

func (cl *defaultMqttClient) Subscribe(callback func(topic string, message []byte)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.messageCallback = callback
}

func (cl *defaultMqttClient) UnSubscribe() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.messageCallback = nil
}

func (cl *defaultMqttClient) onMessageReceived(client mqttlib.Client, msg mqttlib.Message) {
	cl.mu.RLock()
	callback := cl.messageCallback
	cl.mu.RUnlock()

	// called in arrival order; the callback must not block
	if callback != nil {
		callback(msg.Topic(), msg.Payload())
	}
}
