package channel

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of mqtt.Client the MQTT transport uses, so
// tests can substitute a fake broker connection.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

var _ MQTTClient = mqtt.Client(nil)
