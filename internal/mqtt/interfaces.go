package mqtt

import MQTT "github.com/eclipse/paho.mqtt.golang"

// pahoClient is the part of MQTT.Client used by Client.
type pahoClient interface {
	Connect() MQTT.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
}
