package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 250
)

// MQTTPublisher is a Sink that publishes each Point as JSON.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to broker and returns a publisher for topic.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logrus.WithField("broker", broker).Info("MQTT connected")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(disconnectQuiesce)
		return nil, pkgerrors.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to MQTT broker %s", broker)
	}

	return newMQTTPublisher(client, topic), nil
}

func newMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

func (m *MQTTPublisher) Publish(p Point) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal telemetry point")
	}

	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return pkgerrors.Errorf("timed out publishing to %s", m.topic)
	}
	if err := token.Error(); err != nil {
		return pkgerrors.Wrapf(err, "failed to publish to %s", m.topic)
	}
	return nil
}

func (m *MQTTPublisher) Close() {
	m.client.Disconnect(disconnectQuiesce)
}
