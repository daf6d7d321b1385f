package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// MQTTConfig holds broker settings for the MQTT notifier.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {device_id}.
	Topic string
}

// MQTT publishes outcomes with QoS 1.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("notify: mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	log.Printf("notify: mqtt connected to %s", cfg.Broker)
	return newMQTTWithClient(client, cfg.Topic), nil
}

func newMQTTWithClient(client mqtt.Client, topic string) *MQTT {
	if topic == "" {
		topic = "signalcraft/devices/{device_id}/diagnosis"
	}
	return &MQTT{client: client, topic: topic}
}

func (m *MQTT) Publish(ctx context.Context, outcome Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	topic := formatTopic(m.topic, outcome.DeviceID)
	token := m.client.Publish(topic, 1, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

var _ Notifier = (*MQTT)(nil)
