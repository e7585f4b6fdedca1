package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishTo(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Publisher publishes on a shared MQTT client. topic is the default used by PublishMessage.
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     *zap.Logger
}

func NewPublisher(client mqtt.Client, topic string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, topic: topic, timeout: 5 * time.Second, log: log}
}

// PublishMessage publishes to the default topic. Strings and byte slices are sent
// as-is, anything else is JSON encoded.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		payload = b
	}
	return p.PublishTo(p.topic, qosFor(p.topic), false, payload)
}

// PublishTo publishes payload and waits for the broker up to the publisher timeout.
func (p *Publisher) PublishTo(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.log.Debug("message published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("MQTT client disconnected")
	}
}
