package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

// Handler processes one message. A nil or non-retryable error acknowledges it;
// a retryable error leaves it unacknowledged for redelivery.
type Handler func(topic string, message mqtt.Message) error

// IConsumer runs a subscription until its context is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

var _ IConsumer = (*Consumer)(nil)

// Consumer subscribes one or more topic filters on a shared client.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     *zap.Logger
}

// NewConsumer creates a consumer for a single topic filter.
func NewConsumer(client mqtt.Client, topic string, handler Handler, log *zap.Logger) *Consumer {
	return NewMultiConsumer(client, []string{topic}, handler, log)
}

// NewMultiConsumer creates a consumer for several topic filters sharing one handler.
func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{client: client, topics: topics, handler: handler, log: log}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "sensor/reading") ||
		strings.HasPrefix(t, "event/alert") {
		return 1
	}
	return 0
}

// dispatch runs the handler on the concrete topic of msg and settles the
// message. filter is the subscription it arrived through.
func (c *Consumer) dispatch(filter string, msg mqtt.Message) {
	if c.handler == nil {
		c.log.Warn("no handler set", zap.String("filter", filter))
		msg.Ack()
		return
	}
	err := c.handler(msg.Topic(), msg)
	if err != nil && errclass.Retryable(err) {
		c.log.Warn("message left unacknowledged for redelivery",
			zap.String("topic", msg.Topic()), zap.Uint16("message_id", msg.MessageID()), zap.Error(err))
		return
	}
	if err != nil {
		c.log.Error("dropping message", zap.String("topic", msg.Topic()), zap.Error(err))
	}
	msg.Ack()
}

// ConsumeMessage subscribes to every topic and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			c.dispatch(topic, msg)
		})
		token.Wait()
		if token.Error() != nil {
			c.log.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
			continue
		}
		c.log.Info("subscribed", zap.String("topic", topic), zap.Uint8("qos", qosFor(topic)))
	}

	<-ctx.Done()

	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topics...).Wait()
	}
}
