package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
)

type BreakerConfig struct {
	Failures uint32
	OpenFor  time.Duration
}

func NewBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
	})
}

// TopicFor fills the {farm} and {field} placeholders of template.
func TopicFor(template string, ev messages.AlertEvent) string {
	return strings.NewReplacer("{farm}", ev.FarmID, "{field}", ev.FieldID).Replace(template)
}

// Publisher sends alert events to the broker. While the breaker is open,
// events fail fast instead of waiting on the publish timeout.
type Publisher struct {
	pub      rabbitmq.IPublisher
	template string
	qos      byte
	cb       *gobreaker.CircuitBreaker
	log      *zap.Logger
}

func NewPublisher(pub rabbitmq.IPublisher, topicTemplate string, qos byte, cb *gobreaker.CircuitBreaker, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if cb == nil {
		cb = NewBreaker("alert-publisher", BreakerConfig{})
	}
	return &Publisher{pub: pub, template: topicTemplate, qos: qos, cb: cb, log: log}
}

func (p *Publisher) Append(ctx context.Context, ev messages.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	topic := TopicFor(p.template, ev)
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.pub.PublishTo(topic, p.qos, false, payload)
	})
	if err != nil {
		return fmt.Errorf("publish alert %s to %s: %w", ev.AlertID, topic, err)
	}
	p.log.Info("alert event published",
		zap.String("topic", topic), zap.String("alert_type", ev.AlertType), zap.String("status", ev.Status))
	return nil
}

// State exposes the breaker state for readiness checks.
func (p *Publisher) State() gobreaker.State { return p.cb.State() }
