package telemetry

import (
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fieldalert/pkg/redisqueue"
)

// MQTTHandler feeds broker messages into sub. ctx bounds every submission,
// since broker callbacks carry no context of their own.
//
// An unacked MQTT message is only redelivered after a reconnect, so when
// fallback is set a retryable failure moves the reading onto the stream and
// the message is acked. Without fallback the error is returned unchanged.
func MQTTHandler(ctx context.Context, sub Submitter, fallback Enqueuer, log *zap.Logger) rabbitmq.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(topic string, m mqtt.Message) error {
		msg, err := DecodePayload(m.Payload(), entities.SourceMQTT)
		if err != nil {
			log.Warn("undecodable mqtt payload", zap.String("topic", topic), zap.Error(err))
			return err
		}
		err = sub.Submit(ctx, msg).Err
		if err == nil || fallback == nil || !errclass.Retryable(err) {
			return err
		}

		payload, merr := json.Marshal(msg)
		if merr != nil {
			return err
		}
		id, qerr := fallback.Publish(ctx, payload)
		if qerr != nil {
			log.Error("mqtt reading left unacked", zap.String("reading_id", msg.ReadingID),
				zap.NamedError("cause", err), zap.Error(qerr))
			return err
		}
		log.Warn("mqtt reading moved to stream", zap.String("reading_id", msg.ReadingID),
			zap.String("entry_id", id), zap.Error(err))
		return nil
	}
}

// StreamHandler feeds stream entries into sub. Entries keep the source they
// were enqueued with.
func StreamHandler(sub Submitter, log *zap.Logger) redisqueue.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, m redisqueue.Message) error {
		msg, err := DecodePayload(m.Payload, entities.SourceHTTP)
		if err != nil {
			log.Warn("undecodable stream entry", zap.String("id", m.ID), zap.Error(err))
			return err
		}
		return sub.Submit(ctx, msg).Err
	}
}

// StreamKey partitions stream batches by field id.
func StreamKey(m redisqueue.Message) string {
	var ids struct {
		FieldID string `json:"fieldId"`
	}
	_ = json.Unmarshal(m.Payload, &ids)
	return ids.FieldID
}
