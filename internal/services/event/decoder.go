package event

import (
	"encoding/json"
	"errors"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/dedup"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

const alertTopicPrefix = "event/alert/"

// MQTTHandler decodes alert events and hands them to sink. Redelivered
// transitions are dropped.
type MQTTHandler struct {
	sink func(messages.AlertEvent) error
	seen *dedup.Deduper
	log  *zap.Logger
}

func NewMQTTHandler(sink func(messages.AlertEvent) error, seen *dedup.Deduper, log *zap.Logger) *MQTTHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTHandler{sink: sink, seen: seen, log: log}
}

func (h *MQTTHandler) Handle(topic string, m mqtt.Message) error {
	if topic == "" {
		topic = m.Topic()
	}
	if !strings.HasPrefix(topic, alertTopicPrefix) {
		return nil
	}
	ev, err := decodeAlert(topic, m.Payload())
	if err != nil {
		h.log.Warn("dropping alert event", zap.String("topic", topic), zap.Error(err))
		return errclass.WrapInvalid(err, "event", "Handle", "decode alert")
	}

	key := ev.AlertID + "/" + ev.Status
	if h.seen != nil && h.seen.Seen(key) {
		h.log.Debug("duplicate alert event", zap.String("alert_id", ev.AlertID), zap.String("status", ev.Status))
		return nil
	}
	if h.sink != nil {
		if err := h.sink(ev); err != nil {
			return err
		}
	}
	if h.seen != nil {
		h.seen.Mark(key)
	}
	return nil
}

func decodeAlert(topic string, payload []byte) (messages.AlertEvent, error) {
	var ev messages.AlertEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, err
	}
	ev.FarmID, ev.FieldID = pickIDs(topic, ev.FarmID, ev.FieldID)
	switch {
	case ev.AlertID == "":
		return ev, errors.New("alert: missing alertId")
	case ev.FarmID == "" || ev.FieldID == "":
		return ev, errors.New("alert: missing farm/field")
	case ev.Status != "Active" && ev.Status != "Resolved":
		return ev, errors.New("alert: unknown status " + ev.Status)
	case ev.OccurredAt.IsZero():
		return ev, errors.New("alert: missing occurredAt")
	}
	return ev, nil
}

// pickIDs prefers the payload, falling back to "event/alert/{farm}/{field}".
func pickIDs(topic, farmID, fieldID string) (string, string) {
	if strings.TrimSpace(farmID) != "" && strings.TrimSpace(fieldID) != "" {
		return farmID, fieldID
	}
	parts := strings.Split(strings.TrimPrefix(topic, alertTopicPrefix), "/")
	if len(parts) >= 2 {
		if strings.TrimSpace(farmID) == "" {
			farmID = parts[0]
		}
		if strings.TrimSpace(fieldID) == "" {
			fieldID = parts[1]
		}
	}
	return farmID, fieldID
}
