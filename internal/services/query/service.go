package query

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/fieldalert/internal/model"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

// FieldReader loads the current state of a field. A missing field yields nil, nil.
type FieldReader interface {
	GetByID(ctx context.Context, fieldID string) (*model.Field, error)
}

// AlertHistoryReader is optionally implemented by the field repository.
type AlertHistoryReader interface {
	AlertHistory(ctx context.Context, fieldID string, limit int) ([]*model.Alert, error)
}

type History interface {
	GetByPeriod(ctx context.Context, fieldID string, from, to time.Time) ([]model.SensorReading, error)
}

const (
	defaultPeriod = 24 * time.Hour
	recentAlerts  = 10
)

// Service answers read-only questions about fields. It never mutates state.
type Service struct {
	fields  FieldReader
	history History
	log     *zap.Logger
	now     func() time.Time
}

func NewService(fields FieldReader, history History, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{fields: fields, history: history, log: log, now: time.Now}
}

// GetField returns status, reason, last values and active alerts of a field.
func (s *Service) GetField(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	fieldID := strings.TrimSpace(in.GetValue())
	if fieldID == "" {
		return nil, status.Error(codes.InvalidArgument, "fieldId is required")
	}
	f, err := s.fields.GetByID(ctx, fieldID)
	if err != nil {
		s.log.Error("load field", zap.String("field_id", fieldID), zap.Error(err))
		return nil, status.Error(codes.Unavailable, "field store unavailable")
	}
	if f == nil {
		return nil, status.Errorf(codes.NotFound, "field %s not found", fieldID)
	}

	out := fieldToMap(f)
	if h, ok := s.fields.(AlertHistoryReader); ok {
		recent, err := h.AlertHistory(ctx, fieldID, recentAlerts)
		if err != nil {
			s.log.Warn("load alert history", zap.String("field_id", fieldID), zap.Error(err))
		} else {
			out["recentAlerts"] = alertsToList(recent)
		}
	}
	return structpb.NewStruct(out)
}

// ListReadings returns the readings of a field within [from, to], oldest first.
// The request carries fieldId and optional RFC 3339 from/to; the default
// period is the last 24 hours.
func (s *Service) ListReadings(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	fields := in.GetFields()
	fieldID := strings.TrimSpace(fields["fieldId"].GetStringValue())
	if fieldID == "" {
		return nil, status.Error(codes.InvalidArgument, "fieldId is required")
	}
	to := s.now().UTC()
	from := to.Add(-defaultPeriod)
	var err error
	if v := fields["to"].GetStringValue(); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid to: %v", err)
		}
		from = to.Add(-defaultPeriod)
	}
	if v := fields["from"].GetStringValue(); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid from: %v", err)
		}
	}
	if from.After(to) {
		return nil, status.Error(codes.InvalidArgument, "from must not be after to")
	}

	readings, err := s.history.GetByPeriod(ctx, fieldID, from, to)
	if err != nil {
		s.log.Error("load readings", zap.String("field_id", fieldID), zap.Error(err))
		return nil, status.Error(codes.Unavailable, "history unavailable")
	}
	list := make([]interface{}, 0, len(readings))
	for _, r := range readings {
		list = append(list, readingToMap(r))
	}
	return structpb.NewList(list)
}

func fieldToMap(f *model.Field) map[string]interface{} {
	last := f.LastValues()
	values := map[string]interface{}{
		"soilMoisture":    optional(last.SoilMoisture),
		"soilTemperature": optional(last.SoilTemperature),
		"rainMm":          optional(last.Rainfall),
		"airTemperature":  optional(last.AirTemperature),
		"airHumidity":     optional(last.AirHumidity),
	}
	out := map[string]interface{}{
		"fieldId":       f.ID(),
		"farmId":        f.FarmID(),
		"sensorId":      f.SensorID(),
		"status":        string(f.Status()),
		"statusReason":  f.StatusReason(),
		"version":       f.Version(),
		"lastReadingAt": nil,
		"lastValues":    values,
		"activeAlerts":  alertsToList(f.ActiveAlerts()),
	}
	if at, ok := f.LastReadingAt(); ok {
		out["lastReadingAt"] = at.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func alertsToList(alerts []*model.Alert) []interface{} {
	out := make([]interface{}, 0, len(alerts))
	for _, a := range alerts {
		m := map[string]interface{}{
			"alertId":   a.ID.String(),
			"alertType": string(a.Kind),
			"status":    string(a.Status),
			"reason":    a.Reason,
			"startedAt": a.StartedAt.UTC().Format(time.RFC3339Nano),
			"severity":  nil,
		}
		if a.Severity != nil {
			m["severity"] = *a.Severity
		}
		if a.ResolvedAt != nil {
			m["resolvedAt"] = a.ResolvedAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, m)
	}
	return out
}

func readingToMap(r model.SensorReading) map[string]interface{} {
	m := messages.FromReading(r)
	out := map[string]interface{}{
		"readingId":       m.ReadingID,
		"sensorId":        m.SensorID,
		"fieldId":         m.FieldID,
		"farmId":          m.FarmID,
		"timestamp":       m.Timestamp,
		"soilHumidity":    optional(m.SoilHumidity),
		"soilTemperature": optional(m.SoilTemperature),
		"rainMm":          optional(m.RainMm),
		"source":          m.Source,
	}
	if m.AirTemperature != nil {
		out["airTemperature"] = *m.AirTemperature
	}
	if m.AirHumidity != nil {
		out["airHumidity"] = *m.AirHumidity
	}
	return out
}

func optional(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
