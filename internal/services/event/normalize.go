package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

const DefaultMeasurement = "alert_event"

// EventToPoint maps an alert event onto a point at its occurrence time.
func EventToPoint(measurement string, ev messages.AlertEvent) *write.Point {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	tags := map[string]string{
		"farm_id":    ev.FarmID,
		"field_id":   ev.FieldID,
		"alert_type": ev.AlertType,
		"status":     ev.Status,
	}
	fields := map[string]interface{}{
		"alert_id": ev.AlertID,
		"count":    int64(1),
	}
	if ev.Reason != nil {
		fields["reason"] = *ev.Reason
	}
	if ev.Severity != nil {
		fields["severity"] = int64(*ev.Severity)
	}
	return influxdb2.NewPoint(measurement, tags, fields, ev.OccurredAt)
}
