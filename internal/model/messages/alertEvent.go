package messages

import (
	"time"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

// AlertEvent is published for every alert status transition.
type AlertEvent struct {
	AlertID    string    `json:"alertId"`
	FarmID     string    `json:"farmId"`
	FieldID    string    `json:"fieldId"`
	AlertType  string    `json:"alertType"`
	Status     string    `json:"status"` // "Active" | "Resolved"
	Reason     *string   `json:"reason,omitempty"`
	Severity   *int      `json:"severity,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewAlertEvent snapshots the current state of a.
func NewAlertEvent(a *entities.Alert) AlertEvent {
	ev := AlertEvent{
		AlertID:    a.ID.String(),
		FarmID:     a.FarmID,
		FieldID:    a.FieldID,
		AlertType:  string(a.Kind),
		Status:     string(a.Status),
		OccurredAt: a.OccurredAt(),
	}
	if a.Reason != "" {
		reason := a.Reason
		ev.Reason = &reason
	}
	if a.Severity != nil {
		s := *a.Severity
		ev.Severity = &s
	}
	return ev
}
