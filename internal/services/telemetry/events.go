package telemetry

import (
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

// CaptureStatuses snapshots alert statuses before a processing cycle.
func CaptureStatuses(alerts []*entities.Alert) map[uuid.UUID]entities.AlertStatus {
	out := make(map[uuid.UUID]entities.AlertStatus, len(alerts))
	for _, a := range alerts {
		out[a.ID] = a.Status
	}
	return out
}

// BuildEvents emits one event per alert that is new or whose status changed
// since the snapshot.
func BuildEvents(before map[uuid.UUID]entities.AlertStatus, after []*entities.Alert) []messages.AlertEvent {
	var events []messages.AlertEvent
	for _, a := range after {
		if prev, ok := before[a.ID]; ok && prev == a.Status {
			continue
		}
		events = append(events, messages.NewAlertEvent(a))
	}
	return events
}
