package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

func TestBuildEvents(t *testing.T) {
	frost := entities.RaiseAlert(entities.RuleFrost, "farm-1", "field-1", "air temperature below 2°C for 3 hours", t0)
	dry := entities.RaiseAlert(entities.RuleDryness, "farm-1", "field-1", "soil moisture below 30% for 24 hours", t0)
	before := CaptureStatuses([]*entities.Alert{frost, dry})

	assert.Empty(t, BuildEvents(before, []*entities.Alert{frost, dry}), "no transitions, no events")

	dry.Resolve(t0.Add(2 * time.Hour))
	heat := entities.RaiseAlert(entities.RuleExtremeHeat, "farm-1", "field-1", "air temperature above 40°C for 4 hours", t0.Add(3*time.Hour))

	events := BuildEvents(before, []*entities.Alert{frost, dry, heat})
	require.Len(t, events, 2)

	assert.Equal(t, dry.ID.String(), events[0].AlertID)
	assert.Equal(t, "Resolved", events[0].Status)
	assert.True(t, events[0].OccurredAt.Equal(t0.Add(2*time.Hour)))

	assert.Equal(t, heat.ID.String(), events[1].AlertID)
	assert.Equal(t, "Active", events[1].Status)
	require.NotNil(t, events[1].Severity)
	assert.Equal(t, 2, *events[1].Severity)
	assert.True(t, events[1].OccurredAt.Equal(t0.Add(3*time.Hour)))
}

func TestCaptureStatuses_Empty(t *testing.T) {
	assert.Empty(t, CaptureStatuses(nil))
	assert.Empty(t, BuildEvents(CaptureStatuses(nil), nil))
}
