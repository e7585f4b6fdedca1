package model

import "github.com/LeonardoBeccarini/fieldalert/internal/model/entities"

// Read-side aliases for services that only inspect the domain model.
type (
	Field         = entities.Field
	Alert         = entities.Alert
	SensorReading = entities.SensorReading
)
