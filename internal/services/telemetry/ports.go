package telemetry

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

// IdempotencyStore remembers which readings have already been applied.
type IdempotencyStore interface {
	Exists(ctx context.Context, readingID string) (bool, error)
	MarkProcessed(ctx context.Context, p entities.ProcessedReading) error
}

// TimeSeriesStore keeps the raw reading history. Appends are not deduplicated.
type TimeSeriesStore interface {
	Append(ctx context.Context, r entities.SensorReading) error
	GetByPeriod(ctx context.Context, fieldID string, from, to time.Time) ([]entities.SensorReading, error)
}

// FieldRepository loads and stores field aggregates. GetByID returns nil, nil
// for unknown fields.
type FieldRepository interface {
	GetByID(ctx context.Context, fieldID string) (*entities.Field, error)
	Save(ctx context.Context, f *entities.Field) error
}

// AlertEventStore receives alert status transitions.
type AlertEventStore interface {
	Append(ctx context.Context, ev messages.AlertEvent) error
}

// RuleSetProvider supplies the rules to evaluate.
type RuleSetProvider interface {
	GetRules(ctx context.Context) ([]entities.Rule, error)
}
