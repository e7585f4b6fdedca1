package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

// SQLFieldRepository stores field aggregates in the fields and alerts tables.
// Saves use the version column as an optimistic lock.
type SQLFieldRepository struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
}

func NewSQLFieldRepository(db *sql.DB, dialect Dialect, log *zap.Logger) *SQLFieldRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLFieldRepository{db: db, dialect: dialect, log: log}
}

const alertColumns = `id, farm_id, field_id, kind, severity, status, reason, started_at, resolved_at`

// GetByID loads a field with its active alerts. A missing field yields nil, nil.
func (r *SQLFieldRepository) GetByID(ctx context.Context, fieldID string) (*entities.Field, error) {
	query := r.dialect.rebind(`
		SELECT farm_id, sensor_id, status, status_reason, last_reading_at,
		       soil_moisture, soil_temperature, rainfall, air_temperature, air_humidity,
		       last_normal, version
		FROM fields
		WHERE id = ?`)

	var (
		state      = entities.FieldState{ID: fieldID}
		status     string
		lastAt     nullTime
		soil       sql.NullFloat64
		soilTemp   sql.NullFloat64
		rain       sql.NullFloat64
		airTemp    sql.NullFloat64
		airHum     sql.NullFloat64
		lastNormal string
	)
	err := r.db.QueryRowContext(ctx, query, fieldID).Scan(
		&state.FarmID, &state.SensorID, &status, &state.StatusReason, &lastAt,
		&soil, &soilTemp, &rain, &airTemp, &airHum,
		&lastNormal, &state.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get field %s: %w", fieldID, err)
	}

	state.Status = entities.FieldStatus(status)
	state.LastReadingAt = lastAt.ptr()
	state.Last = entities.LastValues{
		SoilMoisture:    floatPtr(soil),
		SoilTemperature: floatPtr(soilTemp),
		Rainfall:        floatPtr(rain),
		AirTemperature:  floatPtr(airTemp),
		AirHumidity:     floatPtr(airHum),
	}
	if err := json.Unmarshal([]byte(lastNormal), &state.LastNormal); err != nil {
		return nil, fmt.Errorf("decode last_normal of field %s: %w", fieldID, err)
	}

	alerts, err := r.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE field_id = ? AND status = ? ORDER BY started_at`,
		fieldID, string(entities.AlertActive))
	if err != nil {
		return nil, err
	}

	f, err := entities.RehydrateField(state, alerts)
	if err != nil {
		return nil, fmt.Errorf("rehydrate field %s: %w", fieldID, err)
	}
	return f, nil
}

// AlertHistory returns the latest alerts of a field, active and resolved, newest first.
func (r *SQLFieldRepository) AlertHistory(ctx context.Context, fieldID string, limit int) ([]*entities.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE field_id = ? ORDER BY started_at DESC LIMIT ?`,
		fieldID, limit)
}

func (r *SQLFieldRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*entities.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entities.Alert
	for rows.Next() {
		var (
			a          entities.Alert
			id         string
			kind       string
			status     string
			severity   sql.NullInt64
			startedAt  nullTime
			resolvedAt nullTime
		)
		if err := rows.Scan(&id, &a.FarmID, &a.FieldID, &kind, &severity, &status, &a.Reason, &startedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("alert id %q: %w", id, err)
		}
		a.Kind = entities.RuleKind(kind)
		a.Status = entities.AlertStatus(status)
		if severity.Valid {
			s := int(severity.Int64)
			a.Severity = &s
		}
		a.StartedAt = startedAt.Time
		a.ResolvedAt = resolvedAt.ptr()
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// Save writes the field and upserts its alerts in one transaction. It fails with
// ErrConcurrentModification when the stored version is not the loaded one.
func (r *SQLFieldRepository) Save(ctx context.Context, f *entities.Field) (err error) {
	s := f.State()
	lastNormal, err := json.Marshal(s.LastNormal)
	if err != nil {
		return fmt.Errorf("encode last_normal: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	if s.Version == 0 {
		res, err = tx.ExecContext(ctx, r.dialect.rebind(`
			INSERT INTO fields (id, farm_id, sensor_id, status, status_reason, last_reading_at,
			                    soil_moisture, soil_temperature, rainfall, air_temperature, air_humidity,
			                    last_normal, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (id) DO NOTHING`),
			s.ID, s.FarmID, s.SensorID, string(s.Status), s.StatusReason, timeArg(s.LastReadingAt),
			floatArg(s.Last.SoilMoisture), floatArg(s.Last.SoilTemperature), floatArg(s.Last.Rainfall),
			floatArg(s.Last.AirTemperature), floatArg(s.Last.AirHumidity),
			string(lastNormal))
	} else {
		res, err = tx.ExecContext(ctx, r.dialect.rebind(`
			UPDATE fields
			SET sensor_id = ?, status = ?, status_reason = ?, last_reading_at = ?,
			    soil_moisture = ?, soil_temperature = ?, rainfall = ?, air_temperature = ?, air_humidity = ?,
			    last_normal = ?, version = version + 1
			WHERE id = ? AND version = ?`),
			s.SensorID, string(s.Status), s.StatusReason, timeArg(s.LastReadingAt),
			floatArg(s.Last.SoilMoisture), floatArg(s.Last.SoilTemperature), floatArg(s.Last.Rainfall),
			floatArg(s.Last.AirTemperature), floatArg(s.Last.AirHumidity),
			string(lastNormal), s.ID, s.Version)
	}
	if err != nil {
		return fmt.Errorf("write field %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write field %s: %w", s.ID, err)
	}
	if n == 0 {
		err = fmt.Errorf("save field %s at version %d: %w", s.ID, s.Version, ErrConcurrentModification)
		return err
	}

	upsert := r.dialect.rebind(`
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			resolved_at = excluded.resolved_at`)
	for _, a := range f.Alerts() {
		var severity interface{}
		if a.Severity != nil {
			severity = *a.Severity
		}
		if _, err = tx.ExecContext(ctx, upsert,
			a.ID.String(), a.FarmID, a.FieldID, string(a.Kind), severity, string(a.Status), a.Reason,
			a.StartedAt.UTC(), timeArg(a.ResolvedAt)); err != nil {
			return fmt.Errorf("write alert %s: %w", a.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit field %s: %w", s.ID, err)
	}
	f.SetVersion(s.Version + 1)
	r.log.Debug("field saved", zap.String("field_id", s.ID), zap.Int64("version", s.Version+1))
	return nil
}

// SQLIdempotencyStore keeps processed-reading markers in processed_readings.
type SQLIdempotencyStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLIdempotencyStore(db *sql.DB, dialect Dialect) *SQLIdempotencyStore {
	return &SQLIdempotencyStore{db: db, dialect: dialect}
}

func (s *SQLIdempotencyStore) Exists(ctx context.Context, readingID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT 1 FROM processed_readings WHERE reading_id = ?`), readingID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reading %s: %w", readingID, err)
	}
	return true, nil
}

// MarkProcessed records the marker. Marking twice is a no-op.
func (s *SQLIdempotencyStore) MarkProcessed(ctx context.Context, p entities.ProcessedReading) error {
	at := p.ProcessedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO processed_readings (reading_id, field_id, processed_at, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (reading_id) DO NOTHING`),
		p.ReadingID, p.FieldID, at.UTC(), string(p.Source))
	if err != nil {
		return fmt.Errorf("mark reading %s: %w", p.ReadingID, err)
	}
	return nil
}
