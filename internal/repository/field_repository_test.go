package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func reading(t *testing.T, id string, ts time.Time, moisture float64) entities.SensorReading {
	t.Helper()
	r, err := entities.NewSensorReading(entities.ReadingInput{
		ReadingID:       id,
		SensorID:        "s-1",
		FieldID:         "field-1",
		FarmID:          "farm-1",
		Timestamp:       ts,
		SoilMoisturePct: moisture,
		SoilTempC:       15,
		AirTempC:        f64(20),
		Source:          "mqtt",
	})
	require.NoError(t, err)
	return r
}

// dryField returns a never-saved field holding one active Dryness alert.
func dryField(t *testing.T) *entities.Field {
	t.Helper()
	f := entities.NewField("field-1", "farm-1")
	_, err := f.ProcessReading(reading(t, "r1", base, 20), entities.DefaultRules())
	require.NoError(t, err)
	_, err = f.ProcessReading(reading(t, "r2", base.Add(24*time.Hour), 20), entities.DefaultRules())
	require.NoError(t, err)
	require.Len(t, f.ActiveAlerts(), 1)
	return f
}

func setupMockFieldDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLFieldRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewSQLFieldRepository(db, Postgres, zap.NewNop())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", SQLite.rebind("a = ? AND b = ?"))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	d, err = DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	d, err = DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)
	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestGetByID_NotFound(t *testing.T) {
	db, mock, repo := setupMockFieldDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT farm_id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	f, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_WithActiveAlert(t *testing.T) {
	db, mock, repo := setupMockFieldDB(t)
	defer db.Close()

	lastAt := base.Add(24 * time.Hour)
	mock.ExpectQuery(`SELECT farm_id, sensor_id, status`).
		WithArgs("field-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"farm_id", "sensor_id", "status", "status_reason", "last_reading_at",
			"soil_moisture", "soil_temperature", "rainfall", "air_temperature", "air_humidity",
			"last_normal", "version",
		}).AddRow(
			"farm-1", "s-1", "DryAlert", "soil moisture below 30% for 24 hours", lastAt,
			20.0, 15.0, 0.0, 20.0, nil,
			`{"Dryness":"2024-06-01T00:00:00Z"}`, int64(3),
		))
	mock.ExpectQuery(`SELECT id, farm_id, field_id, kind`).
		WithArgs("field-1", "Active").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "farm_id", "field_id", "kind", "severity", "status", "reason", "started_at", "resolved_at",
		}).AddRow(
			"8b0c2a4e-7d0b-4c5e-9a57-1f1f5c3d2b10", "farm-1", "field-1", "Dryness", int64(3), "Active",
			"soil moisture below 30% for 24 hours", lastAt, nil,
		))

	f, err := repo.GetByID(context.Background(), "field-1")
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, entities.StatusDryAlert, f.Status())
	assert.Equal(t, int64(3), f.Version())
	require.Len(t, f.ActiveAlerts(), 1)
	assert.Equal(t, base, f.State().LastNormal[entities.RuleDryness])
	assert.Nil(t, f.LastValues().AirHumidity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_NewField(t *testing.T) {
	db, mock, repo := setupMockFieldDB(t)
	defer db.Close()
	f := dryField(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO fields`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alerts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), f))
	assert.Equal(t, int64(1), f.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_VersionConflict(t *testing.T) {
	db, mock, repo := setupMockFieldDB(t)
	defer db.Close()
	f := dryField(t)
	f.SetVersion(4)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE fields`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConcurrentModification))
	assert.Equal(t, int64(4), f.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_AlertWriteFailureRollsBack(t *testing.T) {
	db, mock, repo := setupMockFieldDB(t)
	defer db.Close()
	f := dryField(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO fields`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alerts`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLIdempotencyStore_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLIdempotencyStore(db, Postgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT 1 FROM processed_readings`).
		WithArgs("r-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO processed_readings`).
		WithArgs("r-1", "field-1", sqlmock.AnyArg(), "mqtt").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT 1 FROM processed_readings`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := store.Exists(ctx, "r-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkProcessed(ctx, entities.ProcessedReading{
		ReadingID: "r-1", FieldID: "field-1", ProcessedAt: base, Source: entities.SourceMQTT,
	}))

	ok, err = store.Exists(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "fieldalert.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.Equal(t, SQLite, dialect)
	require.NoError(t, Migrate(ctx, db, dialect))
	require.NoError(t, Migrate(ctx, db, dialect), "migrations are repeatable")
	return db
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLFieldRepository(openSQLite(t), SQLite, zap.NewNop())

	f := dryField(t)
	require.NoError(t, repo.Save(ctx, f))

	loaded, err := repo.GetByID(ctx, "field-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(1), loaded.Version())
	assert.Equal(t, entities.StatusDryAlert, loaded.Status())
	assert.Equal(t, f.StatusReason(), loaded.StatusReason())
	last, ok := loaded.LastReadingAt()
	require.True(t, ok)
	assert.True(t, last.Equal(base.Add(24*time.Hour)))
	require.Len(t, loaded.ActiveAlerts(), 1)
	assert.Equal(t, f.ActiveAlerts()[0].ID, loaded.ActiveAlerts()[0].ID)
	assert.True(t, loaded.State().LastNormal[entities.RuleDryness].Equal(base))

	// resolve and save again; the resolved alert drops out of the active set
	_, err = loaded.ProcessReading(reading(t, "r3", base.Add(25*time.Hour), 60), entities.DefaultRules())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, loaded))

	again, err := repo.GetByID(ctx, "field-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version())
	assert.Empty(t, again.ActiveAlerts())
	assert.Equal(t, entities.StatusNormal, again.Status())

	history, err := repo.AlertHistory(ctx, "field-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entities.AlertResolved, history[0].Status)
	require.NotNil(t, history[0].ResolvedAt)
	assert.True(t, history[0].ResolvedAt.Equal(base.Add(25*time.Hour)))

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLFieldRepository(openSQLite(t), SQLite, zap.NewNop())
	require.NoError(t, repo.Save(ctx, dryField(t)))

	a, err := repo.GetByID(ctx, "field-1")
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, "field-1")
	require.NoError(t, err)

	_, err = a.ProcessReading(reading(t, "r3", base.Add(25*time.Hour), 60), entities.DefaultRules())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, a))

	_, err = b.ProcessReading(reading(t, "r4", base.Add(26*time.Hour), 10), entities.DefaultRules())
	require.NoError(t, err)
	err = repo.Save(ctx, b)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// a second creation of the same field also conflicts
	err = repo.Save(ctx, dryField(t))
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestSQLite_IdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLIdempotencyStore(openSQLite(t), SQLite)

	ok, err := store.Exists(ctx, "r-1")
	require.NoError(t, err)
	assert.False(t, ok)

	p := entities.ProcessedReading{ReadingID: "r-1", FieldID: "field-1", ProcessedAt: base, Source: entities.SourceHTTP}
	require.NoError(t, store.MarkProcessed(ctx, p))
	require.NoError(t, store.MarkProcessed(ctx, p), "marking twice is harmless")

	ok, err = store.Exists(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
