// Package repository persists field aggregates and idempotency markers.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrConcurrentModification is returned by Save when the stored field changed
// since it was loaded.
var ErrConcurrentModification = errors.New("field was modified concurrently")

// Dialect selects placeholder style and column types.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open connects to the database and waits for it to answer a ping.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*sql.DB, Dialect, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, 0, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == SQLite {
		// one writer at a time avoids SQLITE_BUSY under concurrent saves
		db.SetMaxOpenConns(1)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn("database not ready", zap.String("driver", driver), zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, dialect, nil
}

func schema(d Dialect) []string {
	num, ts, bigint := "DOUBLE PRECISION", "TIMESTAMPTZ", "BIGINT"
	if d == SQLite {
		num, ts, bigint = "REAL", "TIMESTAMP", "INTEGER"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS fields (
			id TEXT PRIMARY KEY,
			farm_id TEXT NOT NULL,
			sensor_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_reason TEXT NOT NULL DEFAULT '',
			last_reading_at ` + ts + ` NULL,
			soil_moisture ` + num + ` NULL,
			soil_temperature ` + num + ` NULL,
			rainfall ` + num + ` NULL,
			air_temperature ` + num + ` NULL,
			air_humidity ` + num + ` NULL,
			last_normal TEXT NOT NULL DEFAULT '{}',
			version ` + bigint + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			farm_id TEXT NOT NULL,
			field_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity INTEGER NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			started_at ` + ts + ` NOT NULL,
			resolved_at ` + ts + ` NULL
		)`,
		`CREATE INDEX IF NOT EXISTS alerts_field_status ON alerts (field_id, status)`,
		`CREATE TABLE IF NOT EXISTS processed_readings (
			reading_id TEXT PRIMARY KEY,
			field_id TEXT NOT NULL,
			processed_at ` + ts + ` NOT NULL,
			source TEXT NOT NULL
		)`,
	}
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// nullTime scans timestamps from drivers that return either time.Time or text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (nt *nullTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	case time.Time:
		nt.Time, nt.Valid = v.UTC(), true
		return nil
	case string:
		return nt.parse(v)
	case []byte:
		return nt.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", src)
	}
}

func (nt *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			nt.Time, nt.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (nt nullTime) ptr() *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func floatArg(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
