package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	"github.com/LeonardoBeccarini/fieldalert/internal/repository"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/persistence"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/telemetry"
)

type stores struct {
	fields telemetry.FieldRepository
	idem   telemetry.IdempotencyStore
	series telemetry.TimeSeriesStore
	checks map[string]telemetry.ReadyCheck
	close  []func()
}

func (s *stores) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*stores, error) {
	s := &stores{checks: map[string]telemetry.ReadyCheck{}}

	var db *sql.DB
	var dialect repository.Dialect
	if cfg.Database.Driver == "memory" {
		s.fields = repository.NewMemoryFieldRepository()
		log.Warn("field state is kept in memory only")
	} else {
		var err error
		db, dialect, err = repository.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
		if err != nil {
			return nil, err
		}
		s.close = append(s.close, func() { _ = db.Close() })
		if err := repository.Migrate(ctx, db, dialect); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.fields = repository.NewSQLFieldRepository(db, dialect, log)
		s.checks["database"] = db.PingContext
	}

	switch cfg.Idempotency.Backend {
	case "sql":
		s.idem = repository.NewSQLIdempotencyStore(db, dialect)
	case "redis":
		s.idem = repository.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	default:
		s.idem = repository.NewMemoryIdempotencyStore(cfg.Idempotency.TTL, 0)
	}

	if cfg.Influx.Enabled {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		s.close = append(s.close, influx.Close)
		store, err := persistence.NewInfluxStore(influx, persistence.InfluxConfig{
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.ReadingsMeasurement,
		}, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.series = store
		s.checks["influx"] = func(ctx context.Context) error {
			ok, err := influx.Ping(ctx)
			if err == nil && !ok {
				err = fmt.Errorf("influx not ready")
			}
			return err
		}
	} else {
		s.series = persistence.NewMemoryStore()
		log.Warn("reading history is kept in memory only")
	}
	return s, nil
}
