package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	"github.com/LeonardoBeccarini/fieldalert/internal/repository"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/persistence"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/query"
	"github.com/LeonardoBeccarini/fieldalert/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("query")
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "query")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Driver == "memory" {
		return errors.New("the query service reads shared state and needs DB_DRIVER=sqlite or postgres")
	}
	if !cfg.Influx.Enabled {
		return errors.New("the query service needs InfluxDB (INFLUX_ENABLED=false)")
	}

	db, dialect, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	fields := repository.NewSQLFieldRepository(db, dialect, log)

	influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
	defer influx.Close()
	history, err := persistence.NewInfluxStore(influx, persistence.InfluxConfig{
		Org:         cfg.Influx.Org,
		Bucket:      cfg.Influx.Bucket,
		Measurement: cfg.Influx.ReadingsMeasurement,
	}, log)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(query.LoggingInterceptor(log)))
	query.RegisterFieldQueryServer(grpcServer, query.NewService(fields, history, log))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	go watchHealth(ctx, hs, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if ok, err := influx.Ping(ctx); err != nil || !ok {
			return fmt.Errorf("influx not ready: %v", err)
		}
		return nil
	}, log)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		hs.Shutdown()
		grpcServer.GracefulStop()
	}()

	log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// watchHealth flips the serving status of the whole server with the stores.
func watchHealth(ctx context.Context, hs *health.Server, check func(context.Context) error, log *zap.Logger) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	serving := healthpb.HealthCheckResponse_UNKNOWN
	for {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(cctx)
		cancel()

		next := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if next != serving {
			if err != nil {
				log.Warn("stores unavailable", zap.Error(err))
			}
			hs.SetServingStatus("", next)
			serving = next
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
