package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/query"
	"github.com/LeonardoBeccarini/fieldalert/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("gateway")
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "gateway")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(cfg.Upstreams.QueryAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("query client: %w", err)
	}
	defer func() { _ = conn.Close() }()

	timeout := cfg.Upstreams.Timeout
	gw := app.NewGateway(app.Config{Timeout: timeout},
		query.NewClient(conn),
		app.NewBreaker("query", cfg.Breaker.Failures, cfg.Breaker.OpenFor, log),
		app.NewUpstream("persistence", cfg.Upstreams.PersistenceURL, timeout,
			app.NewBreaker("persistence", cfg.Breaker.Failures, cfg.Breaker.OpenFor, log)),
		app.NewUpstream("events", cfg.Upstreams.EventsURL, timeout,
			app.NewBreaker("events", cfg.Breaker.Failures, cfg.Breaker.OpenFor, log)),
		log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           app.NewHTTPMux(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("gateway listening", zap.String("addr", srv.Addr), zap.String("query", cfg.Upstreams.QueryAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
