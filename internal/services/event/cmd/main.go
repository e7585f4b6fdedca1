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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/event"
	"github.com/LeonardoBeccarini/fieldalert/pkg/dedup"
	"github.com/LeonardoBeccarini/fieldalert/pkg/logger"
	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "event-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("event-service")
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "event-service")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === InfluxDB ===
	influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
	defer influx.Close()
	writer := event.NewWriter(influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx.AlertsMeasurement, log)

	// === MQTT ===
	mqCfg := &rabbitmq.RabbitMQConfig{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		User:      cfg.MQTT.User,
		Password:  cfg.MQTT.Password,
		ClientID:  cfg.MQTT.ClientID,
		ManualAck: true,
	}
	mqttClient, err := rabbitmq.NewRabbitMQConn(ctx, mqCfg, log)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer rabbitmq.CloseRabbitMQConn(mqttClient, log)

	handler := event.NewMQTTHandler(writer.Write, dedup.New(10*time.Minute, 20000), log)
	consumer := rabbitmq.NewConsumer(mqttClient, cfg.MQTT.AlertsSub, handler.Handle, log)

	// === HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", event.NewHealthHandler(mqttClient, writer))
	mux.Handle("/readyz", event.NewReadyHandler(mqttClient, writer, 2*time.Second))
	mux.Handle("/events/alerts/latest",
		event.NewAlertsLatestHandler(influx.QueryAPI(cfg.Influx.Org), cfg.Influx.Bucket, cfg.Influx.AlertsMeasurement, log))

	hs := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", hs.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		consumer.ConsumeMessage(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shCtx)
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}
