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

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	"github.com/LeonardoBeccarini/fieldalert/internal/ruleset"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/event"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/telemetry"
	"github.com/LeonardoBeccarini/fieldalert/pkg/logger"
	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fieldalert/pkg/redisqueue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "telemetry:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("telemetry")
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "telemetry")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// === Redis ===
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
	}

	// === Stores ===
	st, err := openStores(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if rdb != nil {
		st.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	rules, err := ruleset.LoadFile(cfg.Rules.File)
	if err != nil {
		return err
	}

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
	st.checks["mqtt"] = func(context.Context) error {
		if !mqttClient.IsConnectionOpen() {
			return errors.New("mqtt disconnected")
		}
		return nil
	}

	alerts := event.NewPublisher(
		rabbitmq.NewPublisher(mqttClient, "", log),
		cfg.MQTT.AlertTopic,
		byte(cfg.MQTT.QoS),
		event.NewBreaker("alert-publisher", event.BreakerConfig{Failures: cfg.Breaker.Failures, OpenFor: cfg.Breaker.OpenFor}),
		log,
	)

	// === Pipeline ===
	proc := telemetry.NewProcessor(telemetry.Deps{
		Idempotency: st.idem,
		Series:      st.series,
		Fields:      st.fields,
		Events:      alerts,
		Rules:       rules,
	}, metrics, log)
	dispatcher := telemetry.NewDispatcher(proc, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, metrics, log)
	dispatcher.Start()
	defer dispatcher.Stop()

	api := telemetry.API{Submitter: dispatcher, Checks: st.checks, Gatherer: reg, Log: log}
	var queue *redisqueue.Queue
	if rdb != nil {
		queue = redisqueue.New(rdb, redisqueue.Config{
			Stream:       cfg.Redis.Stream,
			Group:        cfg.Redis.Group,
			Consumer:     cfg.Redis.Consumer,
			Count:        int64(cfg.Redis.BatchSize),
			ReclaimAfter: cfg.Redis.VisibilityTimeout,
			Concurrency:  cfg.Pipeline.Workers,
		}, log)
		queue.SetKeyFunc(telemetry.StreamKey)
		api.Queue = queue
	}

	var fallback telemetry.Enqueuer
	if queue != nil {
		fallback = queue
	}
	consumer := rabbitmq.NewMultiConsumer(mqttClient, cfg.MQTT.ReadingsTopics,
		telemetry.MQTTHandler(ctx, dispatcher, fallback, log), log)

	hs := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           telemetry.NewHTTPMux(api),
		ReadHeaderTimeout: 10 * time.Second,
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
	if queue != nil {
		g.Go(func() error {
			return queue.Run(gctx, telemetry.StreamHandler(dispatcher, log))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shCtx)
	})

	err = g.Wait()
	log.Info("shutting down", zap.Error(err))
	return err
}
