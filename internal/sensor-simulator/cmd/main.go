package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/config"
	sensorSimulator "github.com/LeonardoBeccarini/fieldalert/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/fieldalert/pkg/logger"
	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
)

func main() {
	sensorID := flag.String("sensor-id", "sensor-1", "unique sensor identifier")
	fieldID := flag.String("field-id", "field-1", "field identifier")
	farmID := flag.String("farm-id", "farm-1", "farm identifier")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	moisture := flag.Float64("moisture", 45, "initial soil moisture in percent")
	decay := flag.Float64("decay", 0.35, "soil moisture lost per hour without rain")
	noAir := flag.Bool("no-air", false, "omit air temperature and humidity")
	dupRate := flag.Float64("duplicate-rate", 0, "probability of sending a reading twice")
	lateRate := flag.Float64("late-rate", 0, "probability of delaying a reading")
	lateBy := flag.Duration("late-by", time.Minute, "delay of late readings")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	if err := run(*sensorID, *fieldID, *farmID, *interval, *moisture, *decay, !*noAir,
		sensorSimulator.Faults{DuplicateRate: *dupRate, LateRate: *lateRate, LateBy: *lateBy}, *seed); err != nil {
		fmt.Fprintln(os.Stderr, "sensor-simulator:", err)
		os.Exit(1)
	}
}

func run(sensorID, fieldID, farmID string, interval time.Duration, moisture, decay float64, withAir bool,
	faults sensorSimulator.Faults, seed int64) error {
	cfg, err := config.Load("sensor-simulator")
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sensor-simulator")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:         cfg.MQTT.Host,
		Port:         cfg.MQTT.Port,
		User:         cfg.MQTT.User,
		Password:     cfg.MQTT.Password,
		ClientID:     "sim-" + sensorID,
		CleanSession: true,
	}, log)
	if err != nil {
		return err
	}

	profile := sensorSimulator.DefaultProfile(sensorID, fieldID, farmID)
	profile.SeedMoisture = moisture
	profile.DecayPerHour = decay
	profile.WithAir = withAir

	sim := sensorSimulator.NewSensorSimulator(
		rabbitmq.NewPublisher(client, "", log),
		sensorSimulator.NewDataGenerator(profile, seed),
		profile, faults, byte(cfg.MQTT.QoS), seed+1, log)

	log.Info("simulating sensor",
		zap.String("sensor_id", sensorID),
		zap.String("field_id", fieldID),
		zap.Duration("interval", interval))
	sim.Start(ctx, interval)
	return nil
}
