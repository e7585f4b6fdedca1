// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type MQTT struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	ReadingsTopics []string
	// AlertTopic is a template with {farm} and {field} placeholders.
	AlertTopic string
	AlertsSub  string
	QoS        int
}

type Redis struct {
	Addr              string
	Password          string
	DB                int
	Stream            string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
	BatchSize         int
}

// Enabled reports whether a Redis address was configured.
func (r Redis) Enabled() bool { return r.Addr != "" }

type Database struct {
	Driver string // pgx | postgres | sqlite | memory
	DSN    string
}

type Influx struct {
	Enabled             bool
	URL                 string
	Token               string
	Org                 string
	Bucket              string
	ReadingsMeasurement string
	AlertsMeasurement   string
}

type Idempotency struct {
	Backend string // sql | redis | memory
	TTL     time.Duration
}

type Pipeline struct {
	Workers   int
	QueueSize int
}

type Rules struct {
	File string
}

type HTTP struct {
	Port string
}

type GRPC struct {
	Port string
}

// Upstreams are the services the dashboard gateway aggregates.
type Upstreams struct {
	PersistenceURL string
	EventsURL      string
	QueryAddr      string
	Timeout        time.Duration
}

type Breaker struct {
	Failures uint32
	OpenFor  time.Duration
}

type Log struct {
	Level  string
	Format string
}

type Config struct {
	MQTT        MQTT
	Redis       Redis
	Database    Database
	Influx      Influx
	Idempotency Idempotency
	Pipeline    Pipeline
	Rules       Rules
	HTTP        HTTP
	GRPC        GRPC
	Upstreams   Upstreams
	Breaker     Breaker
	Log         Log
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getEnvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

func getEnvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func getEnvList(k string, d []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the configuration for service. service is the default client id
// and stream consumer name.
func Load(service string) (*Config, error) {
	host, _ := os.Hostname()
	if host == "" {
		host = service
	}

	cfg := &Config{
		MQTT: MQTT{
			Host:           getEnv("MQTT_HOST", "localhost"),
			Port:           getEnvInt("MQTT_PORT", 1883),
			User:           getEnv("MQTT_USER", "mqtt_user"),
			Password:       getEnv("MQTT_PASS", "mqtt_pwd"),
			ClientID:       getEnv("MQTT_CLIENT_ID", service),
			ReadingsTopics: getEnvList("READINGS_TOPICS", []string{"sensor/readings/#"}),
			AlertTopic:     getEnv("ALERT_TOPIC", "event/alert/{farm}/{field}"),
			AlertsSub:      getEnv("ALERTS_SUB_TOPIC", "event/alert/#"),
			QoS:            getEnvInt("MQTT_QOS", 1),
		},
		Redis: Redis{
			Addr:              getEnv("REDIS_ADDR", ""),
			Password:          getEnv("REDIS_PASSWORD", ""),
			DB:                getEnvInt("REDIS_DB", 0),
			Stream:            getEnv("READINGS_STREAM", "fieldalert:readings"),
			Group:             getEnv("STREAM_GROUP", "telemetry"),
			Consumer:          getEnv("STREAM_CONSUMER", service+"-"+host),
			VisibilityTimeout: getEnvDuration("STREAM_VISIBILITY_TIMEOUT", 30*time.Second),
			BatchSize:         getEnvInt("STREAM_BATCH", 32),
		},
		Database: Database{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "memory")),
			DSN:    getEnv("DB_DSN", ""),
		},
		Influx: Influx{
			Enabled:             getEnvBool("INFLUX_ENABLED", true),
			URL:                 getEnv("INFLUX_URL", "http://localhost:8086"),
			Token:               getEnv("INFLUX_TOKEN", ""),
			Org:                 getEnv("INFLUX_ORG", "fieldalert"),
			Bucket:              getEnv("INFLUX_BUCKET", "telemetry"),
			ReadingsMeasurement: getEnv("READINGS_MEASUREMENT", "sensor_reading"),
			AlertsMeasurement:   getEnv("ALERTS_MEASUREMENT", "alert_event"),
		},
		Idempotency: Idempotency{
			Backend: strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", "memory")),
			TTL:     getEnvDuration("IDEMPOTENCY_TTL", 7*24*time.Hour),
		},
		Pipeline: Pipeline{
			Workers:   getEnvInt("PIPELINE_WORKERS", 8),
			QueueSize: getEnvInt("PIPELINE_QUEUE_SIZE", 64),
		},
		Rules: Rules{File: getEnv("RULES_FILE", "")},
		HTTP:  HTTP{Port: getEnv("HTTP_PORT", "8080")},
		GRPC:  GRPC{Port: getEnv("GRPC_PORT", "50051")},
		Upstreams: Upstreams{
			PersistenceURL: getEnv("PERSISTENCE_URL", "http://localhost:8081"),
			EventsURL:      getEnv("EVENT_URL", "http://localhost:8082"),
			QueryAddr:      getEnv("QUERY_ADDR", "localhost:50051"),
			Timeout:        getEnvDuration("UPSTREAM_TIMEOUT", 3*time.Second),
		},
		Breaker: Breaker{
			Failures: uint32(getEnvInt("BREAKER_FAILURES", 5)),
			OpenFor:  getEnvDuration("BREAKER_OPEN_FOR", 30*time.Second),
		},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "memory":
	case "pgx", "postgres", "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("DB_DSN is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "sql":
		if c.Database.Driver == "memory" {
			errs = append(errs, errors.New("IDEMPOTENCY_BACKEND=sql needs a SQL DB_DRIVER"))
		}
	case "redis":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("IDEMPOTENCY_BACKEND=redis needs REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.Idempotency.Backend))
	}

	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_QUEUE_SIZE must be positive, got %d", c.Pipeline.QueueSize))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// AlertTopicFor fills the alert topic template.
func (m MQTT) AlertTopicFor(farmID, fieldID string) string {
	return strings.NewReplacer("{farm}", farmID, "{field}", fieldID).Replace(m.AlertTopic)
}
