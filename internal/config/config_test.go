package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("telemetry")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "telemetry", cfg.MQTT.ClientID)
	assert.Equal(t, []string{"sensor/readings/#"}, cfg.MQTT.ReadingsTopics)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "sensor_reading", cfg.Influx.ReadingsMeasurement)
	assert.Equal(t, uint32(5), cfg.Breaker.Failures)
	assert.Equal(t, "localhost:50051", cfg.Upstreams.QueryAddr)
	assert.Equal(t, 3*time.Second, cfg.Upstreams.Timeout)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("READINGS_TOPICS", "sensor/readings/#, sensor/legacy/# ,")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DB_DRIVER", "PGX")
	t.Setenv("DB_DSN", "postgres://fieldalert@db/fieldalert")
	t.Setenv("IDEMPOTENCY_BACKEND", "redis")
	t.Setenv("IDEMPOTENCY_TTL", "36h")
	t.Setenv("INFLUX_ENABLED", "false")
	t.Setenv("STREAM_VISIBILITY_TIMEOUT", "not-a-duration")
	t.Setenv("PIPELINE_WORKERS", "x")
	t.Setenv("EVENT_URL", "http://event:8080")
	t.Setenv("UPSTREAM_TIMEOUT", "750ms")

	cfg, err := Load("telemetry")
	require.NoError(t, err)

	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, []string{"sensor/readings/#", "sensor/legacy/#"}, cfg.MQTT.ReadingsTopics)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 36*time.Hour, cfg.Idempotency.TTL)
	assert.False(t, cfg.Influx.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.VisibilityTimeout, "bad values fall back to defaults")
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "http://event:8080", cfg.Upstreams.EventsURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Upstreams.Timeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("IDEMPOTENCY_BACKEND", "redis")
	t.Setenv("PIPELINE_WORKERS", "0")
	t.Setenv("MQTT_QOS", "3")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load("telemetry")
	require.Error(t, err)
	for _, want := range []string{
		`unknown DB_DRIVER "mysql"`,
		"IDEMPOTENCY_BACKEND=redis needs REDIS_ADDR",
		"PIPELINE_WORKERS must be positive",
		"MQTT_QOS must be 0, 1 or 2",
		`unknown LOG_FORMAT "xml"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_SQLNeedsDSN(t *testing.T) {
	cfg := &Config{
		Database:    Database{Driver: "sqlite"},
		Idempotency: Idempotency{Backend: "sql"},
		Pipeline:    Pipeline{Workers: 1, QueueSize: 1},
		Log:         Log{Format: "json"},
	}
	assert.ErrorContains(t, cfg.Validate(), "DB_DSN is required")

	cfg.Database.DSN = "file:fieldalert.db"
	assert.NoError(t, cfg.Validate())

	cfg.Database = Database{Driver: "memory"}
	assert.ErrorContains(t, cfg.Validate(), "needs a SQL DB_DRIVER")
}

func TestAlertTopicFor(t *testing.T) {
	m := MQTT{AlertTopic: "event/alert/{farm}/{field}"}
	assert.Equal(t, "event/alert/farm-1/field-7", m.AlertTopicFor("farm-1", "field-7"))
}
