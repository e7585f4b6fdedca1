package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

type InfluxConfig struct {
	Org         string
	Bucket      string
	Measurement string
}

// Bucket is one window of averaged readings. Rain is summed, not averaged.
type Bucket struct {
	Start           time.Time `json:"start"`
	SoilMoisture    *float64  `json:"soilMoisture,omitempty"`
	SoilTemperature *float64  `json:"soilTemperature,omitempty"`
	AirTemperature  *float64  `json:"airTemperature,omitempty"`
	AirHumidity     *float64  `json:"airHumidity,omitempty"`
	RainMm          float64   `json:"rainMm"`
}

// InfluxStore keeps raw readings as points tagged by field, farm, sensor and source.
type InfluxStore struct {
	write       api.WriteAPIBlocking
	query       api.QueryAPI
	bucket      string
	measurement string
	log         *zap.Logger
}

func NewInfluxStore(client influxdb2.Client, cfg InfluxConfig, log *zap.Logger) (*InfluxStore, error) {
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "sensor_reading"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InfluxStore{
		write:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:       client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: sanitizeMeasurement(cfg.Measurement),
		log:         log,
	}, nil
}

// ReadingToPoint maps r onto a point. reading_id is a tag so two readings of
// one sensor sharing a timestamp stay separate points. Absent air values are
// left out.
func ReadingToPoint(measurement string, r entities.SensorReading) *write.Point {
	tags := map[string]string{
		"field_id":   r.FieldID(),
		"farm_id":    r.FarmID(),
		"sensor_id":  r.SensorID(),
		"source":     string(r.Source()),
		"reading_id": r.ReadingID(),
	}
	fields := map[string]interface{}{
		"soil_moisture":    r.SoilMoisture().Value(),
		"soil_temperature": r.SoilTemperature().Value(),
		"rain_mm":          r.Rainfall().Value(),
	}
	if t, ok := r.AirTemperature(); ok {
		fields["air_temperature"] = t.Value()
	}
	if h, ok := r.AirHumidity(); ok {
		fields["air_humidity"] = h.Value()
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp())
}

// Append writes r. Readings are not deduplicated here.
func (s *InfluxStore) Append(ctx context.Context, r entities.SensorReading) error {
	if err := s.write.WritePoint(ctx, ReadingToPoint(s.measurement, r)); err != nil {
		return fmt.Errorf("influx write reading %s: %w", r.ReadingID(), err)
	}
	return nil
}

// GetByPeriod returns the readings of fieldID with from <= timestamp <= to,
// oldest first.
func (s *InfluxStore) GetByPeriod(ctx context.Context, fieldID string, from, to time.Time) ([]entities.SensorReading, error) {
	res, err := s.query.Query(ctx, periodFlux(s.bucket, s.measurement, fieldID, from, to))
	if err != nil {
		return nil, fmt.Errorf("influx query readings: %w", err)
	}
	defer func() { _ = res.Close() }()

	var out []entities.SensorReading
	for res.Next() {
		rec := res.Record()
		r, err := readingFromValues(rec.Values(), rec.Time())
		if err != nil {
			s.log.Warn("skipping unreadable reading row", zap.String("field_id", fieldID), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("influx iterate readings: %w", res.Err())
	}
	return out, nil
}

// Averages aggregates the readings of fieldID into windows of every.
func (s *InfluxStore) Averages(ctx context.Context, fieldID string, from, to time.Time, every time.Duration) ([]Bucket, error) {
	res, err := s.query.Query(ctx, averagesFlux(s.bucket, s.measurement, fieldID, from, to, every))
	if err != nil {
		return nil, fmt.Errorf("influx query averages: %w", err)
	}
	defer func() { _ = res.Close() }()

	var out []Bucket
	for res.Next() {
		out = append(out, bucketFromValues(res.Record().Values(), res.Record().Time()))
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("influx iterate averages: %w", res.Err())
	}
	return out, nil
}

func fluxRange(from, to time.Time) string {
	// range stop is exclusive
	return fmt.Sprintf("range(start: %s, stop: %s)",
		from.UTC().Format(time.RFC3339Nano), to.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano))
}

func periodFlux(bucket, measurement, fieldID string, from, to time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> %s
  |> filter(fn: (r) => r._measurement == %q and r.field_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time", "reading_id"])
`, bucket, fluxRange(from, to), measurement, fieldID)
}

func averagesFlux(bucket, measurement, fieldID string, from, to time.Time, every time.Duration) string {
	return fmt.Sprintf(`
data = from(bucket: %q)
  |> %s
  |> filter(fn: (r) => r._measurement == %q and r.field_id == %q)
  |> group(columns: ["_field"])

means = data
  |> filter(fn: (r) => r._field == "soil_moisture" or r._field == "soil_temperature" or r._field == "air_temperature" or r._field == "air_humidity")
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false, timeSrc: "_start")

rain = data
  |> filter(fn: (r) => r._field == "rain_mm")
  |> aggregateWindow(every: %s, fn: sum, createEmpty: false, timeSrc: "_start")

union(tables: [means, rain])
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"])
`, bucket, fluxRange(from, to), measurement, fieldID, fluxDuration(every), fluxDuration(every))
}

// fluxDuration renders d as a Flux duration literal.
func fluxDuration(d time.Duration) string {
	if d <= 0 {
		d = time.Hour
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}

func readingFromValues(v map[string]interface{}, at time.Time) (entities.SensorReading, error) {
	soil, _ := toFloat(v["soil_moisture"])
	soilTemp, _ := toFloat(v["soil_temperature"])
	rain, _ := toFloat(v["rain_mm"])
	in := entities.ReadingInput{
		ReadingID:       toString(v["reading_id"]),
		SensorID:        toString(v["sensor_id"]),
		FieldID:         toString(v["field_id"]),
		FarmID:          toString(v["farm_id"]),
		Timestamp:       at,
		SoilMoisturePct: soil,
		SoilTempC:       soilTemp,
		RainMm:          rain,
		Source:          toString(v["source"]),
	}
	if t, ok := toFloat(v["air_temperature"]); ok {
		in.AirTempC = &t
	}
	if h, ok := toFloat(v["air_humidity"]); ok {
		in.AirHumidityPct = &h
	}
	return entities.NewSensorReading(in)
}

func bucketFromValues(v map[string]interface{}, at time.Time) Bucket {
	b := Bucket{Start: at.UTC()}
	opt := func(key string) *float64 {
		if f, ok := toFloat(v[key]); ok {
			return &f
		}
		return nil
	}
	b.SoilMoisture = opt("soil_moisture")
	b.SoilTemperature = opt("soil_temperature")
	b.AirTemperature = opt("air_temperature")
	b.AirHumidity = opt("air_humidity")
	b.RainMm, _ = toFloat(v["rain_mm"])
	return b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
