package entities

import (
	"strings"
	"time"
)

// Source tells which ingress a reading arrived through.
type Source string

const (
	SourceHTTP Source = "http"
	SourceMQTT Source = "mqtt"
)

// ParseSource accepts "http" and "mqtt", case-insensitively. Empty means http.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(SourceHTTP):
		return SourceHTTP, nil
	case string(SourceMQTT):
		return SourceMQTT, nil
	default:
		return "", &ValidationError{Field: "source", Reason: "must be http or mqtt, got " + s}
	}
}

// ReadingInput carries the raw primitives a SensorReading is built from.
// AirTempC and AirHumidityPct are nil when the sensor does not report them.
type ReadingInput struct {
	ReadingID       string
	SensorID        string
	FieldID         string
	FarmID          string
	Timestamp       time.Time
	SoilMoisturePct float64
	SoilTempC       float64
	RainMm          float64
	AirTempC        *float64
	AirHumidityPct  *float64
	Source          string
}

// SensorReading is an immutable, validated observation of one field.
type SensorReading struct {
	readingID    string
	sensorID     string
	fieldID      string
	farmID       string
	timestamp    time.Time
	soilMoisture SoilMoisture
	soilTemp     Temperature
	rain         Rainfall
	airTemp      *Temperature
	airHumidity  *AirHumidity
	source       Source
}

// NewSensorReading validates identifiers first, then each measurement, and
// stops at the first problem.
func NewSensorReading(in ReadingInput) (SensorReading, error) {
	if err := CheckIdentifiers(in.ReadingID, in.SensorID, in.FieldID, in.FarmID); err != nil {
		return SensorReading{}, err
	}
	if in.Timestamp.IsZero() {
		return SensorReading{}, &ValidationError{Field: "timestamp", Reason: "is required"}
	}

	moisture, err := NewSoilMoisture(in.SoilMoisturePct)
	if err != nil {
		return SensorReading{}, err
	}
	soilTemp, err := newTemperature("soilTemperature", in.SoilTempC)
	if err != nil {
		return SensorReading{}, err
	}
	rain, err := NewRainfall(in.RainMm)
	if err != nil {
		return SensorReading{}, err
	}

	var airTemp *Temperature
	if in.AirTempC != nil {
		t, err := newTemperature("airTemperature", *in.AirTempC)
		if err != nil {
			return SensorReading{}, err
		}
		airTemp = &t
	}
	var airHumidity *AirHumidity
	if in.AirHumidityPct != nil {
		h, err := NewAirHumidity(*in.AirHumidityPct)
		if err != nil {
			return SensorReading{}, err
		}
		airHumidity = &h
	}

	source, err := ParseSource(in.Source)
	if err != nil {
		return SensorReading{}, err
	}

	return SensorReading{
		readingID:    in.ReadingID,
		sensorID:     in.SensorID,
		fieldID:      in.FieldID,
		farmID:       in.FarmID,
		timestamp:    in.Timestamp,
		soilMoisture: moisture,
		soilTemp:     soilTemp,
		rain:         rain,
		airTemp:      airTemp,
		airHumidity:  airHumidity,
		source:       source,
	}, nil
}

func (r SensorReading) ReadingID() string            { return r.readingID }
func (r SensorReading) SensorID() string             { return r.sensorID }
func (r SensorReading) FieldID() string              { return r.fieldID }
func (r SensorReading) FarmID() string               { return r.farmID }
func (r SensorReading) Timestamp() time.Time         { return r.timestamp }
func (r SensorReading) SoilMoisture() SoilMoisture   { return r.soilMoisture }
func (r SensorReading) SoilTemperature() Temperature { return r.soilTemp }
func (r SensorReading) Rainfall() Rainfall           { return r.rain }
func (r SensorReading) Source() Source               { return r.source }

// AirTemperature returns the air temperature and whether the sensor reported one.
func (r SensorReading) AirTemperature() (Temperature, bool) {
	if r.airTemp == nil {
		return Temperature{}, false
	}
	return *r.airTemp, true
}

// AirHumidity returns the air humidity and whether the sensor reported one.
func (r SensorReading) AirHumidity() (AirHumidity, bool) {
	if r.airHumidity == nil {
		return AirHumidity{}, false
	}
	return *r.airHumidity, true
}

// CheckIdentifiers reports the first blank identifier of a reading.
func CheckIdentifiers(readingID, sensorID, fieldID, farmID string) error {
	ids := []struct {
		name, value string
	}{
		{"readingId", readingID},
		{"sensorId", sensorID},
		{"fieldId", fieldID},
		{"farmId", farmID},
	}
	for _, id := range ids {
		if strings.TrimSpace(id.value) == "" {
			return &ValidationError{Field: id.name, Reason: "must not be blank"}
		}
	}
	return nil
}
