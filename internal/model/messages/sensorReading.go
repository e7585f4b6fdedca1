package messages

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

// SensorReadingMessage is the wire form of one reading, shared by the MQTT,
// Redis stream and HTTP ingress paths.
type SensorReadingMessage struct {
	ReadingID       string   `json:"readingId"`
	SensorID        string   `json:"sensorId"`
	FieldID         string   `json:"fieldId"`
	FarmID          string   `json:"farmId"`
	Timestamp       string   `json:"timestamp"` // RFC 3339 with an explicit offset
	SoilHumidity    *float64 `json:"soilHumidity"`
	SoilTemperature *float64 `json:"soilTemperature"`
	AirTemperature  *float64 `json:"airTemperature,omitempty"`
	AirHumidity     *float64 `json:"airHumidity,omitempty"`
	RainMm          *float64 `json:"rainMm"`
	Source          string   `json:"source,omitempty"` // "http" | "mqtt", default "http"
}

// DecodeSensorReading parses a JSON payload. Unknown fields are ignored.
func DecodeSensorReading(payload []byte) (SensorReadingMessage, error) {
	var m SensorReadingMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&m); err != nil {
		return SensorReadingMessage{}, &entities.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return m, nil
}

// ToReading validates the message and builds the domain reading.
func (m SensorReadingMessage) ToReading() (entities.SensorReading, error) {
	if err := entities.CheckIdentifiers(m.ReadingID, m.SensorID, m.FieldID, m.FarmID); err != nil {
		return entities.SensorReading{}, err
	}
	required := []struct {
		name  string
		value *float64
	}{
		{"soilHumidity", m.SoilHumidity},
		{"soilTemperature", m.SoilTemperature},
		{"rainMm", m.RainMm},
	}
	for _, r := range required {
		if r.value == nil {
			return entities.SensorReading{}, &entities.ValidationError{Field: r.name, Reason: "is required"}
		}
	}

	var ts time.Time
	if m.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, m.Timestamp)
		if err != nil {
			return entities.SensorReading{}, &entities.ValidationError{
				Field:  "timestamp",
				Reason: "must be ISO-8601 with an explicit offset, got " + m.Timestamp,
			}
		}
		ts = parsed
	}

	return entities.NewSensorReading(entities.ReadingInput{
		ReadingID:       m.ReadingID,
		SensorID:        m.SensorID,
		FieldID:         m.FieldID,
		FarmID:          m.FarmID,
		Timestamp:       ts,
		SoilMoisturePct: *m.SoilHumidity,
		SoilTempC:       *m.SoilTemperature,
		RainMm:          *m.RainMm,
		AirTempC:        m.AirTemperature,
		AirHumidityPct:  m.AirHumidity,
		Source:          m.Source,
	})
}

// FromReading is the inverse of ToReading.
func FromReading(r entities.SensorReading) SensorReadingMessage {
	soil := r.SoilMoisture().Value()
	soilTemp := r.SoilTemperature().Value()
	rain := r.Rainfall().Value()
	m := SensorReadingMessage{
		ReadingID:       r.ReadingID(),
		SensorID:        r.SensorID(),
		FieldID:         r.FieldID(),
		FarmID:          r.FarmID(),
		Timestamp:       r.Timestamp().Format(time.RFC3339Nano),
		SoilHumidity:    &soil,
		SoilTemperature: &soilTemp,
		RainMm:          &rain,
		Source:          string(r.Source()),
	}
	if t, ok := r.AirTemperature(); ok {
		v := t.Value()
		m.AirTemperature = &v
	}
	if h, ok := r.AirHumidity(); ok {
		v := h.Value()
		m.AirHumidity = &v
	}
	return m
}
