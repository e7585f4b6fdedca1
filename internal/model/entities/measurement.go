package entities

import "math"

// Legal ranges of the measurement kinds, bounds included.
const (
	MinPercent     = 0.0
	MaxPercent     = 100.0
	MinTemperature = -50.0
	MaxTemperature = 60.0
	MinRainfall    = 0.0
)

func checkRange(field string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Reason: "must be a finite number"}
	}
	if v < lo || v > hi {
		return &ValidationError{Field: field, Reason: rangeReason(lo, hi, v)}
	}
	return nil
}

// SoilMoisture is volumetric soil water content in percent.
type SoilMoisture struct{ v float64 }

func NewSoilMoisture(pct float64) (SoilMoisture, error) {
	if err := checkRange("soilMoisture", pct, MinPercent, MaxPercent); err != nil {
		return SoilMoisture{}, err
	}
	return SoilMoisture{v: pct}, nil
}

func (m SoilMoisture) Value() float64              { return m.v }
func (m SoilMoisture) IsAbove(o SoilMoisture) bool { return m.v > o.v }
func (m SoilMoisture) IsBelow(o SoilMoisture) bool { return m.v < o.v }
func (m SoilMoisture) Equal(o SoilMoisture) bool   { return m.v == o.v }

// AirHumidity is relative air humidity in percent.
type AirHumidity struct{ v float64 }

func NewAirHumidity(pct float64) (AirHumidity, error) {
	if err := checkRange("airHumidity", pct, MinPercent, MaxPercent); err != nil {
		return AirHumidity{}, err
	}
	return AirHumidity{v: pct}, nil
}

func (h AirHumidity) Value() float64             { return h.v }
func (h AirHumidity) IsAbove(o AirHumidity) bool { return h.v > o.v }
func (h AirHumidity) IsBelow(o AirHumidity) bool { return h.v < o.v }
func (h AirHumidity) Equal(o AirHumidity) bool   { return h.v == o.v }

// Temperature in degrees Celsius, used for both soil and air.
type Temperature struct{ v float64 }

func NewTemperature(celsius float64) (Temperature, error) {
	return newTemperature("temperature", celsius)
}

func newTemperature(field string, celsius float64) (Temperature, error) {
	if err := checkRange(field, celsius, MinTemperature, MaxTemperature); err != nil {
		return Temperature{}, err
	}
	return Temperature{v: celsius}, nil
}

func (t Temperature) Value() float64             { return t.v }
func (t Temperature) IsAbove(o Temperature) bool { return t.v > o.v }
func (t Temperature) IsBelow(o Temperature) bool { return t.v < o.v }
func (t Temperature) Equal(o Temperature) bool   { return t.v == o.v }

// Rainfall accumulated since the previous reading, in millimetres.
type Rainfall struct{ v float64 }

func NewRainfall(mm float64) (Rainfall, error) {
	if err := checkRange("rainMm", mm, MinRainfall, math.MaxFloat64); err != nil {
		return Rainfall{}, err
	}
	return Rainfall{v: mm}, nil
}

func (r Rainfall) Value() float64          { return r.v }
func (r Rainfall) IsAbove(o Rainfall) bool { return r.v > o.v }
func (r Rainfall) IsBelow(o Rainfall) bool { return r.v < o.v }
func (r Rainfall) Equal(o Rainfall) bool   { return r.v == o.v }
