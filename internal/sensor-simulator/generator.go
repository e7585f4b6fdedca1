package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

// Profile describes the simulated plot and its climate.
type Profile struct {
	SensorID string
	FieldID  string
	FarmID   string

	SeedMoisture  float64 // % at start
	DecayPerHour  float64 // % lost per hour without rain
	RainChance    float64 // probability of a rain event per reading
	MeanRainMm    float64
	MoisturePerMm float64 // % gained per mm of rain

	BaseAirTemp   float64 // daily mean, °C
	AirTempSwing  float64 // half of the daily excursion
	BaseHumidity  float64 // daily mean, %
	HumiditySwing float64
	WithAir       bool
}

// DefaultProfile is a temperate field that dries below 30% in about two days.
func DefaultProfile(sensorID, fieldID, farmID string) Profile {
	return Profile{
		SensorID:      sensorID,
		FieldID:       fieldID,
		FarmID:        farmID,
		SeedMoisture:  45,
		DecayPerHour:  0.35,
		RainChance:    0.02,
		MeanRainMm:    4,
		MoisturePerMm: 1.5,
		BaseAirTemp:   18,
		AirTempSwing:  8,
		BaseHumidity:  60,
		HumiditySwing: 20,
		WithAir:       true,
	}
}

// DataGenerator keeps the soil moisture of one sensor and advances it in time.
type DataGenerator struct {
	mu       sync.Mutex
	profile  Profile
	rnd      *rand.Rand
	seeded   bool
	last     time.Time
	moisture float64
}

func NewDataGenerator(p Profile, seed int64) *DataGenerator {
	return &DataGenerator{profile: p, rnd: rand.New(rand.NewSource(seed))}
}

// Next advances the model to now and returns a reading for that instant.
func (g *DataGenerator) Next(now time.Time) messages.SensorReadingMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	now = now.UTC()
	if !g.seeded {
		g.moisture = clamp(g.profile.SeedMoisture, entities.MinPercent, entities.MaxPercent)
		g.last = now
		g.seeded = true
	}

	hours := now.Sub(g.last).Hours()
	if hours < 0 {
		hours = 0
	}
	g.last = now

	rain := 0.0
	if g.rnd.Float64() < g.profile.RainChance {
		rain = g.rnd.ExpFloat64() * g.profile.MeanRainMm
	}
	g.moisture = clamp(g.moisture-g.profile.DecayPerHour*hours+rain*g.profile.MoisturePerMm, 0, 100)

	// Air peaks mid afternoon; the soil follows with a lag and a smaller swing.
	phase := 2 * math.Pi * (hourOfDay(now) - 9) / 24
	air := g.profile.BaseAirTemp + g.profile.AirTempSwing*math.Sin(phase) + g.rnd.NormFloat64()*0.5
	soil := g.profile.BaseAirTemp - 3 + g.profile.AirTempSwing/3*math.Sin(phase-math.Pi/6)
	humidity := clamp(g.profile.BaseHumidity-g.profile.HumiditySwing*math.Sin(phase)+g.rnd.NormFloat64(), 0, 100)

	msg := messages.SensorReadingMessage{
		ReadingID:       uuid.NewString(),
		SensorID:        g.profile.SensorID,
		FieldID:         g.profile.FieldID,
		FarmID:          g.profile.FarmID,
		Timestamp:       now.Format(time.RFC3339Nano),
		SoilHumidity:    ptr(round1(g.moisture)),
		SoilTemperature: ptr(round1(clamp(soil, entities.MinTemperature, entities.MaxTemperature))),
		RainMm:          ptr(round1(rain)),
		Source:          string(entities.SourceMQTT),
	}
	if g.profile.WithAir {
		msg.AirTemperature = ptr(round1(clamp(air, entities.MinTemperature, entities.MaxTemperature)))
		msg.AirHumidity = ptr(round1(humidity))
	}
	return msg
}

// Moisture returns the current modelled soil moisture in percent.
func (g *DataGenerator) Moisture() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moisture
}

func hourOfDay(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func ptr(v float64) *float64 { return &v }
