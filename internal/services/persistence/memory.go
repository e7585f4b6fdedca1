package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

// MemoryStore is a process-local reading history for single-node runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byField map[string][]entities.SensorReading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byField: make(map[string][]entities.SensorReading)}
}

func (s *MemoryStore) Append(_ context.Context, r entities.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.byField[r.FieldID()], r)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp().Before(list[j].Timestamp()) })
	s.byField[r.FieldID()] = list
	return nil
}

func (s *MemoryStore) GetByPeriod(_ context.Context, fieldID string, from, to time.Time) ([]entities.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entities.SensorReading
	for _, r := range s.byField[fieldID] {
		if r.Timestamp().Before(from) || r.Timestamp().After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type acc struct {
	sum float64
	n   int
}

func (a *acc) add(v float64) {
	a.sum += v
	a.n++
}

func (a *acc) mean() *float64 {
	if a.n == 0 {
		return nil
	}
	m := a.sum / float64(a.n)
	return &m
}

// Averages mirrors the Influx aggregation: windows aligned to the epoch,
// empty windows omitted.
func (s *MemoryStore) Averages(ctx context.Context, fieldID string, from, to time.Time, every time.Duration) ([]Bucket, error) {
	if every <= 0 {
		every = time.Hour
	}
	readings, _ := s.GetByPeriod(ctx, fieldID, from, to)

	type window struct {
		soil, soilTemp, airTemp, airHum acc
		rain                            float64
	}
	windows := map[time.Time]*window{}
	var starts []time.Time
	for _, r := range readings {
		start := r.Timestamp().UTC().Truncate(every)
		w, ok := windows[start]
		if !ok {
			w = &window{}
			windows[start] = w
			starts = append(starts, start)
		}
		w.soil.add(r.SoilMoisture().Value())
		w.soilTemp.add(r.SoilTemperature().Value())
		w.rain += r.Rainfall().Value()
		if t, ok := r.AirTemperature(); ok {
			w.airTemp.add(t.Value())
		}
		if h, ok := r.AirHumidity(); ok {
			w.airHum.add(h.Value())
		}
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	out := make([]Bucket, 0, len(starts))
	for _, start := range starts {
		w := windows[start]
		out = append(out, Bucket{
			Start:           start,
			SoilMoisture:    w.soil.mean(),
			SoilTemperature: w.soilTemp.mean(),
			AirTemperature:  w.airTemp.mean(),
			AirHumidity:     w.airHum.mean(),
			RainMm:          w.rain,
		})
	}
	return out, nil
}
