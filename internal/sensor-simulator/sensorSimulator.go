package sensor_simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/pkg/rabbitmq"
)

// DefaultTopic is the reading topic template; {farm} and {field} are replaced.
const DefaultTopic = "sensor/readings/{farm}/{field}"

// Faults makes the simulator misbehave the way a real uplink does.
type Faults struct {
	DuplicateRate float64       // probability of sending a reading twice
	LateRate      float64       // probability of holding a reading back
	LateBy        time.Duration // how long a held reading waits
}

type held struct {
	due     time.Time
	payload []byte
}

type SensorSimulator struct {
	mu        sync.Mutex
	generator *DataGenerator
	publisher rabbitmq.IPublisher
	topic     string
	qos       byte
	faults    Faults
	rnd       *rand.Rand
	late      []held
	log       *zap.Logger
}

func NewSensorSimulator(publisher rabbitmq.IPublisher, gen *DataGenerator, p Profile, faults Faults, qos byte, seed int64, log *zap.Logger) *SensorSimulator {
	if log == nil {
		log = zap.NewNop()
	}
	topic := strings.NewReplacer("{farm}", p.FarmID, "{field}", p.FieldID).Replace(DefaultTopic)
	return &SensorSimulator{
		generator: gen,
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		faults:    faults,
		rnd:       rand.New(rand.NewSource(seed)),
		log:       log.With(zap.String("sensor_id", p.SensorID), zap.String("topic", topic)),
	}
}

// Start publishes a reading every interval until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	defer s.publisher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := s.Tick(now); err != nil {
				s.log.Error("publish error", zap.Error(err))
			}
		}
	}
}

// Tick generates the reading for now, then releases held readings that are due.
// Released readings carry older timestamps than the one just sent.
func (s *SensorSimulator) Tick(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.generator.Next(now)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if s.faults.LateRate > 0 && s.rnd.Float64() < s.faults.LateRate {
		s.late = append(s.late, held{due: now.Add(s.faults.LateBy), payload: payload})
		s.log.Debug("reading held back", zap.String("reading_id", msg.ReadingID))
	} else {
		if err := s.send(payload); err != nil {
			return err
		}
		if s.faults.DuplicateRate > 0 && s.rnd.Float64() < s.faults.DuplicateRate {
			s.log.Debug("reading duplicated", zap.String("reading_id", msg.ReadingID))
			if err := s.send(payload); err != nil {
				return err
			}
		}
		s.log.Debug("reading published",
			zap.String("reading_id", msg.ReadingID),
			zap.Float64("soil_moisture", *msg.SoilHumidity))
	}
	return s.releaseDue(now)
}

func (s *SensorSimulator) releaseDue(now time.Time) error {
	sort.SliceStable(s.late, func(i, j int) bool { return s.late[i].due.Before(s.late[j].due) })
	n := 0
	for n < len(s.late) && !s.late[n].due.After(now) {
		if err := s.send(s.late[n].payload); err != nil {
			s.late = s.late[n:]
			return err
		}
		n++
	}
	s.late = s.late[n:]
	return nil
}

// Pending returns the number of readings still held back.
func (s *SensorSimulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.late)
}

func (s *SensorSimulator) send(payload []byte) error {
	return s.publisher.PublishTo(s.topic, s.qos, false, payload)
}
