package app

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

type Config struct {
	Timeout     time.Duration // per dashboard request
	Window      time.Duration // history shown on the dashboard
	Every       time.Duration // averaging window
	AlertsLimit int
}

// Gateway aggregates the query, persistence and event services into one
// dashboard view per field.
type Gateway struct {
	cfg         Config
	fields      FieldSource
	fieldsCB    *gobreaker.CircuitBreaker
	persistence *Upstream
	events      *Upstream
	log         *zap.Logger
	now         func() time.Time

	mu         sync.Mutex
	lastAlerts map[string][]messages.AlertEvent
}

func NewGateway(cfg Config, fields FieldSource, fieldsCB *gobreaker.CircuitBreaker, persistence, events *Upstream, log *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Every <= 0 {
		cfg.Every = time.Hour
	}
	if cfg.AlertsLimit <= 0 {
		cfg.AlertsLimit = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		cfg:         cfg,
		fields:      fields,
		fieldsCB:    fieldsCB,
		persistence: persistence,
		events:      events,
		log:         log,
		now:         time.Now,
		lastAlerts:  make(map[string][]messages.AlertEvent),
	}
}

// Breakers returns the state of every upstream breaker by name.
func (g *Gateway) Breakers() map[string]string {
	return map[string]string{
		g.fieldsCB.Name():    g.fieldsCB.State().String(),
		g.persistence.Name(): g.persistence.State(),
		g.events.Name():      g.events.State(),
	}
}

func (g *Gateway) rememberAlerts(fieldID string, alerts []messages.AlertEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAlerts[fieldID] = alerts
}

func (g *Gateway) cachedAlerts(fieldID string) ([]messages.AlertEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.lastAlerts[fieldID]
	return a, ok
}
