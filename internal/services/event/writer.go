package event

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

const defaultWriteTimeout = 5 * time.Second

// Writer stores alert points synchronously so the caller sees every failure,
// and remembers when the last write error happened.
type Writer struct {
	api         api.WriteAPIBlocking
	measurement string
	timeout     time.Duration
	log         *zap.Logger

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

func NewWriter(w api.WriteAPIBlocking, measurement string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		api:         w,
		measurement: measurement,
		timeout:     defaultWriteTimeout,
		log:         log,
		lastErr:     time.Now().Add(-24 * time.Hour),
		counts:      make(map[string]int64),
	}
}

// Write stores ev. A point Influx refuses as malformed is Invalid, anything
// else is Transient.
func (w *Writer) Write(ev messages.AlertEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.api.WritePoint(ctx, EventToPoint(w.measurement, ev)); err != nil {
		w.mu.Lock()
		w.lastErr = time.Now()
		w.mu.Unlock()
		w.log.Error("influx write error", zap.String("alert_id", ev.AlertID), zap.Error(err))
		if rejected(err) {
			return errclass.WrapInvalid(err, "event", "Write", "write alert point")
		}
		return errclass.WrapTransient(err, "event", "Write", "write alert point")
	}

	w.mu.Lock()
	w.counts[ev.AlertType+"/"+ev.Status]++
	w.mu.Unlock()
	return nil
}

func rejected(err error) bool {
	var he *influxhttp.Error
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode == http.StatusBadRequest || he.StatusCode == http.StatusUnprocessableEntity
}

// LastErrorAge is the time since the last failed write.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Count returns how many events of alertType and status were written.
func (w *Writer) Count(alertType, status string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[alertType+"/"+status]
}
