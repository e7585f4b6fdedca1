package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

// History is the read side of the reading store.
type History interface {
	GetByPeriod(ctx context.Context, fieldID string, from, to time.Time) ([]entities.SensorReading, error)
	Averages(ctx context.Context, fieldID string, from, to time.Time, every time.Duration) ([]Bucket, error)
}

type period struct {
	FieldID string
	From    time.Time
	To      time.Time
	Every   time.Duration
}

// parsePeriod reads field_id, from, to (RFC 3339, default the last 24h) and every.
func parsePeriod(r *http.Request, now time.Time) (period, string) {
	q := r.URL.Query()
	p := period{
		FieldID: strings.TrimSpace(q.Get("field_id")),
		From:    now.Add(-24 * time.Hour),
		To:      now,
		Every:   time.Hour,
	}
	if p.FieldID == "" {
		return p, "field_id is required"
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, "from must be RFC 3339"
		}
		p.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, "to must be RFC 3339"
		}
		p.To = t
	}
	if p.To.Before(p.From) {
		return p, "to is before from"
	}
	if v := q.Get("every"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return p, "every must be a duration of at least 1m"
		}
		p.Every = d
	}
	return p, ""
}

func NewHTTPMux(store History, log *zap.Logger) *http.ServeMux {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	// GET /readings?field_id=&from=&to=
	mux.HandleFunc("/readings", func(w http.ResponseWriter, r *http.Request) {
		p, bad := parsePeriod(r, time.Now())
		if bad != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": bad})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		list, err := store.GetByPeriod(ctx, p.FieldID, p.From, p.To)
		if err != nil {
			log.Error("readings query failed", zap.String("field_id", p.FieldID), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "history unavailable"})
			return
		}
		out := make([]messages.SensorReadingMessage, 0, len(list))
		for _, rd := range list {
			out = append(out, messages.FromReading(rd))
		}
		writeJSON(w, http.StatusOK, out)
	})

	// GET /readings/averages?field_id=&from=&to=&every=1h
	mux.HandleFunc("/readings/averages", func(w http.ResponseWriter, r *http.Request) {
		p, bad := parsePeriod(r, time.Now())
		if bad != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": bad})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		buckets, err := store.Averages(ctx, p.FieldID, p.From, p.To, p.Every)
		if err != nil {
			log.Error("averages query failed", zap.String("field_id", p.FieldID), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "history unavailable"})
			return
		}
		if buckets == nil {
			buckets = []Bucket{}
		}
		writeJSON(w, http.StatusOK, buckets)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
