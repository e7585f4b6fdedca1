package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/persistence"
)

// NewHTTPMux serves the dashboard and the gateway's own health endpoints.
func NewHTTPMux(g *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		states := g.Breakers()
		code := http.StatusOK
		for _, s := range states {
			if s == "open" {
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, states)
	})
	mux.HandleFunc("/dashboard/field", g.HandleDashboard)
	return mux
}

// HandleDashboard serves GET /dashboard/field?field_id=. Upstreams are called in
// parallel; a failing one is listed in degraded instead of failing the page.
func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	fieldID := strings.TrimSpace(r.URL.Query().Get("field_id"))
	if fieldID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "field_id is required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeout)
	defer cancel()

	data := Dashboard{
		FieldID:  fieldID,
		Alerts:   []messages.AlertEvent{},
		Averages: []persistence.Bucket{},
	}
	var (
		fieldErr, alertsErr, avgErr error
		field                       map[string]interface{}
		alerts                      []messages.AlertEvent
		buckets                     []persistence.Bucket
	)

	var eg errgroup.Group
	eg.Go(func() error {
		field, fieldErr = g.fetchField(ctx, fieldID)
		return nil
	})
	eg.Go(func() error {
		q := url.Values{}
		q.Set("field_id", fieldID)
		q.Set("limit", strconv.Itoa(g.cfg.AlertsLimit))
		q.Set("minutes", strconv.Itoa(int(g.cfg.Window.Minutes())))
		alertsErr = g.events.GetJSON(ctx, "/events/alerts/latest", q, &alerts)
		return nil
	})
	eg.Go(func() error {
		to := g.now().UTC()
		q := url.Values{}
		q.Set("field_id", fieldID)
		q.Set("from", to.Add(-g.cfg.Window).Format(time.RFC3339))
		q.Set("to", to.Format(time.RFC3339))
		q.Set("every", g.cfg.Every.String())
		avgErr = g.persistence.GetJSON(ctx, "/readings/averages", q, &buckets)
		return nil
	})
	_ = eg.Wait()

	if status.Code(fieldErr) == codes.NotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "field not found"})
		return
	}
	if fieldErr != nil {
		g.log.Warn("field upstream failed", zap.String("field_id", fieldID), zap.Error(fieldErr))
		data.Degraded = append(data.Degraded, g.fieldsCB.Name())
	} else {
		data.Field = field
	}

	if alertsErr != nil {
		g.log.Warn("events upstream failed", zap.String("field_id", fieldID), zap.Error(alertsErr))
		data.Degraded = append(data.Degraded, g.events.Name())
		if cached, ok := g.cachedAlerts(fieldID); ok {
			data.Alerts = cached
		}
	} else if alerts != nil {
		data.Alerts = alerts
		g.rememberAlerts(fieldID, alerts)
	}

	if avgErr != nil {
		g.log.Warn("persistence upstream failed", zap.String("field_id", fieldID), zap.Error(avgErr))
		data.Degraded = append(data.Degraded, g.persistence.Name())
	} else if buckets != nil {
		data.Averages = buckets
		data.Stats = moistureStats(buckets)
	}

	writeJSON(w, http.StatusOK, data)
	g.log.Debug("dashboard served",
		zap.String("field_id", fieldID),
		zap.Duration("took", time.Since(start)),
		zap.Strings("degraded", data.Degraded))
}

func (g *Gateway) fetchField(ctx context.Context, fieldID string) (map[string]interface{}, error) {
	res, err := g.fieldsCB.Execute(func() (interface{}, error) {
		return g.fields.GetField(ctx, fieldID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*structpb.Struct).AsMap(), nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
