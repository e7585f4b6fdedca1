package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

type latestParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
	FieldID   string
}

func parseLatest(r *http.Request, defMin, defLim, defTOms int) latestParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return latestParams{
		Minutes:   get("minutes", defMin, 1, 30*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
		FieldID:   strings.TrimSpace(q.Get("field_id")),
	}
}

func buildFlux(bucket, measurement string, p latestParams) string {
	filter := ""
	if p.FieldID != "" {
		filter = fmt.Sprintf(" and r.field_id == %q", p.FieldID)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q%s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, p.Minutes, measurement, filter, p.Limit)
}

func recordToEvent(rec *query.FluxRecord) messages.AlertEvent {
	str := func(k string) string {
		s, _ := rec.ValueByKey(k).(string)
		return s
	}
	ev := messages.AlertEvent{
		AlertID:    str("alert_id"),
		FarmID:     str("farm_id"),
		FieldID:    str("field_id"),
		AlertType:  str("alert_type"),
		Status:     str("status"),
		OccurredAt: rec.Time().UTC(),
	}
	if r := str("reason"); r != "" {
		ev.Reason = &r
	}
	switch v := rec.ValueByKey("severity").(type) {
	case int64:
		s := int(v)
		ev.Severity = &s
	case float64:
		s := int(v)
		ev.Severity = &s
	}
	return ev
}

// NewAlertsLatestHandler serves GET /events/alerts/latest?limit=20&minutes=1440[&field_id=].
func NewAlertsLatestHandler(queryAPI api.QueryAPI, bucket, measurement string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseLatest(r, 1440, 20, 2000)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := queryAPI.Query(ctx, buildFlux(bucket, measurement, p))
		if err != nil {
			log.Warn("alert query failed", zap.Error(err))
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer func() { _ = res.Close() }()

		out := make([]messages.AlertEvent, 0, p.Limit)
		for res.Next() {
			out = append(out, recordToEvent(res.Record()))
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
