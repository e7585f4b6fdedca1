package event

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

const alertsCSV = "#datatype,string,long,dateTime:RFC3339,string,string,string,string,string,string,long\r\n" +
	"#group,false,false,false,false,false,false,false,false,false,false\r\n" +
	"#default,_result,,,,,,,,,\r\n" +
	",result,table,_time,farm_id,field_id,alert_type,status,alert_id,reason,severity\r\n" +
	",,0,2025-06-01T13:00:00Z,farm-1,field-1,Dryness,Resolved,a-1,,3\r\n" +
	",,0,2025-06-01T12:00:00Z,farm-1,field-1,Dryness,Active,a-1,soil moisture below 30% for 24 hours,3\r\n" +
	"\r\n"

func TestParseLatest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events/alerts/latest?limit=9999&minutes=0&field_id=field-1", nil)
	p := parseLatest(r, 1440, 20, 2000)
	assert.Equal(t, 500, p.Limit)
	assert.Equal(t, 1, p.Minutes)
	assert.Equal(t, 2000, p.TimeoutMS)
	assert.Equal(t, "field-1", p.FieldID)

	q := buildFlux("telemetry", "alert_event", p)
	assert.Contains(t, q, "range(start: -1m)")
	assert.Contains(t, q, `r._measurement == "alert_event" and r.field_id == "field-1"`)
	assert.Contains(t, q, "limit(n: 500)")
}

func TestAlertsLatestHandler(t *testing.T) {
	var flux string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		flux = string(body)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(alertsCSV))
	}))
	defer srv.Close()
	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	h := NewAlertsLatestHandler(client.QueryAPI("fieldalert"), "telemetry", DefaultMeasurement, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/alerts/latest?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Error"))
	assert.Contains(t, flux, "limit(n: 5)")

	var out []messages.AlertEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Resolved", out[0].Status)
	assert.Nil(t, out[0].Reason)
	require.NotNil(t, out[1].Reason)
	assert.Equal(t, "soil moisture below 30% for 24 hours", *out[1].Reason)
	require.NotNil(t, out[1].Severity)
	assert.Equal(t, 3, *out[1].Severity)
	assert.Equal(t, "a-1", out[1].AlertID)
}

func TestAlertsLatestHandler_QueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal error","message":"boom"}`))
	}))
	defer srv.Close()
	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	h := NewAlertsLatestHandler(client.QueryAPI("fieldalert"), "telemetry", DefaultMeasurement, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/alerts/latest", nil))

	assert.Equal(t, "influx-query-error", rec.Header().Get("X-Error"))
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}
