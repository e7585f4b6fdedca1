package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
)

type brokenHistory struct{}

func (brokenHistory) GetByPeriod(context.Context, string, time.Time, time.Time) ([]entities.SensorReading, error) {
	return nil, errors.New("influx down")
}

func (brokenHistory) Averages(context.Context, string, time.Time, time.Time, time.Duration) ([]Bucket, error) {
	return nil, errors.New("influx down")
}

func get(mux http.Handler, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestAPI_Readings(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Append(context.Background(), reading(t, "r-1", t0, 45, f64(19))))
	mux := NewHTTPMux(store, nil)

	rec := get(mux, "/readings?field_id=field-1&from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []messages.SensorReadingMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "r-1", out[0].ReadingID)
	require.NotNil(t, out[0].AirTemperature)
	assert.Equal(t, 19.0, *out[0].AirTemperature)

	rec = get(mux, "/readings/averages?field_id=field-1&from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z&every=6h")
	require.Equal(t, http.StatusOK, rec.Code)
	var buckets []Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Start.Equal(t0))

	rec = get(mux, "/readings/averages?field_id=field-9")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAPI_BadParameters(t *testing.T) {
	mux := NewHTTPMux(NewMemoryStore(), nil)

	for _, url := range []string{
		"/readings",
		"/readings?field_id=f&from=yesterday",
		"/readings?field_id=f&from=2025-06-02T00:00:00Z&to=2025-06-01T00:00:00Z",
		"/readings/averages?field_id=f&every=10s",
	} {
		assert.Equal(t, http.StatusBadRequest, get(mux, url).Code, url)
	}
}

func TestAPI_StoreFailure(t *testing.T) {
	mux := NewHTTPMux(brokenHistory{}, nil)
	assert.Equal(t, http.StatusBadGateway, get(mux, "/readings?field_id=f").Code)
	assert.Equal(t, http.StatusBadGateway, get(mux, "/readings/averages?field_id=f").Code)
	assert.Equal(t, http.StatusOK, get(mux, "/healthz").Code)
}
