package event

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeConn bool

func (c fakeConn) IsConnectionOpen() bool { return bool(c) }

func serve(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	ok := &Writer{lastErr: time.Now().Add(-time.Hour)}
	failing := &Writer{lastErr: time.Now()}

	assert.Contains(t, serve(NewHealthHandler(fakeConn(true), ok)).Body.String(), `"status":"ok"`)
	assert.Contains(t, serve(NewHealthHandler(fakeConn(true), failing)).Body.String(), `"status":"degraded"`)
	assert.Contains(t, serve(NewHealthHandler(fakeConn(false), failing)).Body.String(), `"status":"down"`)
}

func TestReadyHandler(t *testing.T) {
	ok := &Writer{lastErr: time.Now().Add(-time.Hour)}

	rec := serve(NewReadyHandler(fakeConn(true), ok, 2*time.Second))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	rec = serve(NewReadyHandler(fakeConn(false), ok, 2*time.Second))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewReadyHandler(nil, ok, 2*time.Second))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
