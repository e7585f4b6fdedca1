package event

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection is the part of the broker client the probes look at.
type Connection interface {
	IsConnectionOpen() bool
}

var _ Connection = mqtt.Client(nil)

type healthHandler struct {
	conn   Connection
	writer *Writer
}

func NewHealthHandler(conn Connection, w *Writer) http.Handler {
	return &healthHandler{conn: conn, writer: w}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.conn != nil && h.conn.IsConnectionOpen(),
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
	}
	writesOK := h.writer.LastErrorAge() > 30*time.Second
	switch {
	case st.MQTTConnected && writesOK:
		st.Status = "ok"
	case st.MQTTConnected || writesOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only when the broker is connected and no write
// failed within minErrorAge.
type readyHandler struct {
	conn        Connection
	writer      *Writer
	minErrorAge time.Duration
}

func NewReadyHandler(conn Connection, w *Writer, minErrorAge time.Duration) http.Handler {
	return &readyHandler{conn: conn, writer: w, minErrorAge: minErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.conn != nil && h.conn.IsConnectionOpen() && h.writer.LastErrorAge() > h.minErrorAge
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}
