package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

const maxBodyBytes = 1 << 20

// Enqueuer hands a validated payload to the asynchronous pipeline.
type Enqueuer interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// ReadyCheck reports whether a dependency is reachable.
type ReadyCheck func(ctx context.Context) error

type API struct {
	Submitter Submitter
	// Queue, when set, makes ingestion asynchronous.
	Queue    Enqueuer
	Checks   map[string]ReadyCheck
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func NewHTTPMux(api API) *http.ServeMux {
	if api.Log == nil {
		api.Log = zap.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/readyz", api.ready)
	if api.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(api.Gatherer, promhttp.HandlerOpts{}))
	}

	// POST /api/v1/readings
	mux.HandleFunc("/api/v1/readings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		msg, err := DecodePayload(body, entities.SourceHTTP)
		if err == nil {
			_, err = msg.ToReading()
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		if api.Queue != nil {
			payload, _ := json.Marshal(msg)
			id, err := api.Queue.Publish(r.Context(), payload)
			if err != nil {
				api.Log.Error("enqueue reading failed", zap.String("reading_id", msg.ReadingID), zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "readingId": msg.ReadingID, "entryId": id})
			return
		}

		res := api.Submitter.Submit(r.Context(), msg)
		writeJSON(w, statusFor(res), map[string]interface{}{
			"readingId": res.ReadingID,
			"outcome":   res.Outcome.String(),
			"events":    len(res.Events),
			"error":     errString(res.Err),
		})
	})

	return mux
}

func (a API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func statusFor(res Result) int {
	switch res.Outcome {
	case Processed, Duplicate, OutOfOrder:
		return http.StatusAccepted
	case Rejected:
		return http.StatusBadRequest
	case Integrity:
		return http.StatusConflict
	default:
		if errclass.IsInvalid(res.Err) {
			return http.StatusBadRequest
		}
		return http.StatusServiceUnavailable
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
