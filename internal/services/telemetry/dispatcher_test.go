package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

// recorder tracks per-field concurrency and arrival order.
type recorder struct {
	mu       sync.Mutex
	inFlight map[string]int
	overlap  bool
	order    map[string][]string
	block    chan struct{}
	calls    int32
}

func newRecorder() *recorder {
	return &recorder{inFlight: map[string]int{}, order: map[string][]string{}}
}

func (r *recorder) Submit(_ context.Context, msg messages.SensorReadingMessage) Result {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	r.inFlight[msg.FieldID]++
	if r.inFlight[msg.FieldID] > 1 {
		r.overlap = true
	}
	r.order[msg.FieldID] = append(r.order[msg.FieldID], msg.ReadingID)
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	} else {
		time.Sleep(time.Millisecond)
	}

	r.mu.Lock()
	r.inFlight[msg.FieldID]--
	r.mu.Unlock()
	return Result{Outcome: Processed, ReadingID: msg.ReadingID, FieldID: msg.FieldID}
}

func TestDispatcher_SerializesPerField(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(rec, 4, 16, nil, nil)
	d.Start()
	defer d.Stop()

	var wg sync.WaitGroup
	for _, field := range []string{"field-1", "field-2", "field-3"} {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := field + "-" + string(rune('a'+i))
				res := d.Submit(context.Background(), messages.SensorReadingMessage{ReadingID: id, FieldID: field})
				assert.Equal(t, Processed, res.Outcome)
			}
		}(field)
	}
	wg.Wait()

	assert.False(t, rec.overlap, "one field is never processed concurrently")
	assert.Len(t, rec.order["field-1"], 10)
	assert.Equal(t, "field-2-a", rec.order["field-2"][0])
	assert.Equal(t, "field-2-j", rec.order["field-2"][9])
}

func TestDispatcher_SameShardForSameField(t *testing.T) {
	d := NewDispatcher(newRecorder(), 8, 1, nil, nil)
	assert.Equal(t, d.shardFor("field-42"), d.shardFor("field-42"))
	assert.Less(t, d.shardFor("field-42"), 8)
}

func TestDispatcher_CancelledSubmitIsRetryable(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(rec, 1, 1, metrics, nil)
	d.Start()
	defer func() {
		close(rec.block)
		d.Stop()
	}()

	go d.Submit(context.Background(), messages.SensorReadingMessage{ReadingID: "r-1", FieldID: "f"})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rec.calls) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Submit(ctx, messages.SensorReadingMessage{ReadingID: "r-2", FieldID: "f"})

	assert.Equal(t, Retry, res.Outcome)
	assert.False(t, res.Ack())
	assert.True(t, errclass.Retryable(res.Err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueueDepth), "r-2 still waits in the shard")
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := NewDispatcher(newRecorder(), 2, 2, nil, nil)
	d.Start()
	d.Stop()
	d.Stop()

	res := d.Submit(context.Background(), messages.SensorReadingMessage{ReadingID: "r-1", FieldID: "f"})
	assert.Equal(t, Retry, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrDispatcherStopped)
}
