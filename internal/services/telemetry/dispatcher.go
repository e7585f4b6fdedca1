package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

type job struct {
	ctx  context.Context
	msg  messages.SensorReadingMessage
	done chan Result
}

// Dispatcher routes readings to a fixed set of workers by field id, so that
// readings of one field are processed one at a time and in arrival order.
type Dispatcher struct {
	next    Submitter
	shards  []chan job
	metrics *Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(next Submitter, workers, queueSize int, metrics *Metrics, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{next: next, metrics: metrics, log: log, shards: make([]chan job, workers)}
	for i := range d.shards {
		d.shards[i] = make(chan job, queueSize)
	}
	return d
}

// Start launches one worker per shard.
func (d *Dispatcher) Start() {
	for i, ch := range d.shards {
		d.wg.Add(1)
		go d.work(i, ch)
	}
	d.log.Info("dispatcher started", zap.Int("workers", len(d.shards)))
}

func (d *Dispatcher) work(shard int, ch <-chan job) {
	defer d.wg.Done()
	for j := range ch {
		d.depth(-1)
		j.done <- d.next.Submit(j.ctx, j.msg)
	}
	d.log.Debug("dispatcher worker exited", zap.Int("shard", shard))
}

func (d *Dispatcher) depth(delta float64) {
	if d.metrics != nil {
		d.metrics.QueueDepth.Add(delta)
	}
}

func (d *Dispatcher) shardFor(fieldID string) int {
	return int(xxhash.Sum64String(fieldID) % uint64(len(d.shards)))
}

// Submit enqueues msg on its field's shard and waits for the result.
func (d *Dispatcher) Submit(ctx context.Context, msg messages.SensorReadingMessage) Result {
	retry := func(err error) Result {
		return Result{
			Outcome:   Retry,
			ReadingID: msg.ReadingID,
			FieldID:   msg.FieldID,
			Err:       errclass.WrapTransient(err, component, "Submit", "dispatch reading"),
		}
	}

	j := job{ctx: ctx, msg: msg, done: make(chan Result, 1)}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return retry(ErrDispatcherStopped)
	}
	d.depth(1)
	select {
	case d.shards[d.shardFor(msg.FieldID)] <- j:
	case <-ctx.Done():
		d.mu.RUnlock()
		d.depth(-1)
		return retry(ctx.Err())
	}
	d.mu.RUnlock()

	select {
	case res := <-j.done:
		return res
	case <-ctx.Done():
		return retry(ctx.Err())
	}
}

// Stop rejects new submissions and waits for queued readings to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}
