// Package redisqueue is an at-least-once work queue on top of a Redis Stream
// consumer group. Messages stay pending until acknowledged and are reclaimed by
// any consumer of the group once they have been idle for ReclaimAfter.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

const payloadKey = "data"

type Config struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long a read waits for new entries. Negative disables blocking.
	Block time.Duration
	Count int64
	// ReclaimAfter is the idle time after which a pending entry of another
	// consumer is claimed by this one.
	ReclaimAfter time.Duration
	// MaxDeliveries bounds redelivery; entries delivered more often are dropped.
	MaxDeliveries int64
	// Concurrency is the number of key groups of one batch handled at once.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Block == 0 {
		c.Block = 2 * time.Second
	}
	if c.Count <= 0 {
		c.Count = 32
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = 30 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Message is one stream entry.
type Message struct {
	ID         string
	Payload    []byte
	Deliveries int64
}

// Handler follows the same contract as the MQTT consumer: nil or a
// non-retryable error acknowledges, a retryable error leaves the entry pending.
type Handler func(ctx context.Context, msg Message) error

type Queue struct {
	client *redis.Client
	cfg    Config
	log    *zap.Logger
	keyFn  KeyFunc
}

func New(client *redis.Client, cfg Config, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{client: client, cfg: cfg.withDefaults(), log: log}
}

// EnsureGroup creates the stream and the consumer group if they do not exist.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", q.cfg.Group, q.cfg.Stream, err)
	}
	return nil
}

// Publish appends payload to the stream and returns the entry id.
func (q *Queue) Publish(ctx context.Context, payload []byte) (string, error) {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{payloadKey: string(payload)},
	}).Result()
}

// ReadBatch reads entries never delivered to the group.
func (q *Queue) ReadBatch(ctx context.Context) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    q.cfg.Count,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, toMessage(m, 1))
		}
	}
	return out, nil
}

// Reclaim claims entries that have been pending longer than ReclaimAfter.
func (q *Queue) Reclaim(ctx context.Context) ([]Message, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  q.cfg.Count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Idle < q.cfg.ReclaimAfter {
			continue
		}
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount + 1
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.ReclaimAfter,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		out = append(out, toMessage(m, deliveries[m.ID]))
	}
	return out, nil
}

// Ack acknowledges and removes the entry.
func (q *Queue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, id)
	pipe.XDel(ctx, q.cfg.Stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Run consumes until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}
	q.log.Info("consuming stream",
		zap.String("stream", q.cfg.Stream), zap.String("group", q.cfg.Group), zap.String("consumer", q.cfg.Consumer))

	lastReclaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}

		var batch []Message
		if time.Since(lastReclaim) >= q.cfg.ReclaimAfter {
			lastReclaim = time.Now()
			reclaimed, err := q.Reclaim(ctx)
			if err != nil && ctx.Err() == nil {
				q.log.Warn("reclaim failed", zap.Error(err))
			}
			batch = append(batch, reclaimed...)
		}

		fresh, err := q.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Warn("read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		batch = append(batch, fresh...)

		q.handleBatch(ctx, handler, batch)
	}
}

// KeyFunc partitions a batch. Entries with the same key are handled one after
// the other in stream order.
type KeyFunc func(Message) string

// SetKeyFunc enables concurrent handling of a batch across keys.
func (q *Queue) SetKeyFunc(fn KeyFunc) {
	q.keyFn = fn
}

func (q *Queue) handleBatch(ctx context.Context, handler Handler, batch []Message) {
	if q.keyFn == nil || q.cfg.Concurrency == 1 {
		for _, msg := range batch {
			q.handle(ctx, handler, msg)
		}
		return
	}

	var order []string
	groups := make(map[string][]Message)
	for _, msg := range batch {
		k := q.keyFn(msg)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], msg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)
	for _, k := range order {
		msgs := groups[k]
		g.Go(func() error {
			for _, msg := range msgs {
				q.handle(gctx, handler, msg)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (q *Queue) handle(ctx context.Context, handler Handler, msg Message) {
	if msg.Deliveries > q.cfg.MaxDeliveries {
		q.log.Error("dropping entry after too many deliveries",
			zap.String("id", msg.ID), zap.Int64("deliveries", msg.Deliveries))
		q.ack(ctx, msg.ID)
		return
	}

	err := handler(ctx, msg)
	if err != nil && errclass.Retryable(err) {
		q.log.Warn("entry left pending for redelivery", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if err != nil {
		q.log.Error("dropping entry", zap.String("id", msg.ID), zap.Error(err))
	}
	q.ack(ctx, msg.ID)
}

func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.Ack(ctx, id); err != nil {
		q.log.Warn("ack failed", zap.String("id", id), zap.Error(err))
	}
}

func toMessage(m redis.XMessage, deliveries int64) Message {
	var payload []byte
	switch v := m.Values[payloadKey].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	}
	return Message{ID: m.ID, Payload: payload, Deliveries: deliveries}
}
