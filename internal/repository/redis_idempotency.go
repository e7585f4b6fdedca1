package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

const defaultKeyPrefix = "fieldalert:processed:"

// RedisIdempotencyStore keeps processed-reading markers as expiring Redis keys.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates the store. A zero ttl keeps markers forever.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: defaultKeyPrefix, ttl: ttl}
}

type marker struct {
	FieldID     string    `json:"fieldId"`
	ProcessedAt time.Time `json:"processedAt"`
	Source      string    `json:"source"`
}

func (s *RedisIdempotencyStore) key(readingID string) string {
	return s.prefix + readingID
}

func (s *RedisIdempotencyStore) Exists(ctx context.Context, readingID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(readingID)).Result()
	if err != nil {
		return false, fmt.Errorf("check reading %s: %w", readingID, err)
	}
	return n > 0, nil
}

// MarkProcessed stores the marker with SETNX so the first writer wins.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, p entities.ProcessedReading) error {
	at := p.ProcessedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	b, err := json.Marshal(marker{FieldID: p.FieldID, ProcessedAt: at, Source: string(p.Source)})
	if err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, s.key(p.ReadingID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark reading %s: %w", p.ReadingID, err)
	}
	return nil
}

// Get returns the stored marker, or nil when the reading was never processed.
func (s *RedisIdempotencyStore) Get(ctx context.Context, readingID string) (*entities.ProcessedReading, error) {
	raw, err := s.client.Get(ctx, s.key(readingID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reading %s: %w", readingID, err)
	}
	var m marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", readingID, err)
	}
	return &entities.ProcessedReading{
		ReadingID:   readingID,
		FieldID:     m.FieldID,
		ProcessedAt: m.ProcessedAt,
		Source:      entities.Source(m.Source),
	}, nil
}
