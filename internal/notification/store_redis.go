package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for escalated notifications.
	escalationKeyPrefix = "rollcall:escalation:"

	// DefaultEscalationTTL bounds how long escalated records live in Redis.
	DefaultEscalationTTL = 7 * 24 * time.Hour
)

// RedisEscalationStore is the production escalation store for deployments
// where multiple dashboard instances share durable notification state.
type RedisEscalationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisEscalationOption configures a RedisEscalationStore.
type RedisEscalationOption func(*RedisEscalationStore)

// WithEscalationTTL overrides the per-record retention in Redis.
func WithEscalationTTL(ttl time.Duration) RedisEscalationOption {
	return func(s *RedisEscalationStore) { s.ttl = ttl }
}

// NewRedisEscalationStore constructs a Redis-backed escalation store. The
// client lifecycle is managed externally.
func NewRedisEscalationStore(client *redis.Client, opts ...RedisEscalationOption) *RedisEscalationStore {
	s := &RedisEscalationStore{
		client: client,
		ttl:    DefaultEscalationTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Save writes the record under its own key with TTL, so retention is handled
// by Redis expiry rather than an eviction sweep.
func (s *RedisEscalationStore) Save(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal escalated notification: %w", err)
	}
	key := escalationKeyPrefix + record.ID.String()
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

// List scans escalated records. SCAN rather than KEYS keeps this safe on a
// shared Redis.
func (s *RedisEscalationStore) List(ctx context.Context) ([]Record, error) {
	var records []Record
	iter := s.client.Scan(ctx, 0, escalationKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Key expired between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("read escalated notification: %w", err)
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode escalated notification: %w", err)
		}
		records = append(records, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan escalated notifications: %w", err)
	}
	return records, nil
}
