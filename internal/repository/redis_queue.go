package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"mozzafiato/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// enqueueScript allocates the next position and stores the record in one
// step so concurrent writers can never land out of order.
var enqueueScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return seq
`)

// RedisQueueStore keeps each category queue in a sorted set scored by
// queue position.
type RedisQueueStore struct {
	client *redis.Client
	prefix string
}

func NewRedisQueueStore(client *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{client: client, prefix: "queue"}
}

type redisRecord struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *RedisQueueStore) queueKey(category models.Category) string {
	return fmt.Sprintf("%s:%s", r.prefix, category)
}

func (r *RedisQueueStore) seqKey() string {
	return r.prefix + ":seq"
}

func (r *RedisQueueStore) Enqueue(ctx context.Context, category models.Category, payload json.RawMessage) (*models.PendingRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, category)
	}
	if err := models.ValidatePayload(payload); err != nil {
		return nil, err
	}

	rec := redisRecord{
		ID:        uuid.NewString(),
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	seq, err := enqueueScript.Run(ctx, r.client, []string{r.seqKey(), r.queueKey(category)}, string(data)).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s record in redis: %w", category, err)
	}

	return &models.PendingRecord{
		Seq:       seq,
		ID:        rec.ID,
		Category:  category,
		Payload:   rec.Payload,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (r *RedisQueueStore) PeekAll(ctx context.Context, category models.Category) ([]models.PendingRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	members, err := r.client.ZRangeWithScores(ctx, r.queueKey(category), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s queue from redis: %w", category, err)
	}

	records := make([]models.PendingRecord, 0, len(members))
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type %T in %s queue", m.Member, category)
		}
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, models.PendingRecord{
			Seq:       int64(m.Score),
			ID:        rec.ID,
			Category:  category,
			Payload:   rec.Payload,
			CreatedAt: rec.CreatedAt,
		})
	}
	return records, nil
}

func (r *RedisQueueStore) Clear(ctx context.Context, category models.Category) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.queueKey(category)).Err(); err != nil {
		return fmt.Errorf("failed to clear %s queue in redis: %w", category, err)
	}
	return nil
}

func (r *RedisQueueStore) ClearThrough(ctx context.Context, category models.Category, seq int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := r.client.ZRemRangeByScore(ctx, r.queueKey(category), "-inf", strconv.FormatInt(seq, 10)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear %s queue through %d in redis: %w", category, seq, err)
	}
	return nil
}

func (r *RedisQueueStore) Count(ctx context.Context, category models.Category) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.ZCard(ctx, r.queueKey(category)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s queue in redis: %w", category, err)
	}
	return int(n), nil
}
