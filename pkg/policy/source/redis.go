package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mercator-hq/covenant/pkg/policy"
)

// DefaultRedisKey is the list RedisSource pops from when no key is set.
const DefaultRedisKey = "covenant:policy_changes"

// DefaultRedisBatch caps how many entries one FetchChanges pops.
const DefaultRedisBatch = 100

// RedisSource pops JSON-encoded policy.PolicyChange entries from a Redis
// list. Publishers append with RPUSH (see Publish), so changes are applied in
// publish order. Entries that do not decode are logged and dropped.
type RedisSource struct {
	client *redis.Client
	key    string
	batch  int
	logger *slog.Logger
}

// NewRedisSource creates a source over key. An empty key uses
// DefaultRedisKey; batch <= 0 uses DefaultRedisBatch.
func NewRedisSource(client *redis.Client, key string, batch int, logger *slog.Logger) (*RedisSource, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	if batch <= 0 {
		batch = DefaultRedisBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{
		client: client,
		key:    key,
		batch:  batch,
		logger: logger.With("component", "source.redis", "key", key),
	}, nil
}

// FetchChanges pops up to the batch size of pending changes.
func (s *RedisSource) FetchChanges(ctx context.Context) ([]policy.PolicyChange, error) {
	var changes []policy.PolicyChange
	for i := 0; i < s.batch; i++ {
		raw, err := s.client.LPop(ctx, s.key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return changes, fmt.Errorf("failed to pop policy change: %w", err)
		}

		var change policy.PolicyChange
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			s.logger.Warn("dropping malformed policy change", "error", err)
			continue
		}
		if change.PolicyID == "" {
			s.logger.Warn("dropping policy change without policy_id")
			continue
		}
		if change.Source == "" {
			change.Source = "redis:" + s.key
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Publish appends change to the list.
func (s *RedisSource) Publish(ctx context.Context, change policy.PolicyChange) error {
	return Publish(ctx, s.client, s.key, change)
}

// Ping checks that the Redis server is reachable.
func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSource) String() string { return "redis:" + s.key }

// Publish appends change to the Redis list at key for a RedisSource to pick up.
func Publish(ctx context.Context, client *redis.Client, key string, change policy.PolicyChange) error {
	if change.PolicyID == "" {
		return &policy.ContractError{Op: "publish", Message: "policy_id is required"}
	}
	if key == "" {
		key = DefaultRedisKey
	}
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode policy change: %w", err)
	}
	if err := client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to publish policy change: %w", err)
	}
	return nil
}
