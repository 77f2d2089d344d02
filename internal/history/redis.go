package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"streampulse/internal/models"
)

const defaultRedisKey = "streampulse:history"

// RedisConfig configures the Redis-backed history store.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	Key          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// RedisStore keeps the history map in one Redis hash, one field per stream
// id, so multiple supervisor replicas can share a snapshot backend.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore connects a history store backed by Redis. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &RedisStore{client: client, key: key}, nil
}

// Load fetches every stream's history from the hash.
func (s *RedisStore) Load(ctx context.Context, now time.Time) (map[string][]models.Sample, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load history from redis: %w", err)
	}
	histories := make(map[string][]models.Sample, len(fields))
	for id, raw := range fields {
		var samples []models.Sample
		if err := json.Unmarshal([]byte(raw), &samples); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", id, err)
		}
		histories[id] = samples
	}
	return trimLoaded(histories, now), nil
}

// Save replaces the hash with the provided map in one pipeline.
func (s *RedisStore) Save(ctx context.Context, histories map[string][]models.Sample) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(histories) > 0 {
		values := make([]interface{}, 0, len(histories)*2)
		for id, samples := range histories {
			raw, err := json.Marshal(samples)
			if err != nil {
				return fmt.Errorf("encode history for %s: %w", id, err)
			}
			values = append(values, id, string(raw))
		}
		pipe.HSet(ctx, s.key, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save history to redis: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
