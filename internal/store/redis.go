package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Store contract with a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports missing keys and persistent keys as negative
	// pseudo-durations; disambiguate with an existence check.
	if d < 0 {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrNotFound
		}
		return NoExpiry, nil
	}
	return d, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return s.client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.LPush(ctx, key, args...).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]string) (string, error) {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: args,
	}).Result()
}

func (s *RedisStore) XRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error) {
	msgs, err := s.client.XRange(ctx, stream, start, stop).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if str, ok := v.(string); ok {
				values[k] = str
			}
		}
		entries = append(entries, StreamEntry{ID: m.ID, Values: values})
	}
	return entries, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, channel, message).Err()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
