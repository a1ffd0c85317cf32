package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by a Backend when a key does not exist.
var ErrMiss = errors.New("cache: miss")

// Backend is the subset of Redis the governor needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	IdleTime(ctx context.Context, key string) (time.Duration, error)
	// MemoryUsage returns used_memory and maxmemory; max is 0 when Redis has no limit set.
	MemoryUsage(ctx context.Context) (used int64, max int64, err error)
}

type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return val, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return b.client.Del(ctx, keys...).Result()
}

func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	return b.client.TTL(ctx, key).Result()
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *RedisBackend) IdleTime(ctx context.Context, key string) (time.Duration, error) {
	return b.client.ObjectIdleTime(ctx, key).Result()
}

func (b *RedisBackend) MemoryUsage(ctx context.Context) (int64, int64, error) {
	info, err := b.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, 0, err
	}
	return parseMemoryInfo(info)
}

// parseMemoryInfo extracts used_memory and maxmemory from an INFO memory reply.
func parseMemoryInfo(info string) (int64, int64, error) {
	var (
		used, max int64
		found     bool
	)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "used_memory":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse used_memory: %w", err)
			}
			used, found = n, true
		case "maxmemory":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse maxmemory: %w", err)
			}
			max = n
		}
	}
	if !found {
		return 0, 0, errors.New("used_memory missing from INFO reply")
	}
	return used, max, nil
}
