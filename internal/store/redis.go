package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/sitegate/internal/domain"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady         = errors.New("redis did not become ready within the given time period")
)

const (
	redisFieldCount          = "count"
	redisFieldLimitReachedAt = "limit_reached_at"
)

// RedisConfig controls the connection to the counter cache.
type RedisConfig struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
	KeyPrefix      string
}

// ConnectRedis parses the URL and pings until the server answers or the
// attempts run out.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// RedisCounters reads usage counters from Redis hashes. The execution
// service increments the count field with HINCRBY; one hash per
// (user, usage type, period).
type RedisCounters struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounters creates a counter store. prefix defaults to "sitegate".
func NewRedisCounters(client redis.UniversalClient, prefix string) *RedisCounters {
	if prefix == "" {
		prefix = "sitegate"
	}
	return &RedisCounters{client: client, prefix: prefix}
}

// Key returns the hash key for a counter.
func (s *RedisCounters) Key(userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) string {
	return fmt.Sprintf("%s:usage:%s:%s:%s", s.prefix, userID, usageType, periodStart.UTC().Format("2006-01-02"))
}

// GetCounter returns the counter, or nil if the hash does not exist.
func (s *RedisCounters) GetCounter(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) (*domain.UsageCounter, error) {
	vals, err := s.client.HGetAll(ctx, s.Key(userID, usageType, periodStart)).Result()
	if err != nil {
		return nil, unavailable("redis get counter", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	c := &domain.UsageCounter{UserID: userID, UsageType: usageType, PeriodStart: periodStart.UTC()}
	if raw, ok := vals[redisFieldCount]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, unavailable("redis get counter", fmt.Errorf("parse count %q: %w", raw, err))
		}
		c.Count = n
	}
	if raw, ok := vals[redisFieldLimitReachedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, unavailable("redis get counter", fmt.Errorf("parse limit_reached_at %q: %w", raw, err))
		}
		c.LimitReachedAt = &t
	}
	return c, nil
}

// MarkLimitReached sets the anchor with HSETNX and reads back whichever
// value won.
func (s *RedisCounters) MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error) {
	key := s.Key(userID, usageType, periodStart)

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, redisFieldLimitReachedAt, at.UTC().Format(time.RFC3339Nano))
		get = pipe.HGet(ctx, key, redisFieldLimitReachedAt)
		return nil
	})
	if err != nil {
		return time.Time{}, unavailable("redis mark limit reached", err)
	}

	t, err := time.Parse(time.RFC3339Nano, get.Val())
	if err != nil {
		return time.Time{}, unavailable("redis mark limit reached", err)
	}
	return t, nil
}

// Add increments the count field. Used by tests and local seeding.
func (s *RedisCounters) Add(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart time.Time, n int64) (int64, error) {
	return s.client.HIncrBy(ctx, s.Key(userID, usageType, periodStart), redisFieldCount, n).Result()
}
