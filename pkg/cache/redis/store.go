// Package redis implements the durable answer store on Redis. Each entry is a
// hash under "<prefix><query hash>"; expiry is judged against the server's
// TIME inside Lua scripts so reads and writes stay single-round-trip atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/querygate/pkg/models"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "querygate:cache:"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	// Grace keeps expired entries around for SweepExpired and Stats before
	// Redis drops them on its own. Default 1h.
	Grace time.Duration `yaml:"grace"`
}

// Store is a durable.Store backed by Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	grace  time.Duration
}

const nowMsLua = `
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
`

var getScript = redis.NewScript(nowMsLua + `
local v = redis.call('HMGET', KEYS[1], 'response', 'expires_at')
if not v[1] or not v[2] then return false end
if tonumber(v[2]) <= now then return false end
redis.call('HINCRBY', KEYS[1], 'access_count', 1)
return v[1]
`)

var setScript = redis.NewScript(nowMsLua + `
local ttl = tonumber(ARGV[3])
redis.call('HSETNX', KEYS[1], 'query_text', ARGV[1])
redis.call('HSETNX', KEYS[1], 'created_at', now)
redis.call('HSETNX', KEYS[1], 'access_count', 0)
redis.call('HSET', KEYS[1], 'response', ARGV[2], 'updated_at', now, 'expires_at', now + ttl)
redis.call('PEXPIRE', KEYS[1], ttl + tonumber(ARGV[4]))
return 1
`)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{rdb: rdb, prefix: cfg.Prefix, grace: cfg.Grace}, nil
}

func (s *Store) key(hash string) string {
	return s.prefix + hash
}

// Get returns the live entry for key, incrementing its access count.
func (s *Store) Get(ctx context.Context, key string) (models.Response, bool, error) {
	raw, err := getScript.Run(ctx, s.rdb, []string{s.key(key)}).Text()
	if errors.Is(err, redis.Nil) {
		return models.Response{}, false, nil
	}
	if err != nil {
		return models.Response{}, false, fmt.Errorf("cache get: %w", err)
	}

	var resp models.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return models.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Set upserts the response for key.
func (s *Store) Set(ctx context.Context, key, queryText string, resp models.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	err = setScript.Run(ctx, s.rdb, []string{s.key(key)},
		queryText, string(data), ttl.Milliseconds(), s.grace.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// scan calls fn with batches of cache keys and their expires_at in ms.
func (s *Store) scan(ctx context.Context, fn func(keys []string, expires []int64) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if len(keys) > 0 {
			pipe := s.rdb.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, k := range keys {
				cmds[i] = pipe.HGet(ctx, k, "expires_at")
			}
			if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("read expiries: %w", err)
			}
			expires := make([]int64, len(keys))
			for i, cmd := range cmds {
				// A key without expires_at is malformed and counts as expired.
				expires[i], _ = strconv.ParseInt(cmd.Val(), 10, 64)
			}
			if err := fn(keys, expires); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) serverNowMs(ctx context.Context) (int64, error) {
	t, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis time: %w", err)
	}
	return t.UnixMilli(), nil
}

// SweepExpired deletes entries whose expiry has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now, err := s.serverNowMs(ctx)
	if err != nil {
		return 0, err
	}
	var removed int64
	err = s.scan(ctx, func(keys []string, expires []int64) error {
		var stale []string
		for i, k := range keys {
			if expires[i] <= now {
				stale = append(stale, k)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		n, err := s.rdb.Del(ctx, stale...).Result()
		if err != nil {
			return fmt.Errorf("cache sweep: %w", err)
		}
		removed += n
		return nil
	})
	return removed, err
}

// Clear removes every entry under the prefix.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := s.scan(ctx, func(keys []string, _ []int64) error {
		n, err := s.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
		removed += n
		return nil
	})
	return removed, err
}

// Stats counts entries by liveness.
func (s *Store) Stats(ctx context.Context) (models.DurableStats, error) {
	now, err := s.serverNowMs(ctx)
	if err != nil {
		return models.DurableStats{}, err
	}
	var st models.DurableStats
	err = s.scan(ctx, func(keys []string, expires []int64) error {
		for i := range keys {
			st.Total++
			if expires[i] > now {
				st.Active++
			} else {
				st.Expired++
			}
		}
		return nil
	})
	if err != nil {
		return models.DurableStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
