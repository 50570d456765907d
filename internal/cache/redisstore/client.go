// Package redisstore is the Redis backend of the run cache: run entries are
// plain string keys and the H3 cell index is a family of sets.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
)

// Option tunes the underlying go-redis client.
type Option func(*redis.Options)

// WithPool sizes the connection pool.
func WithPool(size, minIdle int) Option {
	return func(o *redis.Options) {
		o.PoolSize = size
		o.MinIdleConns = minIdle
	}
}

// WithTimeouts sets dial and per-command read/write timeouts. Zero keeps the
// default for that field.
func WithTimeouts(dial, rw time.Duration) Option {
	return func(o *redis.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}
		if rw > 0 {
			o.ReadTimeout = rw
			o.WriteTimeout = rw
		}
	}
}

// Client implements cache.Store on a single Redis node.
type Client struct {
	rdb *redis.Client
}

func defaults(addr string) *redis.Options {
	return &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
}

// New connects to addr and pings it once so a misconfigured cache fails at
// startup rather than on the first run.
func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redisstore: address is required")
	}
	ro := defaults(addr)
	for _, o := range opts {
		o(ro)
	}
	c := &Client{rdb: redis.NewClient(ro)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", addr, err)
	}
	return c, nil
}

// observe records one command's latency and outcome.
func observe(op string, start time.Time, err error) {
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observe("ping", start, err)
	return err
}

// MGet returns the values present under keys. Missing and expired keys are
// left out of the map.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observe("mget", start, err)
	if err != nil {
		return nil, fmt.Errorf("redisstore: mget %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		if b, ok := asBytes(v); ok {
			out[keys[i]] = b
		}
	}
	return out, nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return fmt.Append(nil, t), true
	}
}

// Set stores val under key. A zero ttl keeps the key until it is deleted.
func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observe("set", start, err)
	if err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observe("del", start, err)
	if err != nil {
		return fmt.Errorf("redisstore: del %d keys: %w", len(keys), err)
	}
	return nil
}

// SAdd adds members to the set at key and, when ttl is positive, resets its
// expiry in the same transaction so an index set lives as long as its
// newest run.
func (c *Client) SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, args...)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	observe("sadd", start, err)
	if err != nil {
		return fmt.Errorf("redisstore: sadd %q: %w", key, err)
	}
	return nil
}

// SMembers returns the union of the sets at keys. Missing keys are empty sets.
func (c *Client) SMembers(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	out, err := c.rdb.SUnion(ctx, keys...).Result()
	observe("sunion", start, err)
	if err != nil {
		return nil, fmt.Errorf("redisstore: sunion %d keys: %w", len(keys), err)
	}
	return out, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redisstore: close: %w", err)
	}
	return nil
}
