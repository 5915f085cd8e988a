package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Prefix   string
}

// RedisStore is the Backend shared by long-running serve processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Backend = (*RedisStore)(nil)

type redisEntry struct {
	Value     []byte `json:"v"`
	CreatedAt int64  `json:"c"`
	TTL       int64  `json:"t"`
}

func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	ropts := &redis.UniversalOptions{
		Addrs:                 []string{opts.Addr},
		Password:              opts.Password,
		DB:                    opts.DB,
		DialTimeout:           5 * time.Second,
		ReadTimeout:           3 * time.Second,
		WriteTimeout:          3 * time.Second,
		ContextTimeoutEnabled: true,
	}
	if opts.TLS {
		ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewUniversalClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedis(client, opts.Prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "peasy:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Get mirrors Store.Get. Keys live in redis for ttl+maxStaleRetention so stale
// reads stay possible after the TTL lapses.
func (s *RedisStore) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Result{Hit: false}, nil
	}
	age := time.Since(time.Unix(entry.CreatedAt, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(entry.TTL) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    entry.Value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

const maxStaleRetention = 10 * time.Minute

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	buf, err := json.Marshal(redisEntry{Value: value, CreatedAt: time.Now().UTC().Unix(), TTL: ttlSeconds})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	expiry := time.Duration(ttlSeconds)*time.Second + maxStaleRetention
	if err := s.client.Set(ctx, s.prefix+key, buf, expiry).Err(); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
