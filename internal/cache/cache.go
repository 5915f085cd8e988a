package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Backend is a TTL key/value store shared by provider clients.
type Backend interface {
	Get(ctx context.Context, key string, maxStale time.Duration) (Result, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// Fresh reports a hit that is still inside its TTL.
func (r Result) Fresh() bool {
	return r.Hit && !r.Stale
}

// Remember returns the cached value under key when fresh, otherwise calls load
// and stores its result. A nil backend always loads. Cache read and write
// failures are ignored; the loaded value wins.
func Remember[T any](ctx context.Context, b Backend, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if b != nil {
		if res, err := b.Get(ctx, key, 0); err == nil && res.Fresh() {
			var cached T
			if err := json.Unmarshal(res.Value, &cached); err == nil {
				return cached, nil
			}
		}
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if b != nil {
		if buf, err := json.Marshal(value); err == nil {
			_ = b.Set(ctx, key, buf, ttl)
		}
	}
	return value, nil
}
