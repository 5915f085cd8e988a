package cache

import (
	"context"
	"testing"
	"time"
)

func TestOpenRedisFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := OpenRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping failure for closed port")
	}
}

func TestNewRedisDefaultPrefix(t *testing.T) {
	store := NewRedis(nil, "")
	if store.prefix != "peasy:cache:" {
		t.Fatalf("unexpected prefix %q", store.prefix)
	}
}
