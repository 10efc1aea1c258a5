package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisMessageRateLimiterAllow(t *testing.T) {
	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *RedisMessageRateLimiter
		if !l.Allow("u-42") {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &RedisMessageRateLimiter{
			client: &mockRedisEvaler{result: 1},
			window: time.Minute,
			max:    3,
			prefix: "chat:rl:",
		}
		if l.Allow("   ") {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &RedisMessageRateLimiter{
			client: mock,
			window: 2 * time.Minute,
			max:    3,
			prefix: "chat:rl:",
		}
		if !l.Allow(" u-42 ") {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "chat:rl:u-42" {
			t.Fatalf("unexpected key normalization, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 120 {
			t.Fatalf("expected window seconds=120, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisMessageAllowScript {
			t.Fatalf("expected script to match")
		}
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &RedisMessageRateLimiter{
			client: &mockRedisEvaler{result: 4},
			window: time.Minute,
			max:    3,
			prefix: "chat:rl:",
		}
		if l.Allow("u-42") {
			t.Fatalf("expected deny when count > max")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &RedisMessageRateLimiter{
			client: &mockRedisEvaler{err: errors.New("redis down")},
			window: time.Minute,
			max:    3,
			prefix: "chat:rl:",
		}
		if !l.Allow("u-42") {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}


func TestNewRedisMessageRateLimiterDisabled(t *testing.T) {
	if l := NewRedisMessageRateLimiter(nil, time.Second, 5); l != nil {
		t.Fatalf("expected nil limiter without client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if l := NewRedisMessageRateLimiter(client, time.Second, 0); l != nil {
		t.Fatalf("expected nil limiter when max is zero")
	}
	l := NewRedisMessageRateLimiter(client, 0, 5)
	if l == nil || l.window != 10*time.Second || l.prefix != "chat:rl:" {
		t.Fatalf("unexpected limiter defaults: %+v", l)
	}
}
