package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror shares DNS safety decisions across gateway replicas so a
// resolution performed by one instance is reused by the others instead of
// being repeated against the same upstream DNS infrastructure.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// RedisMirrorConfig configures a RedisMirror.
type RedisMirrorConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

const defaultRedisKeyPrefix = "gateway:urlsafety:"

// NewRedisMirror dials a Redis instance for shared DNS-safety caching.
func NewRedisMirror(cfg RedisMirrorConfig) (*RedisMirror, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis mirror addr is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisMirror{client: client, prefix: prefix}, nil
}

// Close releases the underlying Redis client connection.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Get implements Mirror.
func (m *RedisMirror) Get(ctx context.Context, host string) (bool, bool) {
	if m == nil || m.client == nil {
		return false, false
	}
	value, err := m.client.Get(ctx, m.key(host)).Result()
	if err != nil {
		return false, false
	}
	return value == "1", true
}

// Set implements Mirror.
func (m *RedisMirror) Set(ctx context.Context, host string, allowed bool, ttl time.Duration) {
	if m == nil || m.client == nil {
		return
	}
	value := "0"
	if allowed {
		value = "1"
	}
	_ = m.client.Set(ctx, m.key(host), value, ttl).Err()
}

func (m *RedisMirror) key(host string) string {
	return m.prefix + strings.ToLower(host)
}
