// Package testutil provides testing helpers shared across packages
package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// MockRedis is a miniredis server with a connected client, torn down with the test
type MockRedis struct {
	mini   *miniredis.Miniredis
	client *redis.Client
}

// NewMockRedis starts miniredis for the duration of t
func NewMockRedis(t testing.TB) *MockRedis {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &MockRedis{mini: mini, client: client}
}

// Client returns the Redis client
func (m *MockRedis) Client() *redis.Client {
	return m.client
}

// Mini returns the underlying miniredis instance for direct manipulation
func (m *MockRedis) Mini() *miniredis.Miniredis {
	return m.mini
}

// FastForward advances the server clock, expiring keys whose TTL has passed
func (m *MockRedis) FastForward(d time.Duration) {
	m.mini.FastForward(d)
}

// HashField reads one field of a hash directly from the server
func (m *MockRedis) HashField(key, field string) string {
	return m.mini.HGet(key, field)
}

// TTL returns the remaining TTL of key
func (m *MockRedis) TTL(key string) time.Duration {
	return m.mini.TTL(key)
}
