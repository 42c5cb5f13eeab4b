// Package progress stores the latest snapshot of every tenant's sync run in
// Redis and broadcasts each update
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const (
	keyPrefix = "ldapsync:task:"
	// Channel carries every published snapshot as JSON
	Channel = "ldapsync:progress"
)

// Key returns the hash holding a tenant's latest snapshot
func Key(tenantID int) string {
	return keyPrefix + strconv.Itoa(tenantID)
}

// RedisPublisher implements ldapsync.Publisher on a Redis hash per tenant
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ ldapsync.Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher keeps snapshots for ttl after their last update
func NewRedisPublisher(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "progress-publisher")),
	}
}

// Publish overwrites the tenant's snapshot, refreshes its TTL and announces it
func (p *RedisPublisher) Publish(ctx context.Context, info ldapsync.TaskInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", info.ID, err)
	}
	key := Key(info.TenantID)

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":       info.ID,
			"progress": info.Progress,
			"finished": info.Finished,
			"data":     data,
		})
		pipe.Expire(ctx, key, p.ttl)
		pipe.Publish(ctx, Channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish task %s: %w", info.ID, err)
	}
	return nil
}

// Get returns the tenant's latest snapshot
func (p *RedisPublisher) Get(ctx context.Context, tenantID int) (ldapsync.TaskInfo, bool, error) {
	data, err := p.client.HGet(ctx, Key(tenantID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return ldapsync.TaskInfo{}, false, nil
	}
	if err != nil {
		return ldapsync.TaskInfo{}, false, fmt.Errorf("read task of tenant %d: %w", tenantID, err)
	}
	var info ldapsync.TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ldapsync.TaskInfo{}, false, fmt.Errorf("decode task of tenant %d: %w", tenantID, err)
	}
	return info, true, nil
}

// Clear drops the tenant's snapshot
func (p *RedisPublisher) Clear(ctx context.Context, tenantID int) error {
	return p.client.Del(ctx, Key(tenantID)).Err()
}

// Watch delivers snapshots of tenantID until ctx is done or a finished
// snapshot arrives. A tenantID of zero watches every tenant.
func (p *RedisPublisher) Watch(ctx context.Context, tenantID int) (<-chan ldapsync.TaskInfo, error) {
	sub := p.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel, err)
	}

	out := make(chan ldapsync.TaskInfo)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var info ldapsync.TaskInfo
				if err := json.Unmarshal([]byte(msg.Payload), &info); err != nil {
					p.logger.Warn("Dropping malformed progress message", zap.Error(err))
					continue
				}
				if tenantID != 0 && info.TenantID != tenantID {
					continue
				}
				select {
				case out <- info:
				case <-ctx.Done():
					return
				}
				if tenantID != 0 && info.Finished {
					return
				}
			}
		}
	}()
	return out, nil
}
