package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ForwardToRedis subscribes to every event on bus and republishes it as JSON
// on the given Redis pub/sub channel.
func ForwardToRedis(bus Bus, client *redis.Client, channel string) *Subscription {
	return bus.Subscribe("*", func(ctx context.Context, event Event) error {
		data, err := event.JSON()
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.Type, err)
		}
		if err := client.Publish(ctx, channel, data).Err(); err != nil {
			return fmt.Errorf("forward event %s: %w", event.Type, err)
		}
		return nil
	})
}
