package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis publishes events on the per-user channel the websocket endpoint
// subscribes to.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func UserChannel(userID string) string {
	return fmt.Sprintf("payment:user:%s", userID)
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, UserChannel(ev.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Reference, err)
	}
	return nil
}

// Subscribe opens a subscription on the user's channel. Callers close it.
func (r *Redis) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, UserChannel(userID))
}
