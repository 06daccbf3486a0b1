package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel returns the pub/sub channel carrying progress updates for one
// task. Publisher and subscribers agree on this name.
func Channel(taskID string) string {
	return fmt.Sprintf("task:%s:progress", taskID)
}

// RedisNotifier publishes progress updates as JSON on a per-task Redis
// pub/sub channel. Subscribers that connect late miss earlier events;
// the API's event stream compensates by sending a snapshot first.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, update ProgressUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("notify: marshal update: %w", err)
	}

	if err := n.client.Publish(ctx, Channel(update.TaskID), payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}

	return nil
}
