// Package notify publishes best-effort realtime events to workspace channels.
// Delivery is fire-and-forget: a lost event never aborts the caller.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes workspace-scoped events for realtime consumers
// (websocket fan-out lives outside this engine).
type Notifier interface {
	Publish(ctx context.Context, workspaceID, event string, payload interface{})
}

// RedisNotifier publishes events on Redis pub/sub channels, one channel per
// workspace.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier over the given Redis client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Channel returns the pub/sub channel name for a workspace.
func Channel(workspaceID string) string {
	return "ws:" + workspaceID
}

// Publish emits one event. Failures are logged and swallowed.
func (n *RedisNotifier) Publish(ctx context.Context, workspaceID, event string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"event":   event,
		"payload": payload,
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[Notify] Marshal error for %s: %v", event, err)
		return
	}
	if err := n.client.Publish(ctx, Channel(workspaceID), string(body)).Err(); err != nil {
		log.Printf("[Notify] Publish %s to workspace %s failed: %v", event, workspaceID, err)
	}
}

// NopNotifier discards all events. Used when Redis is not configured.
type NopNotifier struct{}

// Publish does nothing.
func (NopNotifier) Publish(context.Context, string, string, interface{}) {}
