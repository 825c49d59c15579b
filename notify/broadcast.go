package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BroadcastSink publishes events to the Redis channel named in the payload so
// connected clients can refresh in real time. Events without a channel are
// skipped.
type BroadcastSink struct {
	client *redis.Client
}

func NewBroadcastSink(client *redis.Client) *BroadcastSink {
	return &BroadcastSink{client: client}
}

func (s *BroadcastSink) Name() string { return "redis" }

func (s *BroadcastSink) Deliver(ctx context.Context, topic string, payload []byte) error {
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("notify: decode payload: %w", err)
	}
	if body.Channel == "" {
		return nil
	}

	envelope, err := json.Marshal(map[string]any{
		"topic":   topic,
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	if err := s.client.Publish(ctx, body.Channel, envelope).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", body.Channel, err)
	}
	return nil
}
