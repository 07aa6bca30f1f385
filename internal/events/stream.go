package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamSink mirrors events into a capped Redis stream for consumers outside
// this process.
type StreamSink struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewStreamSink writes to stream, trimming it to roughly maxLen entries.
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = "rota:events"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen, timeout: 2 * time.Second}
}

// Handle is an EventHandler; subscribe it with "*".
func (s *StreamSink) Handle(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         event.ID,
			"type":       event.Type,
			"payload":    string(event.Payload),
			"created_at": event.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
