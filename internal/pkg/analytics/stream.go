// Package analytics ships product analytics events to a Redis stream that
// the analytics consumers read from.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "analytics:billing"
	DefaultMaxLen = 100000
)

// StreamSink appends each event to a capped Redis stream.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

// TrackEvent never returns an error; failures are logged.
func (s *StreamSink) TrackEvent(ctx context.Context, eventType, userID, companyID string, metadata map[string]interface{}, at time.Time) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		log.Errorf("[Analytics] Could not encode metadata for %s: %v", eventType, err)
		meta = []byte("{}")
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_type": eventType,
			"user_id":    userID,
			"company_id": companyID,
			"timestamp":  at.UTC().Format(time.RFC3339),
			"metadata":   string(meta),
		},
	}).Err()
	if err != nil {
		log.Errorf("[Analytics] XADD %s failed for %s: %v", s.stream, eventType, err)
	}
}

// LogSink writes events to the log only.
type LogSink struct{}

func (LogSink) TrackEvent(_ context.Context, eventType, userID, companyID string, _ map[string]interface{}, at time.Time) {
	log.Infof("[Analytics] %s user=%s company=%s at=%s", eventType, userID, companyID, at.UTC().Format(time.RFC3339))
}
