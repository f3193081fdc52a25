package counter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	webhookOutcomesKey = "billing:counters:webhooks"
	webhookLatencyKey  = "billing:counters:webhook_latency_ms"
)

// WebhookCounter counts webhook outcomes per event type. With a Redis client
// the counters are shared by every instance; without one they are process
// local.
type WebhookCounter struct {
	client *redis.Client

	mu      sync.Mutex
	local   map[string]int64
	latency map[string]int64
}

func NewWebhookCounter(client *redis.Client) *WebhookCounter {
	return &WebhookCounter{
		client:  client,
		local:   make(map[string]int64),
		latency: make(map[string]int64),
	}
}

func field(eventType, outcome string) string {
	return eventType + "|" + outcome
}

// Record increments the counter for eventType and outcome.
func (c *WebhookCounter) Record(eventType, outcome string, elapsed time.Duration) {
	f := field(eventType, outcome)
	ms := elapsed.Milliseconds()

	if c.client == nil {
		c.mu.Lock()
		c.local[f]++
		c.latency[f] += ms
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, webhookOutcomesKey, f, 1)
	pipe.HIncrBy(ctx, webhookLatencyKey, f, ms)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Counter] Failed to record %s: %v", f, err)
	}
}

// Entry is one row of a counter snapshot.
type Entry struct {
	EventType      string `json:"event_type"`
	Outcome        string `json:"outcome"`
	Count          int64  `json:"count"`
	TotalLatencyMS int64  `json:"total_latency_ms"`
}

// Snapshot returns all counters.
func (c *WebhookCounter) Snapshot(ctx context.Context) ([]Entry, error) {
	var counts, latency map[string]int64
	if c.client == nil {
		c.mu.Lock()
		counts = copyMap(c.local)
		latency = copyMap(c.latency)
		c.mu.Unlock()
	} else {
		raw, err := c.client.HGetAll(ctx, webhookOutcomesKey).Result()
		if err != nil {
			return nil, err
		}
		rawLatency, err := c.client.HGetAll(ctx, webhookLatencyKey).Result()
		if err != nil {
			return nil, err
		}
		counts = parseInts(raw)
		latency = parseInts(rawLatency)
	}

	entries := make([]Entry, 0, len(counts))
	for f, n := range counts {
		eventType, outcome, _ := strings.Cut(f, "|")
		entries = append(entries, Entry{EventType: eventType, Outcome: outcome, Count: n, TotalLatencyMS: latency[f]})
	}
	return entries, nil
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func parseInts(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
