// Package cachetest locates a reachable Redis for integration tests and skips
// the test when none is available.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

func resolve(t testing.TB) (string, string, string) {
	t.Helper()

	hosts := unique([]string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1"}, false)
	ports := unique([]string{env.GetEnv("CACHE_PORT", "6379"), "6379"}, false)
	passwords := unique([]string{env.GetEnv("CACHE_PASSWORD", ""), ""}, true)

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				client := redis.NewClient(&redis.Options{
					Addr:     fmt.Sprintf("%s:%s", host, port),
					Password: password,
				})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return host, port, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", "", ""
}

func unique(values []string, keepEmpty bool) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" && !keepEmpty {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NewIsolatedClient connects to the given logical database, flushes it, and
// flushes it again when the test ends.
func NewIsolatedClient(t testing.TB, db int) *redis.Client {
	t.Helper()

	host, port, password := resolve(t)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: flush of db %d failed (%v)", db, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}
