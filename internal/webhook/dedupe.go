package webhook

import (
	"context"
	"fmt"
	"time"

	"ms-storefront/internal/logger"

	"github.com/go-redis/redis/v8"
)

// RedisDeduper short-circuits duplicate webhook deliveries before they hit
// the database. It is an optimization only: the ledger and the issuer are
// idempotent on their own, so a Redis outage degrades to extra DB reads,
// never to duplicate tickets.
type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRedisDeduper(client *redis.Client, log *logger.Logger) *RedisDeduper {
	return &RedisDeduper{Client: client, TTL: 24 * time.Hour, Logger: log}
}

func (d *RedisDeduper) key(provider, eventID string) string {
	return fmt.Sprintf("webhook_event:%s:%s", provider, eventID)
}

// Seen reports whether this (provider, eventID) pair has already been
// fully processed. It never writes; errors are treated as unseen so
// processing proceeds.
func (d *RedisDeduper) Seen(ctx context.Context, provider, eventID string) bool {
	if eventID == "" {
		return false
	}
	key := d.key(provider, eventID)
	n, err := d.Client.Exists(ctx, key).Result()
	if err != nil {
		d.Logger.Warn("WEBHOOK", fmt.Sprintf("dedupe check failed for %s: %v", key, err))
		return false
	}
	return n > 0
}

// MarkProcessed records the event id once the delivery was persisted.
// It must not be called on error paths: an unmarked event is what lets
// the provider's retry reach the ledger again.
func (d *RedisDeduper) MarkProcessed(ctx context.Context, provider, eventID string) {
	if eventID == "" {
		return
	}
	key := d.key(provider, eventID)
	if err := d.Client.Set(ctx, key, 1, d.TTL).Err(); err != nil {
		d.Logger.Warn("WEBHOOK", fmt.Sprintf("dedupe mark failed for %s: %v", key, err))
	}
}
