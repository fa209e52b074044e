package ticket_api

import (
	"context"
	"fmt"
	"time"

	"ms-storefront/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	maxPinFailures   = 5
	pinFailureWindow = 10 * time.Minute
)

// PinLimiter throttles failed PIN attempts per ticket so a gate device
// cannot brute-force a 4-digit PIN. Successful redemptions are never
// counted. Redis errors fail open.
type PinLimiter struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewPinLimiter(client *redis.Client, log *logger.Logger) *PinLimiter {
	return &PinLimiter{Client: client, Logger: log}
}

func (l *PinLimiter) key(ticketID string) string {
	return fmt.Sprintf("pin_attempts:%s", ticketID)
}

// Blocked reports whether this ticket has hit the failed-attempt cap.
func (l *PinLimiter) Blocked(ctx context.Context, ticketID string) bool {
	if l == nil || l.Client == nil {
		return false
	}
	count, err := l.Client.Get(ctx, l.key(ticketID)).Int()
	if err != nil {
		if err != redis.Nil {
			l.Logger.Warn("REDIS", fmt.Sprintf("pin limiter read failed for %s: %v", ticketID, err))
		}
		return false
	}
	return count >= maxPinFailures
}

// RecordFailure counts one failed PIN attempt against the ticket.
func (l *PinLimiter) RecordFailure(ctx context.Context, ticketID string) {
	if l == nil || l.Client == nil {
		return
	}
	key := l.key(ticketID)
	count, err := l.Client.Incr(ctx, key).Result()
	if err != nil {
		l.Logger.Warn("REDIS", fmt.Sprintf("pin limiter incr failed for %s: %v", ticketID, err))
		return
	}
	if count == 1 {
		if err := l.Client.Expire(ctx, key, pinFailureWindow).Err(); err != nil {
			l.Logger.Warn("REDIS", fmt.Sprintf("pin limiter expire failed for %s: %v", ticketID, err))
		}
	}
}
