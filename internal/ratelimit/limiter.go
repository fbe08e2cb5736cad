// Package ratelimit enforces a daily per-user quota of AI invocations.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom-bot/internal/domain"
)

const defaultDailyLimit = 50

// UsageStore persists usage counters keyed by (user, UTC date).
//
// IncrementUsage must be one atomic conditional upsert: it adds one to the
// counter only while the stored count is below limit, and returns
// domain.ErrQuotaExceeded otherwise.
type UsageStore interface {
	GetUsage(ctx context.Context, userID int64, date string) (domain.UsageCounter, error)
	IncrementUsage(ctx context.Context, userID int64, date, command string, limit int) (domain.UsageCounter, error)
}

// Limiter gates AI invocations against a daily limit.
type Limiter struct {
	store UsageStore
	limit int
	now   func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source used to pick the current UTC day.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter. A non-positive dailyLimit falls back to the default.
func New(store UsageStore, dailyLimit int, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: usage store must not be nil")
	}
	if dailyLimit <= 0 {
		dailyLimit = defaultDailyLimit
	}
	l := &Limiter{store: store, limit: dailyLimit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Limit returns the configured daily limit.
func (l *Limiter) Limit() int {
	return l.limit
}

// Allow reports whether userID may make another AI call today.
func (l *Limiter) Allow(ctx context.Context, userID int64) (bool, error) {
	used, err := l.Usage(ctx, userID)
	if err != nil {
		return false, err
	}
	return used < l.limit, nil
}

// Record atomically counts one AI invocation of command for userID today and
// returns the new count.
func (l *Limiter) Record(ctx context.Context, userID int64, command string) (int, error) {
	c, err := l.store.IncrementUsage(ctx, userID, l.today(), command, l.limit)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("ratelimit: record: %w", err)
	}
	return c.Count, nil
}

// Usage returns today's count for userID, zero when no counter exists.
func (l *Limiter) Usage(ctx context.Context, userID int64) (int, error) {
	c, err := l.store.GetUsage(ctx, userID, l.today())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("ratelimit: usage: %w", err)
	}
	return c.Count, nil
}

func (l *Limiter) today() string {
	return domain.UsageDate(l.now())
}
