// Package ratelimit implements tiered, windowed admission control keyed
// by endpoint class and caller identity, plus the bulk-operation guard
// backed by the durable access log.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/agumabanks/baraka-gateway/internal/config"
	"github.com/agumabanks/baraka-gateway/internal/storage"
)

// Timeframe is one of the independently evaluated window sizes.
type Timeframe string

const (
	PerMinute Timeframe = "minute"
	PerHour   Timeframe = "hour"
)

func (t Timeframe) size() time.Duration {
	if t == PerHour {
		return time.Hour
	}
	return time.Minute
}

// WindowStatus describes one timeframe's window after a check.
type WindowStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds until the rejecting window resets
	Windows    map[Timeframe]WindowStatus
}

// Fallback limits for endpoint classes with no explicit configuration.
var defaultClass = config.Class{BasePerMinute: 60, BasePerHour: 1000}

// Limiter evaluates the minute and hour windows for each request. A
// request is admitted only when every timeframe admits it. If the window
// store itself fails, the limiter fails open: availability over strict
// enforcement while infrastructure is down.
type Limiter struct {
	store  WindowStore
	access storage.AccessStore
	logger *slog.Logger

	mu          sync.RWMutex
	tiers       map[string]config.Tier
	classes     map[string]config.Class
	defaultTier string

	now func() time.Time
}

// New creates a limiter over the given window store and access log.
func New(store WindowStore, access storage.AccessStore, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	l := &Limiter{
		store:  store,
		access: access,
		logger: logger,
		now:    time.Now,
	}
	l.Reconfigure(cfg)
	return l
}

// Reconfigure swaps in new tier and class settings. Used by the config
// hot-reload path; in-flight checks keep the settings they started with.
func (l *Limiter) Reconfigure(cfg config.RateLimitConfig) {
	tiers := make(map[string]config.Tier, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[name] = t
	}
	classes := make(map[string]config.Class, len(cfg.Classes))
	for name, c := range cfg.Classes {
		classes[name] = c
	}

	l.mu.Lock()
	l.tiers = tiers
	l.classes = classes
	l.defaultTier = cfg.DefaultTier
	l.mu.Unlock()
}

// Class returns the configured class settings for name, falling back to
// the default limits.
func (l *Limiter) Class(name string) config.Class {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.classes[name]; ok {
		return c
	}
	return defaultClass
}

func (l *Limiter) tier(name string) config.Tier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if t, ok := l.tiers[name]; ok {
		return t
	}
	if t, ok := l.tiers[l.defaultTier]; ok {
		return t
	}
	return config.Tier{Multiplier: 1}
}

// effectiveLimit computes floor(base*multiplier + burst); the hourly
// burst allowance is the minute burst scaled by 10.
func effectiveLimit(class config.Class, tier config.Tier, tf Timeframe) int {
	base := class.BasePerMinute
	burst := tier.BurstPerMinute
	if tf == PerHour {
		base = class.BasePerHour
		burst = tier.BurstPerMinute * 10
	}
	return int(math.Floor(float64(base)*tier.Multiplier + float64(burst)))
}

func windowKey(class, tier string, tf Timeframe, identifier string) string {
	return fmt.Sprintf("%s:%s:%s:%s", class, tier, tf, identifier)
}

// CheckAndConsume evaluates every configured timeframe for the request
// and consumes one slot from each. Either timeframe can reject; the
// decision carries per-timeframe limit/remaining/reset for the response
// headers either way.
func (l *Limiter) CheckAndConsume(ctx context.Context, className, tierName, identifier string) Decision {
	class := l.Class(className)
	tier := l.tier(tierName)
	now := l.now()

	decision := Decision{
		Allowed: true,
		Windows: make(map[Timeframe]WindowStatus, 2),
	}

	for _, tf := range []Timeframe{PerMinute, PerHour} {
		limit := effectiveLimit(class, tier, tf)

		count, start, err := l.store.Incr(windowKey(className, tierName, tf, identifier), tf.size(), now)
		if err != nil {
			// Fail open: a broken counter store must not take down traffic.
			l.logger.Warn("rate limit store unavailable, admitting request",
				slog.String("class", className),
				slog.String("identifier", identifier),
				slog.String("error", err.Error()))
			decision.Windows[tf] = WindowStatus{Limit: limit, Remaining: limit, Reset: now}
			continue
		}

		reset := start.Add(tf.size())
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		decision.Windows[tf] = WindowStatus{Limit: limit, Remaining: remaining, Reset: reset}

		if count > limit {
			decision.Allowed = false
			if ra := retryAfterSeconds(now, reset); ra > decision.RetryAfter {
				decision.RetryAfter = ra
			}
		}
	}

	return decision
}

// CheckBulk applies the bulk-operation guard for designated endpoint
// classes: the per-request batch size cap, then the trailing-hour count
// from durable storage, which sees bursts the in-memory window cannot.
// Storage errors fail open like the window store.
func (l *Limiter) CheckBulk(ctx context.Context, className, tierName, identifier string, batchSize int) Decision {
	class := l.Class(className)
	if !class.Bulk {
		return Decision{Allowed: true}
	}

	if class.BatchSizeLimit > 0 && batchSize > class.BatchSizeLimit {
		return Decision{Allowed: false, RetryAfter: 60}
	}

	if l.access == nil {
		return Decision{Allowed: true}
	}

	hourlyLimit := effectiveLimit(class, l.tier(tierName), PerHour)
	count, err := l.access.CountClassSince(ctx, className, identifier, l.now().Add(-time.Hour))
	if err != nil {
		l.logger.Warn("access store unavailable for bulk guard, admitting request",
			slog.String("class", className),
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
		return Decision{Allowed: true}
	}
	if count >= hourlyLimit {
		return Decision{Allowed: false, RetryAfter: 60}
	}

	return Decision{Allowed: true}
}

func retryAfterSeconds(now, reset time.Time) int {
	remaining := reset.Sub(now)
	if remaining <= 0 {
		return 1
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
