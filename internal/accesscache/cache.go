// Package accesscache memoizes positive access decisions in front of the
// ledger. Grants are permanent, so a cached "yes" never goes stale; a "no"
// is never cached because a purchase can flip it at any moment.
package accesscache

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Checker is the authoritative access oracle. *ledger.Ledger satisfies this interface.
type Checker interface {
	HasAccess(ctx context.Context, principal string, id int64) (bool, error)
}

// Backend stores grant markers with a TTL.
type Backend interface {
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, ttl time.Duration) error
}

// MetricsRecorder receives "hit", "miss" or "error" for every lookup.
type MetricsRecorder func(result string)

// Cache answers HasAccess from Backend when it can and from Checker otherwise.
type Cache struct {
	backend   Backend
	checker   Checker
	ttl       time.Duration
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// New creates a Cache.
func New(backend Backend, checker Checker, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{backend: backend, checker: checker, ttl: ttl, logger: logger}
}

// SetMetricsRecorder configures the metrics callback.
func (c *Cache) SetMetricsRecorder(fn MetricsRecorder) {
	c.onMetrics = fn
}

func (c *Cache) record(result string) {
	if c.onMetrics != nil {
		c.onMetrics(result)
	}
}

// Key returns the backend key for a (principal, listing) grant.
func Key(principal string, id int64) string {
	return "vidledger:access:" + strconv.FormatInt(id, 10) + ":" + principal
}

// HasAccess implements the same contract as ledger.Ledger.HasAccess.
// Backend failures degrade to a direct ledger lookup.
func (c *Cache) HasAccess(ctx context.Context, principal string, id int64) (bool, error) {
	if principal == "" {
		return false, nil
	}
	key := Key(principal, id)

	hit, err := c.backend.Has(ctx, key)
	switch {
	case err != nil:
		c.record("error")
		c.logger.Warn("access cache lookup failed", zap.String("key", key), zap.Error(err))
	case hit:
		c.record("hit")
		return true, nil
	default:
		c.record("miss")
	}

	ok, err := c.checker.HasAccess(ctx, principal, id)
	if err != nil || !ok {
		return ok, err
	}
	c.Remember(ctx, principal, id)
	return true, nil
}

// Remember stores a grant that is already known to exist, such as one
// returned by a successful purchase.
func (c *Cache) Remember(ctx context.Context, principal string, id int64) {
	if err := c.backend.Put(ctx, Key(principal, id), c.ttl); err != nil {
		c.logger.Warn("access cache store failed", zap.Int64("listing_id", id), zap.Error(err))
	}
}
