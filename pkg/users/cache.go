package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// JSONCache is the shared cache used behind the in-process LRU
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	InvalidatePatterns(ctx context.Context, patterns ...string) error
}

// L1MaxTTL bounds how long an instance serves a user from its own LRU.
// Writes on another instance only clear the shared layer, so this is the
// longest a replica can lag behind a plan or profile change.
const L1MaxTTL = 5 * time.Second

// CachedRepository caches GetByID in an in-process LRU and a shared cache.
// Every write through it invalidates both layers. Cached users carry no
// credential fields, so password checks must use GetByEmail.
type CachedRepository struct {
	Repository
	shared  JSONCache
	l1      *lru.LRU[uuid.UUID, *User]
	l1TTL   time.Duration
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCachedRepository wraps next. shared may be nil to use only the LRU.
func NewCachedRepository(next Repository, shared JSONCache, size int, ttl time.Duration, metrics *observability.Metrics, logger *observability.Logger) *CachedRepository {
	if size <= 0 {
		size = 1000
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	l1TTL := ttl
	if l1TTL <= 0 || l1TTL > L1MaxTTL {
		l1TTL = L1MaxTTL
	}
	return &CachedRepository{
		Repository: next,
		shared:     shared,
		l1:         lru.NewLRU[uuid.UUID, *User](size, nil, l1TTL),
		l1TTL:      l1TTL,
		ttl:        ttl,
		metrics:    metrics,
		logger:     logger,
	}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id)
}

func clone(u *User) *User {
	cp := *u
	return &cp
}

// GetByID returns a cached user when present
func (c *CachedRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if u, ok := c.l1.Get(id); ok {
		c.metrics.CacheResult("user_l1", true)
		return clone(u), nil
	}
	c.metrics.CacheResult("user_l1", false)

	if c.shared != nil {
		var u User
		err := c.shared.GetJSON(ctx, cacheKey(id), &u)
		if err == nil {
			c.metrics.CacheResult("user_redis", true)
			c.l1.Add(id, clone(&u))
			return &u, nil
		}
		c.metrics.CacheResult("user_redis", false)
	}

	u, err := c.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.l1.Add(id, clone(u))
	if c.shared != nil {
		if err := c.shared.SetJSON(ctx, cacheKey(id), u, c.ttl); err != nil {
			c.logger.WithError(err).Warn("Failed to cache user")
		}
	}
	return u, nil
}

// Invalidate drops a user from both cache layers
func (c *CachedRepository) Invalidate(ctx context.Context, id uuid.UUID) {
	c.l1.Remove(id)
	if c.shared != nil {
		if err := c.shared.Delete(ctx, cacheKey(id)); err != nil {
			c.logger.WithError(err).WithField("user_id", id.String()).Warn("Failed to invalidate cached user")
		}
	}
}

// UpdateProfile updates and invalidates
func (c *CachedRepository) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*User, error) {
	u, err := c.Repository.UpdateProfile(ctx, id, update)
	c.Invalidate(ctx, id)
	return u, err
}

// SetPlan updates and invalidates
func (c *CachedRepository) SetPlan(ctx context.Context, id uuid.UUID, isPro bool) error {
	err := c.Repository.SetPlan(ctx, id, isPro)
	c.Invalidate(ctx, id)
	return err
}

// SetStripeCustomerID updates and invalidates
func (c *CachedRepository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	err := c.Repository.SetStripeCustomerID(ctx, id, customerID)
	c.Invalidate(ctx, id)
	return err
}

// SetLogoKey updates and invalidates
func (c *CachedRepository) SetLogoKey(ctx context.Context, id uuid.UUID, key string) error {
	err := c.Repository.SetLogoKey(ctx, id, key)
	c.Invalidate(ctx, id)
	return err
}

// ResetMonthlyUsage resets counters and flushes every cached user
func (c *CachedRepository) ResetMonthlyUsage(ctx context.Context, period time.Time) (int64, error) {
	n, err := c.Repository.ResetMonthlyUsage(ctx, period)
	c.l1.Purge()
	if c.shared != nil {
		if ierr := c.shared.InvalidatePatterns(ctx, "user:*"); ierr != nil {
			err = errors.Join(err, fmt.Errorf("failed to flush user cache: %w", ierr))
		}
	}
	return n, err
}
