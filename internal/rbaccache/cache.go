// Package rbaccache caches resolved per-user permission snapshots so the
// RBAC engine doesn't recompute role/grant unions on every tools/call.
package rbaccache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 50000
)

// RoleUsersFunc resolves every user id currently holding roleID, used by
// InvalidateByRole. A failure here is not fatal: the cache falls back to
// a full invalidation rather than leaving stale entries behind.
type RoleUsersFunc func(roleID string) ([]string, error)

// Cache is a thread-safe TTL+LRU cache of domain.CachedPermissions.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.LRU[string, domain.CachedPermissions]
	logger zerolog.Logger

	hits         int64
	misses       int64
	invalidations int64
}

// New builds a cache with the given TTL and entry cap.
func New(ttl time.Duration, maxEntries int, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{logger: logger}
	c.lru = lru.NewLRU[string, domain.CachedPermissions](maxEntries, nil, ttl)
	logger.Info().Dur("ttl", ttl).Int("max_entries", maxEntries).Msg("permission cache initialized")
	return c
}

// Get returns the cached permissions for userID, or false if absent/expired.
func (c *Cache) Get(userID string) (domain.CachedPermissions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	perms, ok := c.lru.Get(userID)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return perms, ok
}

// Set stores the resolved permissions for userID.
func (c *Cache) Set(userID string, perms domain.CachedPermissions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(userID, perms)
}

// InvalidateUser drops the cached entry for a single user.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Remove(userID) {
		c.invalidations++
	}
}

// InvalidateUsers drops cached entries for multiple users.
func (c *Cache) InvalidateUsers(userIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		if c.lru.Remove(id) {
			c.invalidations++
		}
	}
}

// InvalidateByRole invalidates every user holding roleID. If resolving the
// role's users fails, it falls back to invalidating the entire cache rather
// than risk leaving stale grants cached indefinitely.
func (c *Cache) InvalidateByRole(roleID string, resolve RoleUsersFunc) {
	userIDs, err := resolve(roleID)
	if err != nil {
		c.logger.Warn().Err(err).Str("role_id", roleID).Msg("failed to resolve users for role, invalidating entire cache")
		c.InvalidateAll()
		return
	}
	c.InvalidateUsers(userIDs)
	c.logger.Info().Str("role_id", roleID).Int("users", len(userIDs)).Msg("cache invalidated for role")
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	c.lru.Purge()
	c.invalidations += int64(n)
	c.logger.Info().Int("entries", n).Msg("permission cache invalidated")
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int     `json:"entries"`
	MaxEntries    int     `json:"max_entries"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Invalidations int64   `json:"invalidations"`
}

// Stats returns a snapshot of hit/miss/invalidation counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Entries:       c.lru.Len(),
		Hits:          c.hits,
		Misses:        c.misses,
		HitRate:       hitRate,
		Invalidations: c.invalidations,
	}
}
