package rbaccache

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCacheGetSetRoundTrip(t *testing.T) {
	c := New(time.Minute, 10, testLogger())

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	perms := domain.CachedPermissions{Enabled: true, Roles: []string{"admin"}, IsAdmin: true}
	c.Set("u1", perms)

	got, ok := c.Get("u1")
	if !ok {
		t.Fatalf("expected hit after Set")
	}
	if !got.IsAdmin || got.Roles[0] != "admin" {
		t.Fatalf("unexpected cached value: %+v", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := New(20*time.Millisecond, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})

	if _, ok := c.Get("u1"); !ok {
		t.Fatalf("expected hit immediately after Set")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("expected entry to have expired")
	}
}

func TestCacheInvalidateUser(t *testing.T) {
	c := New(time.Minute, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	c.InvalidateUser("u1")

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("expected entry to be gone after InvalidateUser")
	}
	if c.Stats().Invalidations != 1 {
		t.Fatalf("expected 1 invalidation, got %d", c.Stats().Invalidations)
	}
}

func TestCacheInvalidateUsers(t *testing.T) {
	c := New(time.Minute, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	c.Set("u2", domain.CachedPermissions{Enabled: true})
	c.Set("u3", domain.CachedPermissions{Enabled: true})

	c.InvalidateUsers([]string{"u1", "u2"})

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("u1 should be invalidated")
	}
	if _, ok := c.Get("u2"); ok {
		t.Fatalf("u2 should be invalidated")
	}
	if _, ok := c.Get("u3"); !ok {
		t.Fatalf("u3 should remain cached")
	}
}

func TestCacheInvalidateByRoleSuccess(t *testing.T) {
	c := New(time.Minute, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	c.Set("u2", domain.CachedPermissions{Enabled: true})

	c.InvalidateByRole("role1", func(roleID string) ([]string, error) {
		if roleID != "role1" {
			t.Fatalf("unexpected role id %q", roleID)
		}
		return []string{"u1"}, nil
	})

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("u1 should be invalidated")
	}
	if _, ok := c.Get("u2"); !ok {
		t.Fatalf("u2 should remain cached")
	}
}

func TestCacheInvalidateByRoleFallsBackToFullInvalidation(t *testing.T) {
	c := New(time.Minute, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	c.Set("u2", domain.CachedPermissions{Enabled: true})

	c.InvalidateByRole("role1", func(roleID string) ([]string, error) {
		return nil, errors.New("store unavailable")
	})

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("expected full invalidation when resolver fails")
	}
	if _, ok := c.Get("u2"); ok {
		t.Fatalf("expected full invalidation when resolver fails")
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	c := New(time.Minute, 10, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	c.Set("u2", domain.CachedPermissions{Enabled: true})

	c.InvalidateAll()

	if c.Stats().Entries != 0 {
		t.Fatalf("expected empty cache after InvalidateAll")
	}
}

func TestCacheDefaultsAppliedForZeroValues(t *testing.T) {
	c := New(0, 0, testLogger())
	c.Set("u1", domain.CachedPermissions{Enabled: true})
	if _, ok := c.Get("u1"); !ok {
		t.Fatalf("expected cache constructed with defaults to still work")
	}
}
