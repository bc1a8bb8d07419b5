package cache

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryCache(t *testing.T) {
	c := NewInMemoryCache()
	defer c.Close()
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		if err := c.Set(ctx, "report:a", []byte("payload"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "report:a")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "payload" {
			t.Fatalf("expected 'payload', got %q", val)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if _, err := c.Get(ctx, "nonexistent"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		if err := c.Set(ctx, "expiring", []byte("v"), 10*time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := c.Get(ctx, "expiring"); err != nil {
			t.Fatalf("Get failed immediately after set: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if _, err := c.Get(ctx, "expiring"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound after expiry, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		c.Set(ctx, "gone", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := c.Get(ctx, "gone"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		c.Set(ctx, "copy", []byte("abc"), time.Minute)
		val, _ := c.Get(ctx, "copy")
		val[0] = 'x'
		again, _ := c.Get(ctx, "copy")
		if string(again) != "abc" {
			t.Fatalf("cached value was mutated: %q", again)
		}
	})
}

func TestTieredCache(t *testing.T) {
	ctx := context.Background()

	t.Run("write-through populates both layers", func(t *testing.T) {
		l1, l2 := NewInMemoryCache(), NewInMemoryCache()
		tc := NewTieredCache(l1, l2, 10*time.Second)
		defer tc.Close()

		if err := tc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := l1.Get(ctx, "k"); err != nil {
			t.Errorf("expected L1 populated: %v", err)
		}
		if _, err := l2.Get(ctx, "k"); err != nil {
			t.Errorf("expected L2 populated: %v", err)
		}
	})

	t.Run("L2 fallthrough repopulates L1", func(t *testing.T) {
		l1, l2 := NewInMemoryCache(), NewInMemoryCache()
		tc := NewTieredCache(l1, l2, 10*time.Second)
		defer tc.Close()

		l2.Set(ctx, "k2", []byte("v2"), time.Minute)

		val, err := tc.Get(ctx, "k2")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v2" {
			t.Fatalf("expected 'v2', got %q", val)
		}
		if _, err := l1.Get(ctx, "k2"); err != nil {
			t.Errorf("expected L1 repopulated after L2 hit: %v", err)
		}
	})

	t.Run("miss in both layers", func(t *testing.T) {
		tc := NewTieredCache(NewInMemoryCache(), NewInMemoryCache(), time.Second)
		defer tc.Close()

		if _, err := tc.Get(ctx, "absent"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
