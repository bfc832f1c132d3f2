package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestTTL_GetSet(t *testing.T) {
	c := NewTTL[string](4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("empty cache returned a value")
	}

	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}

	c.Set("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Errorf("overwrite: Get(a) = %q, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestTTL_Expiry(t *testing.T) {
	now := time.Now()
	c := NewTTL[string](4, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len = %d", c.Len())
	}
}

func TestTTL_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTTL[int](3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	c.Get("k0")
	c.Set("k3", 3)

	if _, ok := c.Get("k1"); ok {
		t.Error("k1 should have been evicted")
	}
	for _, key := range []string{"k0", "k2", "k3"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should have survived eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len = %d, want bounded at 3", c.Len())
	}
}

func TestTTL_Delete(t *testing.T) {
	c := NewTTL[int](2, time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("never-existed")
}
