package sessions

import (
	"testing"

	"github.com/nanobot-run/nanobot/pkg/models"
)

func TestLRUCacheGetPut(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", &models.Session{Key: "a"})

	got, ok := c.get("a")
	if !ok {
		t.Fatal("expected hit for key a")
	}
	if got.Key != "a" {
		t.Errorf("Key = %q, want %q", got.Key, "a")
	}

	if _, ok := c.get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", &models.Session{Key: "a"})
	c.put("b", &models.Session{Key: "b"})
	c.get("a") // touch a so it's no longer the LRU entry
	c.put("c", &models.Session{Key: "c"})

	if _, ok := c.get("b"); ok {
		t.Error("expected b to have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to still be cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected c to be cached")
	}
}

func TestLRUCacheRemove(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", &models.Session{Key: "a"})
	c.remove("a")
	if _, ok := c.get("a"); ok {
		t.Error("expected a to be removed")
	}
}

func TestLRUCacheDefaultsCapacity(t *testing.T) {
	c := newLRUCache(0)
	if c.capacity != DefaultCacheSize {
		t.Errorf("capacity = %d, want %d", c.capacity, DefaultCacheSize)
	}
}
