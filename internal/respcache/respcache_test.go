package respcache

import (
	"testing"
	"time"
)

func TestPutGet_RoundTrip(t *testing.T) {
	c := New(Config{}, nil)
	c.Put("k1", "v1", time.Minute, 10)
	v, ok := c.Get("k1")
	if !ok || v != "v1" {
		t.Fatalf("Get(k1) = (%v, %v), want (v1, true)", v, ok)
	}
}

func TestGet_ExpiredEntryMisses(t *testing.T) {
	clock := time.Now()
	c := New(Config{}, func() time.Time { return clock })
	c.Put("k1", "v1", time.Second, 1)
	clock = clock.Add(2 * time.Second)
	if _, ok := c.Get("k1"); ok {
		t.Error("Get() should miss after TTL elapses")
	}
}

func TestPut_EvictsOverMaxEntries(t *testing.T) {
	c := New(Config{MaxEntries: 2}, nil)
	c.Put("a", 1, time.Minute, 1)
	c.Put("b", 2, time.Minute, 1)
	c.Put("c", 3, time.Minute, 1)
	if c.Stats().Entries > 2 {
		t.Errorf("Stats().Entries = %d, want <= 2", c.Stats().Entries)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry 'a' should have been evicted as LRU")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("most recently inserted entry 'c' should survive")
	}
}

func TestPut_EvictsOverMaxMemory(t *testing.T) {
	c := New(Config{MaxMemoryBytes: 10}, nil)
	c.Put("a", 1, time.Minute, 6)
	c.Put("b", 2, time.Minute, 6)
	if c.Stats().SizeBytes > 10 {
		t.Errorf("SizeBytes = %d, want <= 10 after eviction", c.Stats().SizeBytes)
	}
}

func TestGet_TouchPromotesRecency(t *testing.T) {
	c := New(Config{MaxEntries: 2}, nil)
	c.Put("a", 1, time.Minute, 1)
	c.Put("b", 2, time.Minute, 1)
	c.Get("a") // touch a, making b the LRU candidate
	c.Put("c", 3, time.Minute, 1)
	if _, ok := c.Get("b"); ok {
		t.Error("'b' should have been evicted since 'a' was touched more recently")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("'a' should survive eviction after being touched")
	}
}

func TestCleanupExpired(t *testing.T) {
	clock := time.Now()
	c := New(Config{}, func() time.Time { return clock })
	c.Put("a", 1, time.Second, 1)
	clock = clock.Add(2 * time.Second)
	c.CleanupExpired()
	if c.Stats().Entries != 0 {
		t.Errorf("Stats().Entries = %d, want 0 after CleanupExpired", c.Stats().Entries)
	}
}
