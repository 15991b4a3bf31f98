package services

import (
	"fmt"
	"testing"
	"time"
)

func TestPromptCacheHitAndMiss(t *testing.T) {
	cache := NewPromptCache(time.Minute, 8)
	payload := &SectionPayload{Summary: "cached"}

	if got := cache.Get("k"); got != nil {
		t.Fatalf("expected miss on empty cache, got %+v", got)
	}
	cache.Set("k", payload)
	if got := cache.Get("k"); got != payload {
		t.Fatalf("expected cached payload back, got %+v", got)
	}
	cache.Clear()
	if got := cache.Get("k"); got != nil {
		t.Fatal("expected miss after Clear")
	}
}

func TestPromptCacheTTLExpiry(t *testing.T) {
	cache := NewPromptCache(10*time.Minute, 8)
	current := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return current }

	cache.Set("k", &SectionPayload{Summary: "cached"})

	current = current.Add(10*time.Minute - time.Millisecond)
	if cache.Get("k") == nil {
		t.Fatal("entry expired before its TTL")
	}

	current = current.Add(2 * time.Millisecond)
	if got := cache.Get("k"); got != nil {
		t.Fatalf("entry survived past its TTL: %+v", got)
	}
}

func TestPromptCacheEvictsOldestWhenFull(t *testing.T) {
	cache := NewPromptCache(time.Hour, 3)
	current := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("k%d", i), &SectionPayload{Summary: fmt.Sprintf("v%d", i)})
		current = current.Add(time.Second)
	}
	cache.Set("k3", &SectionPayload{Summary: "v3"})

	if cache.Get("k0") != nil {
		t.Fatal("oldest entry should have been evicted")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if cache.Get(key) == nil {
			t.Fatalf("entry %s should have survived eviction", key)
		}
	}
}
