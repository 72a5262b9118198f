package idempotency

import (
	"testing"
	"time"
)

func TestStoreReplaysWithinTTL(t *testing.T) {
	s := NewStore()
	s.Set("tenant-1:retry-1", Response{StatusCode: 202, Body: []byte(`{"ok":true}`)})

	resp, found := s.Get("tenant-1:retry-1")
	if !found {
		t.Fatal("Expected cached response within TTL")
	}
	if resp.StatusCode != 202 {
		t.Errorf("Expected status 202, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Expected cached body, got %s", resp.Body)
	}

	if _, found := s.Get("tenant-1:other"); found {
		t.Error("Expected miss for unknown key")
	}
}

func TestStoreExpiresAfterTTL(t *testing.T) {
	s := NewStoreWithTTL(10 * time.Millisecond)
	s.Set("tenant-1:retry-1", Response{StatusCode: 202})

	if _, found := s.Get("tenant-1:retry-1"); !found {
		t.Fatal("Expected fresh entry to be served")
	}

	time.Sleep(25 * time.Millisecond)

	if _, found := s.Get("tenant-1:retry-1"); found {
		t.Error("Expected entry to expire after the TTL")
	}
	// Expired entries are evicted on read
	if _, loaded := s.cache.Load("tenant-1:retry-1"); loaded {
		t.Error("Expected expired entry to be deleted from the cache")
	}
}
