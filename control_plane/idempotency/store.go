// Package idempotency caches responses to replayed submissions keyed by
// the client-supplied X-Idempotency-Key header. A retried submission
// within the TTL gets the original response back instead of creating a
// second command.
package idempotency

import (
	"sync"
	"time"
)

const defaultTTL = 1 * time.Hour

type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

type Store struct {
	cache sync.Map
	ttl   time.Duration
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewStore() *Store {
	return &Store{ttl: defaultTTL}
}

// NewStoreWithTTL builds a store with a custom replay window. Used by tests.
func NewStoreWithTTL(ttl time.Duration) *Store {
	return &Store{ttl: ttl}
}

func (s *Store) Get(key string) (Response, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.timestamp) > s.ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (s *Store) Set(key string, resp Response) {
	s.cache.Store(key, entry{
		resp:      resp,
		timestamp: time.Now(),
	})
}
