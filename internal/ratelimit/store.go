package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// WindowStore is the shared counter store behind the limiter. The
// in-process LRUStore serves single-instance deployments; horizontally
// scaled gateways swap in an implementation over a shared counter
// service so every instance sees the same windows.
type WindowStore interface {
	// Incr finds or creates the window for key, resets it if it has
	// elapsed, increments the counter, and returns the post-increment
	// count plus the window start.
	Incr(key string, size time.Duration, now time.Time) (count int, windowStart time.Time, err error)
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// LRUStore keeps windows in a bounded concurrent LRU so abandoned
// identifiers age out instead of growing the map forever.
type LRUStore struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *window]
}

var _ WindowStore = (*LRUStore)(nil)

// NewLRUStore creates a store bounded to size windows.
func NewLRUStore(size int) (*LRUStore, error) {
	cache, err := lru.New[string, *window](size)
	if err != nil {
		return nil, fmt.Errorf("create window cache: %w", err)
	}
	return &LRUStore{windows: cache}, nil
}

func (s *LRUStore) Incr(key string, size time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	w, ok := s.windows.Get(key)
	if !ok {
		w = &window{start: now.Truncate(size)}
		s.windows.Add(key, w)
	}
	s.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	start := now.Truncate(size)
	if !w.start.Equal(start) {
		// Window elapsed; start a fresh one.
		w.start = start
		w.count = 0
	}
	w.count++
	return w.count, w.start, nil
}
