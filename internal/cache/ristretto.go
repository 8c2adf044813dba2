package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ristretto is an in-process cache. Every entry costs 1, so MaxItems bounds
// the entry count.
type Ristretto struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewRistretto builds a cache holding at most maxItems entries.
func NewRistretto(maxItems int64, ttl time.Duration) (*Ristretto, error) {
	if maxItems <= 0 {
		maxItems = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("build ristretto cache: %w", err)
	}
	return &Ristretto{c: c, ttl: ttl}, nil
}

// Get returns a copy of the cached value.
func (r *Ristretto) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores val and waits for the write buffer to drain so the next Get
// observes it.
func (r *Ristretto) Set(_ context.Context, key string, val []byte) error {
	r.c.SetWithTTL(key, append([]byte(nil), val...), 1, r.ttl)
	r.c.Wait()
	return nil
}

// Delete removes keys.
func (r *Ristretto) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		r.c.Del(k)
	}
	return nil
}

// Close stops the cache goroutines.
func (r *Ristretto) Close() error {
	r.c.Close()
	return nil
}
