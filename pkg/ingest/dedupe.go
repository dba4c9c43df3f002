package ingest

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduper remembers delivery ids that were already published.
type Deduper struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewDeduper returns a cache holding up to size ids for ttl.
func NewDeduper(size int, ttl time.Duration) *Deduper {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether id was marked and has not expired. Empty ids are never seen.
func (d *Deduper) Seen(id string) bool {
	if d == nil || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Peek checks expiry; Contains only reports presence until the next sweep.
	_, ok := d.cache.Peek(id)
	return ok
}

// Mark records id as delivered.
func (d *Deduper) Mark(id string) {
	if d == nil || id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Add(id, struct{}{})
}
