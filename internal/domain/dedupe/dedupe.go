// Package dedupe remembers idempotency keys so a retried request maps to the
// work its first attempt started.
package dedupe

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Deduper records idempotency keys and the id of the work each one started.
type Deduper interface {
	// SeenAndRecord atomically records key with value unless key is already
	// held. For a repeat it returns the held value and true.
	SeenAndRecord(ctx context.Context, key, value string) (string, bool)

	// Unrecord forgets key so the next attempt with it starts afresh. Used
	// when the first attempt failed before its work was accepted.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper keeps keys in a go-cache with a per-key expiry. Past
// maxSize live keys, new keys pass through unrecorded.
type inMemoryDeduper struct {
	ttl     time.Duration
	maxSize int
	keys    *cache.Cache
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		ttl:     DefaultTTL,
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.keys = cache.New(d.ttl, max(time.Minute, d.ttl/4))
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key, value string) (string, bool) {
	for {
		if v, ok := d.keys.Get(key); ok {
			return v.(string), true
		}
		if d.maxSize > 0 && d.keys.ItemCount() >= d.maxSize {
			d.keys.DeleteExpired()
			if d.keys.ItemCount() >= d.maxSize {
				return value, false
			}
		}
		// Add fails only if another caller won the key since Get.
		if d.keys.Add(key, value, cache.DefaultExpiration) == nil {
			return value, false
		}
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.keys.Delete(key)
}

// Size returns the number of held keys, including expired ones not yet
// swept.
func (d *inMemoryDeduper) Size() int64 {
	return int64(d.keys.ItemCount())
}
