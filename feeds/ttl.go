package feeds

import (
	"time"
)

// TTLValue caches one value with refresh-on-read semantics. On read past
// the TTL the fetch function runs again; a failed refresh keeps serving
// the previous value. Only used from the tick loop, so no locking.
type TTLValue[T any] struct {
	ttl       time.Duration
	fetch     func() (T, error)
	value     T
	fetchedAt time.Time
	primed    bool
}

// NewTTLValue creates a cache around fetch
func NewTTLValue[T any](ttl time.Duration, fetch func() (T, error)) *TTLValue[T] {
	return &TTLValue[T]{ttl: ttl, fetch: fetch}
}

// Get returns the cached value, refreshing it when expired. The error is
// non-nil only when there is no previous value to fall back on.
func (v *TTLValue[T]) Get() (T, error) {
	if v.primed && time.Since(v.fetchedAt) <= v.ttl {
		return v.value, nil
	}

	fresh, err := v.fetch()
	if err != nil {
		if v.primed {
			return v.value, nil
		}
		var zero T
		return zero, err
	}

	v.value = fresh
	v.fetchedAt = time.Now()
	v.primed = true
	return v.value, nil
}

// Invalidate forces the next Get to refetch
func (v *TTLValue[T]) Invalidate() {
	v.primed = false
}
