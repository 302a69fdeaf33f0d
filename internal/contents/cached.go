package contents

import (
	"context"
	"sync"
	"time"
)

// Cached shares one capture between device loops polling at the same time.
// Successful readings are reused for ttl; errors are not cached.
type Cached struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	value float64
	at    time.Time
}

// NewCached wraps src. A ttl <= 0 returns src unchanged.
func NewCached(src Source, ttl time.Duration) Source {
	if ttl <= 0 {
		return src
	}
	return &Cached{src: src, ttl: ttl, now: time.Now}
}

func (c *Cached) Luminance(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.at.IsZero() && c.now().Sub(c.at) < c.ttl {
		return c.value, nil
	}

	v, err := c.src.Luminance(ctx)
	if err != nil {
		return 0, err
	}
	c.value, c.at = v, c.now()
	return v, nil
}
