package features

import (
	"fmt"

	"altfade/internal/market"
)

// Cache holds one sequential feature pass over a panel so that repeated
// simulations (grid search, walk-forward steps) replay identical vectors
// instead of re-running the rolling normalization. Vectors are point-in-time
// by construction, so sharing one cache across evaluation windows introduces
// no look-ahead. A Cache is immutable after construction and safe for
// concurrent readers.
type Cache struct {
	panel *market.Panel
	vecs  []Vector
	errs  []error
}

// NewCache runs the engine over every panel date in order and records the
// outcome per index.
func NewCache(e *Engine, p *market.Panel) *Cache {
	c := &Cache{
		panel: p,
		vecs:  make([]Vector, p.Len()),
		errs:  make([]error, p.Len()),
	}
	for i := 0; i < p.Len(); i++ {
		v, err := e.Compute(p, i)
		if err != nil {
			c.errs[i] = err
			continue
		}
		c.vecs[i] = v
	}
	return c
}

// Compute replays the recorded outcome for date index i. The panel must be
// the one the cache was built over.
func (c *Cache) Compute(p *market.Panel, i int) (Vector, error) {
	if p != c.panel {
		return nil, fmt.Errorf("feature cache queried with a different panel")
	}
	if i < 0 || i >= len(c.vecs) {
		return nil, fmt.Errorf("feature cache index %d out of range", i)
	}
	if c.errs[i] != nil {
		return nil, c.errs[i]
	}
	return c.vecs[i], nil
}
