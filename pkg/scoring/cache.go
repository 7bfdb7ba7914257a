package scoring

import (
	"sync"
	"time"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// featureCache holds recently built feature vectors for on-demand scoring.
// Entries expire after the configured freshness window.
type featureCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedVector
}

type cachedVector struct {
	features domain.FeatureVector
	builtAt  time.Time
}

func newFeatureCache(ttl time.Duration) *featureCache {
	return &featureCache{
		ttl:     ttl,
		entries: make(map[string]cachedVector),
	}
}

// get returns a cached vector still inside the freshness window.
func (c *featureCache) get(customerID string, now time.Time) (domain.FeatureVector, bool) {
	c.mu.RLock()
	entry, ok := c.entries[customerID]
	c.mu.RUnlock()

	if !ok || now.Sub(entry.builtAt) > c.ttl {
		return domain.FeatureVector{}, false
	}
	return entry.features, true
}

func (c *featureCache) put(customerID string, features domain.FeatureVector, now time.Time) {
	c.mu.Lock()
	c.entries[customerID] = cachedVector{features: features, builtAt: now}
	c.mu.Unlock()
}
