package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/delivery-events/internal/geo"
	"github.com/example/delivery-events/internal/models"
)

// Client is the interface the hub uses to answer order:get_eta.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Naive ETA: distance / speed. In prod use a routing engine.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Distance(from, to) * 1000.0
	return d / speedMps
}

// EstimateMinutes rounds up to whole minutes for display.
func EstimateMinutes(from, to models.Coord, speedMps float64) int {
	secs := EstimateSeconds(from, to, speedMps)
	mins := int(secs / 60)
	if secs > float64(mins*60) {
		mins++
	}
	return mins
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
