package eta

import (
	"testing"
	"time"

	"github.com/example/delivery-events/internal/models"
)

func TestEstimateMinutesRoundsUp(t *testing.T) {
	from := models.Coord{Lat: -17.82, Lng: 31.05}
	to := models.Coord{Lat: -17.83, Lng: 31.06}

	secs := EstimateSeconds(from, to, 10)
	if secs <= 0 {
		t.Fatalf("seconds: %v", secs)
	}
	mins := EstimateMinutes(from, to, 10)
	if float64(mins*60) < secs {
		t.Errorf("minutes must round up: secs=%v mins=%d", secs, mins)
	}
	if float64((mins-1)*60) >= secs {
		t.Errorf("rounded too far: secs=%v mins=%d", secs, mins)
	}
}

func TestEstimateSecondsDefaultsSpeed(t *testing.T) {
	from := models.Coord{Lat: 0, Lng: 0}
	to := models.Coord{Lat: 0, Lng: 0.01}
	if EstimateSeconds(from, to, 0) != EstimateSeconds(from, to, 8.0) {
		t.Error("non-positive speed must fall back to the default")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	a := models.Coord{Lat: 1, Lng: 2}
	b := models.Coord{Lat: 3, Lng: 4}

	if _, ok := c.Get(a, b); ok {
		t.Fatal("empty cache hit")
	}
	c.Set(a, b, 120)
	if v, ok := c.Get(a, b); !ok || v != 120 {
		t.Fatalf("cache miss after set: v=%v ok=%v", v, ok)
	}
	if _, ok := c.Get(b, a); ok {
		t.Fatal("cache key must be directional")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry served")
	}
}
