package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/delivery-events/internal/models"
)

// Locator is the minimal interface the hub needs to find candidate drivers.
type Locator interface {
	Nearby(lat, lng float64, limit int) []models.Driver
	Upsert(d models.Driver)
}

// Index is an in-memory driver location index used when Redis is not
// configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

// Remove drops a driver from the index, e.g. on disconnect.
func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, id)
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lng float64, limit int) []models.Driver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Status != models.DriverAvailable {
			continue
		}
		dist := HaversineKm(lat, lng, d.Loc.Lat, d.Loc.Lng)
		arr = append(arr, pair{d, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Driver, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].d)
	}
	return out
}

// HaversineKm is the great-circle distance in kilometers (Earth radius 6371 km).
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is HaversineKm over Coord pairs.
func Distance(a, b models.Coord) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}
