// Package fees computes distance-based delivery fees. Pure functions, no
// I/O; constants are configuration because deployments disagree on rates.
package fees

import (
	"github.com/example/delivery-events/internal/geo"
	"github.com/example/delivery-events/internal/models"
)

// Config carries the fee constant set for one deployment.
type Config struct {
	BaseFee   float64
	PerKmRate float64
	MinFee    float64
	MaxFee    float64
}

// DefaultConfig is the canonical constant set. See DESIGN.md for why these
// values were chosen over the alternates found in the field.
func DefaultConfig() Config {
	return Config{BaseFee: 1.5, PerKmRate: 0.5, MinFee: 1.5, MaxFee: 10.0}
}

// Fee applies the clamp(base + distance*rate, min, max) formula to a
// distance in kilometers.
func (c Config) Fee(distanceKm float64) float64 {
	fee := c.BaseFee + distanceKm*c.PerKmRate
	if fee < c.MinFee {
		fee = c.MinFee
	}
	if fee > c.MaxFee {
		fee = c.MaxFee
	}
	return fee
}

// Estimate computes the fee for a direct pickup-to-dropoff delivery.
func (c Config) Estimate(pickup, dropoff models.Coord) float64 {
	return c.Fee(geo.Distance(pickup, dropoff))
}

// OptimizeRoute orders multi-restaurant pickups to shorten the route: the
// stop nearest the dropoff is pinned last, the stop nearest the start goes
// first, and the rest follow nearest-neighbor from there. One stop or fewer
// comes back unchanged; the input slice is never mutated.
func OptimizeRoute(start, dropoff models.Coord, stops []models.Coord) []models.Coord {
	if len(stops) <= 1 {
		return stops
	}

	rest := make([]models.Coord, len(stops))
	copy(rest, stops)

	last := 0
	for i, s := range rest {
		if geo.Distance(s, dropoff) < geo.Distance(rest[last], dropoff) {
			last = i
		}
	}
	lastStop := rest[last]
	rest = append(rest[:last], rest[last+1:]...)

	ordered := make([]models.Coord, 0, len(stops))
	cur := start
	for len(rest) > 0 {
		next := 0
		for i, s := range rest {
			if geo.Distance(cur, s) < geo.Distance(cur, rest[next]) {
				next = i
			}
		}
		ordered = append(ordered, rest[next])
		cur = rest[next]
		rest = append(rest[:next], rest[next+1:]...)
	}
	return append(ordered, lastStop)
}

// EstimateRoute computes the fee for a multi-stop pickup route ending at the
// dropoff point: consecutive restaurant legs plus the final leg, with the
// same clamped formula applied to the total distance. The single-stop case
// degenerates to Estimate. Returns the fee and the total distance in km.
func (c Config) EstimateRoute(stops []models.Coord, dropoff models.Coord) (fee, distanceKm float64) {
	if len(stops) == 0 {
		return 0, 0
	}
	total := 0.0
	for i := 0; i < len(stops)-1; i++ {
		total += geo.Distance(stops[i], stops[i+1])
	}
	total += geo.Distance(stops[len(stops)-1], dropoff)
	return c.Fee(total), total
}
