package geo

import (
	"math"
	"testing"

	"github.com/example/delivery-events/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(-17.82, 31.05, -17.82, 31.05); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	ab := HaversineKm(-17.82, 31.05, -17.9, 31.1)
	ba := HaversineKm(-17.9, 31.1, -17.82, 31.05)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("asymmetric: %f vs %f", ab, ba)
	}
	if ab <= 0 {
		t.Fatalf("expected positive distance, got %f", ab)
	}
}

func TestNearbyOrdersByDistanceAndSkipsBusy(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: "far", Loc: models.Coord{Lat: 1, Lng: 1}, Status: models.DriverAvailable})
	idx.Upsert(models.Driver{ID: "near", Loc: models.Coord{Lat: 0.01, Lng: 0.01}, Status: models.DriverAvailable})
	idx.Upsert(models.Driver{ID: "busy", Loc: models.Coord{Lat: 0, Lng: 0}, Status: models.DriverBusy})

	got := idx.Nearby(0, 0, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(got))
	}
	if got[0].ID != "near" {
		t.Errorf("nearest: got %q want near", got[0].ID)
	}
	for _, d := range got {
		if d.ID == "busy" {
			t.Error("busy driver must be skipped")
		}
	}
}

func TestRemoveDropsDriver(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: "d1", Loc: models.Coord{Lat: 0.01, Lng: 0.01}, Status: models.DriverAvailable})
	idx.Remove("d1")
	if got := idx.Nearby(0, 0, 5); len(got) != 0 {
		t.Fatalf("removed driver still indexed: %v", got)
	}
}
