package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-events/internal/models"
)

// RedisGeo implements Locator using Redis GEO commands, shared with the
// location-ingest consumer so the hub sees positions written by either path.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(d models.Driver) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"name":    d.Name,
		"phone":   d.Phone,
		"vehicle": d.Vehicle,
		"status":  string(d.Status),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(lat, lng float64, limit int) []models.Driver {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: 15, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Status: models.DriverAvailable}
		d.Loc.Lat = g.Latitude
		d.Loc.Lng = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["name"]; ok {
				d.Name = v
			}
			if v, ok := m["phone"]; ok {
				d.Phone = v
			}
			if v, ok := m["vehicle"]; ok {
				d.Vehicle = v
			}
			if v, ok := m["status"]; ok {
				d.Status = models.DriverStatus(v)
			}
		}
		if d.Status != models.DriverAvailable {
			continue
		}
		out = append(out, d)
	}
	return out
}

// LastKnown fetches a single driver position written by the consumer.
func (r *RedisGeo) LastKnown(driverID string) (models.Coord, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true
}

func metaKey(id string) string { return "driver:meta:" + id }
