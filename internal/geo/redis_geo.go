package geo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-availability/internal/models"
)

// geoBackend is the subset of redis commands the index needs. It is an
// interface so tests can run without a server.
type geoBackend interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	ZRem(ctx context.Context, key string, member string) error
	GeoSearch(ctx context.Context, key string, q *redis.GeoSearchLocationQuery) ([]redis.GeoLocation, error)
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisAdapter) ZRem(ctx context.Context, key string, member string) error {
	return r.c.ZRem(ctx, key, member).Err()
}

func (r *redisAdapter) GeoSearch(ctx context.Context, key string, q *redis.GeoSearchLocationQuery) ([]redis.GeoLocation, error) {
	return r.c.GeoSearchLocation(ctx, key, q).Result()
}

// RedisIndex implements Index using Redis GEO commands. Each Kind lives in
// its own sorted set named "<prefix>:<kind>".
type RedisIndex struct {
	backend geoBackend
	prefix  string
}

func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	return &RedisIndex{backend: &redisAdapter{c: client}, prefix: prefix}
}

func (r *RedisIndex) key(kind Kind) string { return r.prefix + ":" + string(kind) }

func (r *RedisIndex) Upsert(ctx context.Context, kind Kind, id string, loc models.Coord) error {
	if err := r.backend.GeoAdd(ctx, r.key(kind), &redis.GeoLocation{Name: id, Longitude: loc.Lon, Latitude: loc.Lat}); err != nil {
		return fmt.Errorf("geoadd %s/%s: %w", kind, id, err)
	}
	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, kind Kind, id string) error {
	if err := r.backend.ZRem(ctx, r.key(kind), id); err != nil {
		return fmt.Errorf("zrem %s/%s: %w", kind, id, err)
	}
	return nil
}

func (r *RedisIndex) Nearby(ctx context.Context, kind Kind, center models.Coord, radiusKm float64, limit int) ([]Hit, error) {
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}
	res, err := r.backend.GeoSearch(ctx, r.key(kind), q)
	if err != nil {
		return nil, fmt.Errorf("geosearch %s: %w", kind, err)
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{
			ID:         g.Name,
			Loc:        models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			DistanceKm: g.Dist,
		})
	}
	return out, nil
}
