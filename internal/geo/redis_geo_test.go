package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-availability/internal/models"
)

type fakeBackend struct {
	added   map[string][]*redis.GeoLocation
	removed []string
	lastKey string
	lastQ   *redis.GeoSearchLocationQuery
	result  []redis.GeoLocation
	err     error
}

func (f *fakeBackend) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	if f.added == nil {
		f.added = map[string][]*redis.GeoLocation{}
	}
	f.added[key] = append(f.added[key], loc)
	return f.err
}

func (f *fakeBackend) ZRem(ctx context.Context, key string, member string) error {
	f.removed = append(f.removed, key+"/"+member)
	return f.err
}

func (f *fakeBackend) GeoSearch(ctx context.Context, key string, q *redis.GeoSearchLocationQuery) ([]redis.GeoLocation, error) {
	f.lastKey = key
	f.lastQ = q
	return f.result, f.err
}

func TestRedisIndexUpsertUsesKindKey(t *testing.T) {
	f := &fakeBackend{}
	idx := &RedisIndex{backend: f, prefix: "fleet"}
	require.NoError(t, idx.Upsert(context.Background(), KindZone, "z1", madrid))
	require.Len(t, f.added["fleet:zones"], 1)
	loc := f.added["fleet:zones"][0]
	assert.Equal(t, "z1", loc.Name)
	assert.Equal(t, madrid.Lon, loc.Longitude)
	assert.Equal(t, madrid.Lat, loc.Latitude)

	require.NoError(t, idx.Remove(context.Background(), KindVehicle, "v1"))
	assert.Equal(t, []string{"fleet:vehicles/v1"}, f.removed)
}

func TestRedisIndexNearbyMapsResults(t *testing.T) {
	f := &fakeBackend{result: []redis.GeoLocation{
		{Name: "v1", Latitude: 40.42, Longitude: -3.70, Dist: 0.4},
		{Name: "v2", Latitude: 40.45, Longitude: -3.70, Dist: 3.7},
	}}
	idx := &RedisIndex{backend: f, prefix: "fleet"}
	hits, err := idx.Nearby(context.Background(), KindVehicle, madrid, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "fleet:vehicles", f.lastKey)
	assert.Equal(t, "km", f.lastQ.RadiusUnit)
	assert.Equal(t, 10.0, f.lastQ.Radius)
	assert.Equal(t, 5, f.lastQ.Count)
	assert.True(t, f.lastQ.WithDist)
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{ID: "v1", Loc: models.Coord{Lat: 40.42, Lon: -3.70}, DistanceKm: 0.4}, hits[0])
}

func TestRedisIndexNearbyPropagatesError(t *testing.T) {
	f := &fakeBackend{err: errors.New("connection refused")}
	idx := &RedisIndex{backend: f, prefix: "fleet"}
	_, err := idx.Nearby(context.Background(), KindZone, madrid, 10, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, f.err)
}
