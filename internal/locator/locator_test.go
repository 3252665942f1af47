package locator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-availability/internal/geo"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
)

var pickup = models.Coord{Lat: 19.4326, Lon: -99.1332}

// north returns a point roughly km kilometres north of pickup.
func north(km float64) models.Coord {
	return models.Coord{Lat: pickup.Lat + km/111.19, Lon: pickup.Lon}
}

type failingIndex struct{ geo.Index }

func (failingIndex) Nearby(context.Context, geo.Kind, models.Coord, float64, int) ([]geo.Hit, error) {
	return nil, errors.New("redis: connection refused")
}

func fixture(t *testing.T) (*storage.MemoryStore, *geo.MemoryIndex) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	zones := []models.FixedZone{
		{ID: "near", Center: north(1), RadiusKm: 3, Status: models.ZoneActive},
		{ID: "wide", Center: north(8), RadiusKm: 10, Status: models.ZoneActive},
		{ID: "far", Center: north(20), RadiusKm: 5, Status: models.ZoneActive},
		{ID: "off", Center: north(0.5), RadiusKm: 3, Status: "inactive"},
	}
	for _, z := range zones {
		z := z
		require.NoError(t, store.SaveZone(ctx, &z))
		require.NoError(t, idx.Upsert(ctx, geo.KindZone, z.ID, z.Center))
	}
	// indexed but gone from the store
	require.NoError(t, idx.Upsert(ctx, geo.KindZone, "ghost", north(0.1)))

	vehicles := []models.Vehicle{
		{ID: "v-close", Location: north(2), RadiusKm: 15, Available: true, RouteType: models.RouteFlexible},
		{ID: "v-short", Location: north(6), RadiusKm: 4, Available: true, RouteType: models.RouteFlexible},
		{ID: "v-noradius", Location: north(9), Available: true, RouteType: models.RouteFlexible},
		{ID: "v-busy", Location: north(1), RadiusKm: 15, Available: false, RouteType: models.RouteFlexible},
		{ID: "v-fixed", Location: north(1), RadiusKm: 15, Available: true, RouteType: models.RouteFixedZone},
		{ID: "v-out", Location: north(12), RadiusKm: 30, Available: true, RouteType: models.RouteFlexible},
	}
	for _, v := range vehicles {
		v := v
		require.NoError(t, store.SaveVehicle(ctx, &v))
		require.NoError(t, idx.Upsert(ctx, geo.KindVehicle, v.ID, v.Location))
	}
	return store, idx
}

func zoneIDs(ms []ZoneMatch) []string {
	var ids []string
	for _, m := range ms {
		ids = append(ids, m.Zone.ID)
	}
	return ids
}

func vehicleIDs(ms []VehicleMatch) []string {
	var ids []string
	for _, m := range ms {
		ids = append(ids, m.Vehicle.ID)
	}
	return ids
}

func TestFindFixedZonesReverifiesIndexHits(t *testing.T) {
	store, idx := fixture(t)
	l := New(Options{Store: store, Index: idx})
	require.NoError(t, l.Sync(context.Background()))
	got, err := l.FindFixedZones(context.Background(), pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(got))
	assert.InDelta(t, 1.0, got[0].DistanceKm, 0.05)
}

func TestFindFixedZonesFallsBackToScan(t *testing.T) {
	store, _ := fixture(t)
	l := New(Options{Store: store, Index: failingIndex{}})
	got, err := l.FindFixedZones(context.Background(), pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(got))

	noIndex := New(Options{Store: store})
	got, err = noIndex.FindFixedZones(context.Background(), pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(got))
}

func TestFindFlexibleVehiclesUsesEffectiveRadius(t *testing.T) {
	store, idx := fixture(t)
	indexed := New(Options{Store: store, Index: idx})
	require.NoError(t, indexed.Sync(context.Background()))
	for name, l := range map[string]*Locator{
		"index": indexed,
		"scan":  New(Options{Store: store, Index: failingIndex{}}),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := l.FindFlexibleVehicles(context.Background(), pickup, 10)
			require.NoError(t, err)
			// v-short is 6km away but only serves 4km; v-out is beyond the search radius
			assert.Equal(t, []string{"v-close", "v-noradius"}, vehicleIDs(got))
		})
	}
}

func TestSyncPopulatesIndex(t *testing.T) {
	store, _ := fixture(t)
	idx := geo.NewMemoryIndex()
	l := New(Options{Store: store, Index: idx})
	require.NoError(t, l.Sync(context.Background()))

	hits, err := idx.Nearby(context.Background(), geo.KindZone, pickup, 100, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 3, "inactive zones are not indexed")
	hits, err = idx.Nearby(context.Background(), geo.KindVehicle, pickup, 100, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

// countingIndex records how often Nearby is consulted.
type countingIndex struct {
	geo.Index
	nearby atomic.Int32
}

func (c *countingIndex) Nearby(ctx context.Context, kind geo.Kind, center models.Coord, radiusKm float64, limit int) ([]geo.Hit, error) {
	c.nearby.Add(1)
	return c.Index.Nearby(ctx, kind, center, radiusKm, limit)
}

type brokenUpsertIndex struct{ *geo.MemoryIndex }

func (brokenUpsertIndex) Upsert(context.Context, geo.Kind, string, models.Coord) error {
	return errors.New("redis: READONLY")
}

func TestIndexIgnoredUntilSynced(t *testing.T) {
	ctx := context.Background()
	store, _ := fixture(t)
	idx := &countingIndex{Index: geo.NewMemoryIndex()}
	l := New(Options{Store: store, Index: idx})

	zones, err := l.FindFixedZones(ctx, pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(zones))
	vehicles, err := l.FindFlexibleVehicles(ctx, pickup, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"v-close", "v-noradius"}, vehicleIDs(vehicles))
	assert.Zero(t, idx.nearby.Load())

	require.NoError(t, l.Sync(ctx))
	zones, err = l.FindFixedZones(ctx, pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(zones))
	assert.EqualValues(t, 1, idx.nearby.Load())
}

func TestFailedSyncKeepsScanningStore(t *testing.T) {
	ctx := context.Background()
	store, _ := fixture(t)
	l := New(Options{Store: store, Index: brokenUpsertIndex{geo.NewMemoryIndex()}})

	assert.Error(t, l.Sync(ctx))
	zones, err := l.FindFixedZones(ctx, pickup)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "wide"}, zoneIDs(zones))
}

func TestRunSyncIndexesZonesSavedLater(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := storage.NewMemoryStore()
	l := New(Options{Store: store, Index: geo.NewMemoryIndex()})
	require.NoError(t, l.Sync(ctx))

	require.NoError(t, store.SaveZone(ctx, &models.FixedZone{
		ID: "late", Center: north(1), RadiusKm: 3, Status: models.ZoneActive,
	}))
	go l.RunSync(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		zones, err := l.FindFixedZones(ctx, pickup)
		return err == nil && len(zones) == 1 && zones[0].Zone.ID == "late"
	}, 2*time.Second, 10*time.Millisecond)
}
