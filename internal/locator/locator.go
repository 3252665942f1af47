// Package locator finds the fixed zones and flexible-route vehicles that
// can serve a pickup coordinate. Index hits are always re-verified against
// exact haversine distances.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/example/fleet-availability/internal/geo"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/observability"
	"github.com/example/fleet-availability/internal/storage"
)

const (
	DefaultZoneSearchRadiusKm = 50.0
	DefaultIndexLimit         = 50
)

// Store is the subset of storage the locator reads.
type Store interface {
	Zone(ctx context.Context, id string) (*models.FixedZone, error)
	ActiveZones(ctx context.Context) ([]models.FixedZone, error)
	Vehicle(ctx context.Context, id string) (*models.Vehicle, error)
	FlexibleVehicles(ctx context.Context) ([]models.Vehicle, error)
}

type ZoneMatch struct {
	Zone       models.FixedZone
	DistanceKm float64
}

type VehicleMatch struct {
	Vehicle    models.Vehicle
	DistanceKm float64
}

type Options struct {
	Store Store
	// Index is optional; without it every query scans the store. It is
	// consulted only after a successful Sync.
	Index geo.Index
	// ZoneSearchRadiusKm bounds the zone centre query. It must be at least
	// the largest zone radius or zones will be missed.
	ZoneSearchRadiusKm float64
	IndexLimit         int
	Logger             *slog.Logger
}

type Locator struct {
	store      Store
	index      geo.Index
	zoneRadius float64
	limit      int
	log        *slog.Logger
	synced     atomic.Bool
}

func New(opts Options) *Locator {
	l := &Locator{
		store:      opts.Store,
		index:      opts.Index,
		zoneRadius: opts.ZoneSearchRadiusKm,
		limit:      opts.IndexLimit,
		log:        opts.Logger,
	}
	if l.zoneRadius <= 0 {
		l.zoneRadius = DefaultZoneSearchRadiusKm
	}
	if l.limit <= 0 {
		l.limit = DefaultIndexLimit
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

// FindFixedZones returns the active zones whose circle contains c, nearest
// centre first.
func (l *Locator) FindFixedZones(ctx context.Context, c models.Coord) ([]ZoneMatch, error) {
	zones, err := l.candidateZones(ctx, c)
	if err != nil {
		return nil, err
	}
	var out []ZoneMatch
	for _, z := range zones {
		if z.Status != models.ZoneActive {
			continue
		}
		d := geo.DistanceKm(c, z.Center)
		if d > z.RadiusKm {
			continue
		}
		out = append(out, ZoneMatch{Zone: z, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Zone.ID < out[j].Zone.ID
	})
	return out, nil
}

// indexReady reports whether the index holds a complete copy of the store.
func (l *Locator) indexReady() bool {
	return l.index != nil && l.synced.Load()
}

func (l *Locator) candidateZones(ctx context.Context, c models.Coord) ([]models.FixedZone, error) {
	if l.indexReady() {
		hits, err := l.index.Nearby(ctx, geo.KindZone, c, l.zoneRadius, l.limit)
		if err == nil {
			zones := make([]models.FixedZone, 0, len(hits))
			for _, h := range hits {
				z, err := l.store.Zone(ctx, h.ID)
				if err != nil {
					// one bad zone must not sink the search
					l.log.Warn("zone lookup failed, skipping", "zone_id", h.ID, "err", err)
					if !errors.Is(err, storage.ErrNotFound) {
						observability.Degradations.WithLabelValues("zone_store").Inc()
					}
					continue
				}
				zones = append(zones, *z)
			}
			return zones, nil
		}
		l.degraded(err)
	}
	zones, err := l.store.ActiveZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan active zones: %w", err)
	}
	return zones, nil
}

// FindFlexibleVehicles returns available flexible-route vehicles within
// min(searchRadiusKm, vehicle radius) of c, nearest first. A vehicle
// without a radius uses searchRadiusKm.
func (l *Locator) FindFlexibleVehicles(ctx context.Context, c models.Coord, searchRadiusKm float64) ([]VehicleMatch, error) {
	vehicles, err := l.candidateVehicles(ctx, c, searchRadiusKm)
	if err != nil {
		return nil, err
	}
	var out []VehicleMatch
	for _, v := range vehicles {
		if !v.Available || v.RouteType != models.RouteFlexible {
			continue
		}
		radius := searchRadiusKm
		if v.RadiusKm > 0 {
			radius = math.Min(searchRadiusKm, v.RadiusKm)
		}
		d := geo.DistanceKm(c, v.Location)
		if d > radius {
			continue
		}
		out = append(out, VehicleMatch{Vehicle: v, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Vehicle.ID < out[j].Vehicle.ID
	})
	return out, nil
}

func (l *Locator) candidateVehicles(ctx context.Context, c models.Coord, radiusKm float64) ([]models.Vehicle, error) {
	if l.indexReady() {
		hits, err := l.index.Nearby(ctx, geo.KindVehicle, c, radiusKm, l.limit)
		if err == nil {
			vehicles := make([]models.Vehicle, 0, len(hits))
			for _, h := range hits {
				v, err := l.store.Vehicle(ctx, h.ID)
				if err != nil {
					l.log.Warn("vehicle lookup failed, skipping", "vehicle_id", h.ID, "err", err)
					continue
				}
				vehicles = append(vehicles, *v)
			}
			return vehicles, nil
		}
		l.degraded(err)
	}
	vehicles, err := l.store.FlexibleVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan flexible vehicles: %w", err)
	}
	return vehicles, nil
}

func (l *Locator) degraded(err error) {
	observability.Degradations.WithLabelValues("geo_index").Inc()
	l.log.Warn("geo index unavailable, scanning store",
		"err", &models.ExternalServiceDegraded{Service: "geo_index", Err: err})
}

// Sync loads every active zone centre and flexible vehicle position into
// the index. Until a Sync succeeds, and after one fails, queries scan the
// store.
func (l *Locator) Sync(ctx context.Context) (err error) {
	if l.index == nil {
		return nil
	}
	defer func() { l.synced.Store(err == nil) }()
	zones, err := l.store.ActiveZones(ctx)
	if err != nil {
		return fmt.Errorf("sync zones: %w", err)
	}
	for _, z := range zones {
		if err := l.index.Upsert(ctx, geo.KindZone, z.ID, z.Center); err != nil {
			return fmt.Errorf("index zone %s: %w", z.ID, err)
		}
	}
	vehicles, err := l.store.FlexibleVehicles(ctx)
	if err != nil {
		return fmt.Errorf("sync vehicles: %w", err)
	}
	for _, v := range vehicles {
		if err := l.index.Upsert(ctx, geo.KindVehicle, v.ID, v.Location); err != nil {
			return fmt.Errorf("index vehicle %s: %w", v.ID, err)
		}
	}
	l.log.Info("geo index synced", "zones", len(zones), "vehicles", len(vehicles))
	return nil
}

// RunSync re-syncs the index every interval until ctx is done, so zones
// and vehicles saved after start, or a flushed index, are picked up.
func (l *Locator) RunSync(ctx context.Context, every time.Duration) {
	if l.index == nil || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.Sync(ctx); err != nil && ctx.Err() == nil {
				observability.Degradations.WithLabelValues("geo_index").Inc()
				l.log.Warn("geo index resync failed, scanning store", "err", err)
			}
		}
	}
}
