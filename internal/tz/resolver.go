// Package tz maps pickup addresses to civil timezones and converts
// between local wall-clock times and the UTC instants the stores keep.
package tz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/observability"
)

type Options struct {
	Table    *Table
	Lookup   Lookup // optional
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Resolver never fails: anything it cannot place is UTC.
type Resolver struct {
	table  *Table
	lookup Lookup
	cache  *cache
	logger *slog.Logger
}

func NewResolver(opts Options) *Resolver {
	if opts.Table == nil {
		opts.Table = NewTable(DefaultKeywords)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 6 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{table: opts.Table, lookup: opts.Lookup, cache: newCache(opts.CacheTTL), logger: opts.Logger}
}

// Resolve returns the IANA zone name for address.
func (r *Resolver) Resolve(ctx context.Context, address string) string {
	var fetch func() (string, error)
	if r.lookup != nil && address != "" {
		fetch = func() (string, error) { return r.lookup.LookupZone(ctx, address) }
	}
	return r.resolve(ctx, address, fetch)
}

// ResolveAt is Resolve for an address whose coordinate is already known.
// A lookup that can place coordinates is asked for the zone directly
// instead of geocoding the address again.
func (r *Resolver) ResolveAt(ctx context.Context, address string, c models.Coord) string {
	var fetch func() (string, error)
	switch l := r.lookup.(type) {
	case nil:
	case CoordLookup:
		fetch = func() (string, error) { return l.ZoneAt(ctx, c) }
	default:
		if address != "" {
			fetch = func() (string, error) { return l.LookupZone(ctx, address) }
		}
	}
	return r.resolve(ctx, address, fetch)
}

// resolve runs table, cache, then fetch when one is given.
func (r *Resolver) resolve(ctx context.Context, address string, fetch func() (string, error)) string {
	if address == "" && fetch == nil {
		observability.TimezoneResolutions.WithLabelValues("fallback").Inc()
		return "UTC"
	}
	if zone, ok := r.table.Match(address); ok && validZone(zone) {
		observability.TimezoneResolutions.WithLabelValues("table").Inc()
		return zone
	}
	if zone, ok := r.cache.get(address); ok && address != "" {
		if zone == "" {
			observability.TimezoneResolutions.WithLabelValues("fallback").Inc()
			return "UTC"
		}
		observability.TimezoneResolutions.WithLabelValues("cache").Inc()
		return zone
	}
	if fetch != nil {
		zone, err := fetch()
		if err == nil && validZone(zone) {
			if address != "" {
				r.cache.set(address, zone)
			}
			observability.TimezoneResolutions.WithLabelValues("lookup").Inc()
			return zone
		}
		if err != nil {
			degraded := &models.ExternalServiceDegraded{Service: "timezone_lookup", Err: err}
			observability.Degradations.WithLabelValues(degraded.Service).Inc()
			r.logger.Warn("timezone lookup failed, using UTC", "address_hash", addressDigest(address), "error", degraded)
		}
		// an aborted caller says nothing about the address
		if address != "" && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			r.cache.set(address, "")
		}
	}
	r.logger.Debug("timezone not resolved, using UTC", "address_hash", addressDigest(address))
	observability.TimezoneResolutions.WithLabelValues("fallback").Inc()
	return "UTC"
}

// Location is Resolve followed by time.LoadLocation.
func (r *Resolver) Location(ctx context.Context, address string) *time.Location {
	loc, err := time.LoadLocation(r.Resolve(ctx, address))
	if err != nil {
		return time.UTC
	}
	return loc
}

// ToUTC interprets the wall clock of local in the address's zone.
func (r *Resolver) ToUTC(ctx context.Context, local time.Time, address string) time.Time {
	return WallToUTC(local, r.Location(ctx, address))
}

// ToLocal is the inverse of ToUTC.
func (r *Resolver) ToLocal(ctx context.Context, utc time.Time, address string) time.Time {
	return utc.In(r.Location(ctx, address))
}

// WallToUTC reads the year..nanosecond fields of local, ignoring its own
// location, as a time in loc.
func WallToUTC(local time.Time, loc *time.Location) time.Time {
	y, mo, d := local.Date()
	h, mi, s := local.Clock()
	return time.Date(y, mo, d, h, mi, s, local.Nanosecond(), loc).UTC()
}

// FormatDisplay renders an instant as "15:04 MST" in loc.
func FormatDisplay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04 MST")
}

// addressDigest identifies an address in logs without recording it.
func addressDigest(address string) string {
	sum := sha256.Sum256([]byte(cacheKey(address)))
	return hex.EncodeToString(sum[:6])
}

func validZone(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
