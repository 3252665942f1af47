// Package availability answers whether a pickup at a place and local time
// can be served, and explains every candidate that cannot.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/fleet-availability/internal/agenda"
	"github.com/example/fleet-availability/internal/locator"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/observability"
	"github.com/example/fleet-availability/internal/storage"
	"github.com/example/fleet-availability/internal/tz"
)

const DefaultFlexibleRadiusKm = 10.0

const localLayout = "2006-01-02T15:04:05"

type Finder interface {
	FindFixedZones(ctx context.Context, c models.Coord) ([]locator.ZoneMatch, error)
	FindFlexibleVehicles(ctx context.Context, c models.Coord, searchRadiusKm float64) ([]locator.VehicleMatch, error)
}

type ConflictFinder interface {
	FindConflict(ctx context.Context, driverID, vehicleID string, start, end time.Time) (*models.Reservation, error)
}

type TimezoneResolver interface {
	Resolve(ctx context.Context, address string) string
}

// coordResolver is implemented by resolvers that can place a known
// coordinate without geocoding the address again.
type coordResolver interface {
	ResolveAt(ctx context.Context, address string, c models.Coord) string
}

// WindowLister computes a driver's daily windows from a loaded agenda.
type WindowLister interface {
	Windows(a *models.DriverAgenda, day time.Time, loc *time.Location) []models.TimeWindow
}

type Options struct {
	Finder    Finder
	Agendas   storage.AgendaStore
	Conflicts ConflictFinder
	Resolver  TimezoneResolver
	Windows   WindowLister
	// Geocoder fills in coordinates for address-only requests. Optional.
	Geocoder         tz.Geocoder
	FlexibleRadiusKm float64
	Logger           *slog.Logger
}

type Service struct {
	finder    Finder
	agendas   storage.AgendaStore
	conflicts ConflictFinder
	resolver  TimezoneResolver
	windows   WindowLister
	geocoder  tz.Geocoder
	radiusKm  float64
	log       *slog.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		finder:    opts.Finder,
		agendas:   opts.Agendas,
		conflicts: opts.Conflicts,
		resolver:  opts.Resolver,
		windows:   opts.Windows,
		geocoder:  opts.Geocoder,
		radiusKm:  opts.FlexibleRadiusKm,
		log:       opts.Logger,
	}
	if s.radiusKm <= 0 {
		s.radiusKm = DefaultFlexibleRadiusKm
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// candidate is one vehicle/driver pair under evaluation.
type candidate struct {
	vehicleID  string
	driverID   string
	source     models.RouteType
	zoneID     string
	zoneName   string
	distanceKm float64
	pricing    models.Pricing
}

// verdict is the outcome of evaluating one candidate.
type verdict struct {
	ok           bool
	reason       models.UnavailableReason
	conflictWith string
	agenda       *models.DriverAgenda
}

// request is a validated AvailabilityRequest with its UTC interval.
type request struct {
	coord    models.Coord
	zone     string
	loc      *time.Location
	start    time.Time
	end      time.Time
	duration int
}

func (s *Service) Check(ctx context.Context, in models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	began := time.Now()
	defer func() { observability.CheckLatency.Observe(time.Since(began).Seconds()) }()

	req, err := s.prepare(ctx, in)
	if err != nil {
		observability.AvailabilityChecks.WithLabelValues("invalid").Inc()
		return nil, err
	}

	res := &models.AvailabilityResult{
		Address:         in.Address,
		Coordinates:     req.coord,
		Timezone:        req.zone,
		PickupLocal:     req.start.In(req.loc).Format(localLayout),
		PickupUTC:       req.start,
		DurationMinutes: req.duration,
		Available:       []models.AvailableVehicle{},
	}

	fixed, err := s.fixedCandidates(ctx, req.coord)
	if err != nil {
		observability.AvailabilityChecks.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(fixed) > 0 {
		observability.Candidates.WithLabelValues(string(models.RouteFixedZone)).Add(float64(len(fixed)))
		for _, c := range fixed {
			v := s.evaluate(ctx, c, req)
			if v.ok {
				s.accept(res, c, req)
				continue
			}
			s.reject(res, c, v, req)
		}
	} else {
		// flexible search only runs when no fixed zone has a roster entry
		if err := s.evaluateFlexible(ctx, res, req); err != nil {
			observability.AvailabilityChecks.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	sort.SliceStable(res.Available, func(i, j int) bool {
		a, b := res.Available[i], res.Available[j]
		if a.AvailabilityType != b.AvailabilityType {
			return a.AvailabilityType == models.RouteFixedZone
		}
		if a.AvailabilityType == models.RouteFlexible {
			return a.DistanceKm < b.DistanceKm
		}
		return false
	})
	sort.SliceStable(res.Alternatives, func(i, j int) bool {
		return res.Alternatives[i].AvailabilityType == models.RouteFixedZone &&
			res.Alternatives[j].AvailabilityType != models.RouteFixedZone
	})

	for _, a := range res.Available {
		if a.AvailabilityType == models.RouteFixedZone {
			res.FixedZoneCount++
		} else {
			res.FlexibleRouteCount++
		}
	}
	res.TotalFound = len(res.Available)
	res.AlternativeCount = len(res.Alternatives)

	outcome := "unavailable"
	if res.TotalFound > 0 {
		outcome = "available"
	}
	observability.AvailabilityChecks.WithLabelValues(outcome).Inc()
	s.log.Info("availability checked",
		"timezone", req.zone,
		"pickup_utc", req.start,
		"available", res.TotalFound,
		"alternatives", res.AlternativeCount)
	return res, nil
}

func (s *Service) prepare(ctx context.Context, in models.AvailabilityRequest) (request, error) {
	if in.DurationMinutes <= 0 {
		return request{}, models.Invalid("estimated_duration", "must be a positive number of minutes")
	}
	if in.PickupLocal.IsZero() {
		return request{}, models.Invalid("pickup_date", "required")
	}
	var coord models.Coord
	switch {
	case in.Coordinates != nil:
		coord = *in.Coordinates
	case s.geocoder != nil && strings.TrimSpace(in.Address) != "":
		c, err := s.geocoder.Geocode(ctx, in.Address)
		if err != nil {
			observability.Degradations.WithLabelValues("geocoder").Inc()
			s.log.Warn("geocoding failed", "err", &models.ExternalServiceDegraded{Service: "geocoder", Err: err})
			return request{}, models.Invalid("coordinates", "could not geocode address %q", in.Address)
		}
		coord = c
	default:
		return request{}, models.Invalid("coordinates", "required")
	}
	if !coord.Valid() {
		return request{}, models.Invalid("coordinates", "lat/lon out of range: %v,%v", coord.Lat, coord.Lon)
	}

	zone := "UTC"
	if cr, ok := s.resolver.(coordResolver); ok {
		zone = cr.ResolveAt(ctx, in.Address, coord)
	} else if s.resolver != nil {
		zone = s.resolver.Resolve(ctx, in.Address)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		zone, loc = "UTC", time.UTC
	}
	start := tz.WallToUTC(in.PickupLocal, loc)
	return request{
		coord:    coord,
		zone:     zone,
		loc:      loc,
		start:    start,
		end:      start.Add(time.Duration(in.DurationMinutes) * time.Minute),
		duration: in.DurationMinutes,
	}, nil
}

// fixedCandidates flattens the rosters of every zone containing c. A pair
// listed by several overlapping zones is kept once, under the nearest zone.
func (s *Service) fixedCandidates(ctx context.Context, c models.Coord) ([]candidate, error) {
	zones, err := s.finder.FindFixedZones(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("find fixed zones: %w", err)
	}
	seen := make(map[[2]string]bool)
	var out []candidate
	for _, m := range zones {
		for _, zv := range m.Zone.Vehicles {
			if zv.VehicleID == "" || zv.DriverID == "" {
				continue
			}
			k := [2]string{zv.VehicleID, zv.DriverID}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, candidate{
				vehicleID:  zv.VehicleID,
				driverID:   zv.DriverID,
				source:     models.RouteFixedZone,
				zoneID:     m.Zone.ID,
				zoneName:   m.Zone.Name,
				distanceKm: m.DistanceKm,
				pricing:    m.Zone.Pricing,
			})
		}
	}
	return out, nil
}

// evaluateFlexible tries each nearby vehicle's drivers in order and books
// the first free one. Vehicles with no free driver yield one alternative
// per evaluated driver.
func (s *Service) evaluateFlexible(ctx context.Context, res *models.AvailabilityResult, req request) error {
	vehicles, err := s.finder.FindFlexibleVehicles(ctx, req.coord, s.radiusKm)
	if err != nil {
		return fmt.Errorf("find flexible vehicles: %w", err)
	}
	for _, m := range vehicles {
		var (
			rejected []candidate
			verdicts []verdict
			booked   bool
		)
		for _, driverID := range m.Vehicle.DriverIDs {
			if driverID == "" {
				continue
			}
			observability.Candidates.WithLabelValues(string(models.RouteFlexible)).Inc()
			c := candidate{
				vehicleID:  m.Vehicle.ID,
				driverID:   driverID,
				source:     models.RouteFlexible,
				distanceKm: m.DistanceKm,
				pricing:    m.Vehicle.Pricing,
			}
			v := s.evaluate(ctx, c, req)
			if v.ok {
				s.accept(res, c, req)
				booked = true
				break
			}
			rejected = append(rejected, c)
			verdicts = append(verdicts, v)
		}
		if booked {
			continue
		}
		for i, c := range rejected {
			s.reject(res, c, verdicts[i], req)
		}
	}
	return nil
}

// evaluate runs the containment and conflict tests for one pair. A
// conflict wins over outside_working_hours when both apply.
func (s *Service) evaluate(ctx context.Context, c candidate, req request) verdict {
	var v verdict
	a, err := s.agendas.Agenda(ctx, c.driverID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		observability.Degradations.WithLabelValues("agenda_store").Inc()
		s.log.Warn("agenda read failed, treating driver as off", "driver_id", c.driverID, "err", err)
	default:
		v.agenda = a
	}
	contained := agenda.Covers(v.agenda, req.start, req.end)

	r, err := s.conflicts.FindConflict(ctx, c.driverID, c.vehicleID, req.start, req.end)
	if err != nil {
		observability.Degradations.WithLabelValues("reservation_store").Inc()
		s.log.Warn("conflict check failed, treating pair as busy",
			"driver_id", c.driverID, "vehicle_id", c.vehicleID, "err", err)
		v.reason = models.ReasonConflict
		return v
	}
	if r != nil {
		v.reason = models.ReasonConflict
		v.conflictWith = r.ID
		return v
	}
	if !contained {
		v.reason = models.ReasonOutsideWorkingHours
		return v
	}
	v.ok = true
	return v
}

func (s *Service) base(c candidate, req request) models.AvailableVehicle {
	return models.AvailableVehicle{
		VehicleID:        c.vehicleID,
		DriverID:         c.driverID,
		AvailabilityType: c.source,
		ZoneID:           c.zoneID,
		ZoneName:         c.zoneName,
		DistanceKm:       c.distanceKm,
		Pricing:          c.pricing,
		DurationMinutes:  req.duration,
		EstimatedEnd:     req.end.In(req.loc).Format("15:04"),
	}
}

func (s *Service) accept(res *models.AvailabilityResult, c candidate, req request) {
	for _, a := range res.Available {
		if a.VehicleID == c.vehicleID {
			return
		}
	}
	res.Available = append(res.Available, s.base(c, req))
}

func (s *Service) reject(res *models.AvailabilityResult, c candidate, v verdict, req request) {
	observability.Alternatives.WithLabelValues(string(v.reason)).Inc()
	alt := models.AlternativeVehicle{
		AvailableVehicle: s.base(c, req),
		Reason:           v.reason,
		ConflictWith:     v.conflictWith,
		DailySlots:       []models.TimeWindow{},
	}
	if s.windows != nil {
		alt.DailySlots = s.windows.Windows(v.agenda, req.start.In(req.loc), req.loc)
	}
	if next, ok := agenda.NextStart(alt.DailySlots, req.start); ok {
		alt.NextAvailable = &next
	} else {
		alt.NextDay = true
	}
	res.Alternatives = append(res.Alternatives, alt)
}
