// Package extraschedule lets admins open one-off working slots for a
// driver. Each slot is an auditable record plus an extra-kind slot
// projected into the driver's agenda; both are written in one conditional
// step so two overlapping claims cannot both succeed.
package extraschedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-availability/internal/agenda"
	"github.com/example/fleet-availability/internal/interval"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/notify"
	"github.com/example/fleet-availability/internal/observability"
	"github.com/example/fleet-availability/internal/storage"
)

const defaultRetries = 5

type Store interface {
	storage.AgendaStore
	storage.ExtraScheduleStore
}

type ConflictFinder interface {
	FindConflict(ctx context.Context, driverID, vehicleID string, start, end time.Time) (*models.Reservation, error)
}

type TimezoneResolver interface {
	Resolve(ctx context.Context, address string) string
}

// CreateRequest describes an extra slot in the driver's local time.
type CreateRequest struct {
	DriverID        string `json:"driver_id"`
	VehicleID       string `json:"vehicle_id,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	BookingID       string `json:"booking_id,omitempty"`
	RequestedBy     string `json:"requested_by"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Address         string `json:"address,omitempty"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes,omitempty"`
	PickupLocation  string `json:"pickup_location,omitempty"`
	DropoffLocation string `json:"dropoff_location,omitempty"`
}

type Options struct {
	Store     Store
	Conflicts ConflictFinder
	Resolver  TimezoneResolver
	Publisher notify.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
	Retries   int
}

type Manager struct {
	store     Store
	conflicts ConflictFinder
	resolver  TimezoneResolver
	pub       notify.Publisher
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
	retries   int
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		store:     opts.Store,
		conflicts: opts.Conflicts,
		resolver:  opts.Resolver,
		pub:       opts.Publisher,
		log:       opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		retries:   opts.Retries,
	}
	if m.pub == nil {
		m.pub = notify.Nop{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.retries <= 0 {
		m.retries = defaultRetries
	}
	return m
}

// window is a validated request interval.
type window struct {
	zone       string
	start, end time.Time
}

func (m *Manager) validate(ctx context.Context, req CreateRequest) (window, error) {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"driver_id", req.DriverID},
		{"date", req.Date},
		{"start_time", req.StartTime},
		{"end_time", req.EndTime},
		{"requested_by", req.RequestedBy},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return window{}, models.Invalid(strings.Join(missing, ","), "required")
	}
	day, err := agenda.ParseDate(req.Date)
	if err != nil {
		return window{}, models.Invalid("date", "%v", err)
	}
	zone := "UTC"
	if m.resolver != nil {
		zone = m.resolver.Resolve(ctx, req.Address)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		zone, loc = "UTC", time.UTC
	}
	start, err := agenda.At(day, req.StartTime, loc)
	if err != nil {
		return window{}, models.Invalid("start_time", "%v", err)
	}
	end, err := agenda.At(day, req.EndTime, loc)
	if err != nil {
		return window{}, models.Invalid("end_time", "%v", err)
	}
	if !start.Before(end) {
		return window{}, models.Invalid("end_time", "must be after start_time")
	}
	if start.Before(m.now()) {
		return window{}, models.Invalid("date", "extra schedule cannot start in the past")
	}
	return window{zone: zone, start: start.UTC(), end: end.UTC()}, nil
}

// findConflict runs every overlap test against a consistent agenda read.
func (m *Manager) findConflict(ctx context.Context, req CreateRequest, w window, a *models.DriverAgenda) error {
	r, err := m.conflicts.FindConflict(ctx, req.DriverID, req.VehicleID, w.start, w.end)
	if err != nil {
		return err
	}
	if r != nil {
		return &models.ConflictError{Kind: "reservation", ID: r.ID}
	}
	if a != nil {
		for _, sl := range a.Slots {
			if !interval.Overlaps(sl.Start, sl.End, w.start, w.end) {
				continue
			}
			switch {
			case sl.Kind == models.SlotExtra:
				return &models.ConflictError{Kind: "extra_schedule", ID: sl.ExtraScheduleID}
			case sl.Status == models.SlotBusy:
				return &models.ConflictError{Kind: "agenda_slot", ID: sl.Start.Format(time.RFC3339)}
			}
		}
	}
	extras, err := m.store.ExtraSchedulesForDriver(ctx, req.DriverID, w.start, w.end)
	if err != nil {
		return fmt.Errorf("extra schedules of %s: %w", req.DriverID, err)
	}
	for _, e := range extras {
		if e.Status == models.ExtraActive && interval.Overlaps(e.Start, e.End, w.start, w.end) {
			return &models.ConflictError{Kind: "extra_schedule", ID: e.ID}
		}
	}
	return nil
}

func (m *Manager) loadAgenda(ctx context.Context, driverID string) (*models.DriverAgenda, int64, error) {
	a, err := m.store.Agenda(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.DriverAgenda{DriverID: driverID}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load agenda %s: %w", driverID, err)
	}
	return a, a.Version, nil
}

// CheckConflicts is a dry run of Create: it returns the validation or
// conflict error Create would return, or nil.
func (m *Manager) CheckConflicts(ctx context.Context, req CreateRequest) error {
	w, err := m.validate(ctx, req)
	if err != nil {
		return err
	}
	a, _, err := m.loadAgenda(ctx, req.DriverID)
	if err != nil {
		return err
	}
	return m.findConflict(ctx, req, w, a)
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.ExtraScheduleSlot, error) {
	e, err := m.create(ctx, req)
	observability.ExtraSchedules.WithLabelValues("create", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	m.log.Info("extra schedule created",
		"id", e.ID, "driver_id", e.DriverID, "start", e.Start, "end", e.End, "requested_by", e.RequestedBy)
	m.publish(ctx, notify.EventExtraScheduleCreated, e)
	return e, nil
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (*models.ExtraScheduleSlot, error) {
	w, err := m.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	e := &models.ExtraScheduleSlot{
		ID:              m.newID(),
		DriverID:        req.DriverID,
		VehicleID:       req.VehicleID,
		ClientID:        req.ClientID,
		BookingID:       req.BookingID,
		RequestedBy:     req.RequestedBy,
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Start:           w.start,
		End:             w.end,
		Timezone:        w.zone,
		Reason:          req.Reason,
		Notes:           req.Notes,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
		Status:          models.ExtraActive,
	}
	for attempt := 0; attempt < m.retries; attempt++ {
		a, expected, err := m.loadAgenda(ctx, req.DriverID)
		if err != nil {
			return nil, err
		}
		if err := m.findConflict(ctx, req, w, a); err != nil {
			return nil, err
		}
		a.Slots = append(a.Slots, models.AvailabilitySlot{
			Start:           w.start,
			End:             w.end,
			Status:          models.SlotAvailable,
			Kind:            models.SlotExtra,
			ExtraScheduleID: e.ID,
		})
		e.CreatedAt = m.now().UTC()
		err = m.store.ClaimExtraSchedule(ctx, e, a, expected)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("claim extra schedule: %w", err)
		}
		m.log.Warn("agenda changed during extra schedule claim, re-checking", "driver_id", req.DriverID, "attempt", attempt+1)
	}
	return nil, &models.ConflictError{Kind: "agenda", ID: req.DriverID}
}

func (m *Manager) Cancel(ctx context.Context, id, actor, reason string) (*models.ExtraScheduleSlot, error) {
	e, err := m.cancel(ctx, id, actor, reason)
	observability.ExtraSchedules.WithLabelValues("cancel", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	m.log.Info("extra schedule cancelled", "id", e.ID, "driver_id", e.DriverID, "cancelled_by", actor)
	m.publish(ctx, notify.EventExtraScheduleCancelled, e)
	return e, nil
}

func (m *Manager) cancel(ctx context.Context, id, actor, reason string) (*models.ExtraScheduleSlot, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, models.Invalid("cancelled_by", "required")
	}
	for attempt := 0; attempt < m.retries; attempt++ {
		e, err := m.store.ExtraSchedule(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: "extra_schedule", ID: id}
		}
		if err != nil {
			return nil, fmt.Errorf("load extra schedule %s: %w", id, err)
		}
		if e.Status != models.ExtraActive {
			return nil, models.Invalid("status", "extra schedule %s is %s", id, e.Status)
		}
		a, expected, err := m.loadAgenda(ctx, e.DriverID)
		if err != nil {
			return nil, err
		}
		kept := a.Slots[:0]
		for _, sl := range a.Slots {
			if sl.ExtraScheduleID != id {
				kept = append(kept, sl)
			}
		}
		a.Slots = kept
		now := m.now().UTC()
		e.Status = models.ExtraCancelled
		e.CancelledAt = &now
		e.CancelledBy = actor
		e.CancellationReason = reason
		err = m.store.ReleaseExtraSchedule(ctx, e, a, expected)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: "extra_schedule", ID: id}
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("release extra schedule: %w", err)
		}
	}
	return nil, &models.ConflictError{Kind: "agenda", ID: id}
}

// List returns the active extra schedules of driverID intersecting
// [from, to). Zero bounds are open.
func (m *Manager) List(ctx context.Context, driverID string, from, to time.Time) ([]models.ExtraScheduleSlot, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, models.Invalid("driver_id", "required")
	}
	all, err := m.store.ExtraSchedulesForDriver(ctx, driverID, from, to)
	if err != nil {
		return nil, fmt.Errorf("extra schedules of %s: %w", driverID, err)
	}
	out := make([]models.ExtraScheduleSlot, 0, len(all))
	for _, e := range all {
		if e.Status == models.ExtraActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Manager) publish(ctx context.Context, kind string, e *models.ExtraScheduleSlot) {
	err := m.pub.Publish(ctx, notify.Event{Type: kind, At: m.now().UTC(), DriverID: e.DriverID, ExtraSchedule: e})
	if err != nil {
		observability.Degradations.WithLabelValues("notify").Inc()
		m.log.Warn("event publish failed", "type", kind, "id", e.ID, "err", err)
	}
}

func result(err error) string {
	var (
		ve *models.ValidationError
		ce *models.ConflictError
		nf *models.NotFoundError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &nf):
		return "not_found"
	}
	return "error"
}
