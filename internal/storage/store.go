package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/fleet-availability/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by conditional writes when the stored
	// agenda version no longer matches the one the caller read.
	ErrVersionConflict = errors.New("agenda version conflict")
)

type AgendaStore interface {
	Agenda(ctx context.Context, driverID string) (*models.DriverAgenda, error)
	// SaveAgenda writes a only if the stored version equals expected
	// (0 means the agenda must not exist yet). On success a.Version is
	// expected+1.
	SaveAgenda(ctx context.Context, a *models.DriverAgenda, expected int64) error
}

type ReservationStore interface {
	// ReservationsInRange returns reservations of driverID or vehicleID
	// whose [pickup, dropoff) intersects [from, to), in any status.
	ReservationsInRange(ctx context.Context, driverID, vehicleID string, from, to time.Time) ([]models.Reservation, error)
	SaveReservation(ctx context.Context, r *models.Reservation) error
}

type ZoneStore interface {
	Zone(ctx context.Context, id string) (*models.FixedZone, error)
	ActiveZones(ctx context.Context) ([]models.FixedZone, error)
	SaveZone(ctx context.Context, z *models.FixedZone) error
}

type VehicleStore interface {
	Vehicle(ctx context.Context, id string) (*models.Vehicle, error)
	FlexibleVehicles(ctx context.Context) ([]models.Vehicle, error)
	SaveVehicle(ctx context.Context, v *models.Vehicle) error
	UpdateVehicleLocation(ctx context.Context, id string, loc models.Coord) error
}

type ExtraScheduleStore interface {
	ExtraSchedule(ctx context.Context, id string) (*models.ExtraScheduleSlot, error)
	// ExtraSchedulesForDriver lists records of any status whose interval
	// intersects [from, to). Zero bounds are open.
	ExtraSchedulesForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.ExtraScheduleSlot, error)
	// ClaimExtraSchedule inserts e and saves agenda in one step; the agenda
	// write is conditional on expected like SaveAgenda.
	ClaimExtraSchedule(ctx context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error
	// ReleaseExtraSchedule persists the cancelled e and saves agenda in one
	// step, conditional on expected.
	ReleaseExtraSchedule(ctx context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error
}

// Store is everything the engine persists.
type Store interface {
	AgendaStore
	ReservationStore
	ZoneStore
	VehicleStore
	ExtraScheduleStore
	Close() error
}
