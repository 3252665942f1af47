package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fleet-availability/internal/interval"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
)

// Checker finds blocking reservations of a driver or a vehicle.
type Checker struct {
	Store storage.ReservationStore
}

func NewChecker(store storage.ReservationStore) *Checker {
	return &Checker{Store: store}
}

// FindConflict returns the earliest blocking reservation of driverID or
// vehicleID overlapping [start, end), or nil.
func (c *Checker) FindConflict(ctx context.Context, driverID, vehicleID string, start, end time.Time) (*models.Reservation, error) {
	rs, err := c.Store.ReservationsInRange(ctx, driverID, vehicleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("reservations of driver %s: %w", driverID, err)
	}
	var found *models.Reservation
	for i := range rs {
		r := &rs[i]
		if !r.Status.Blocking() {
			continue
		}
		if r.DriverID != driverID && (vehicleID == "" || r.VehicleID != vehicleID) {
			continue
		}
		// the store only pre-filters by range
		if !interval.Overlaps(r.PickupAt, r.DropoffEstimate, start, end) {
			continue
		}
		if found == nil || r.PickupAt.Before(found.PickupAt) {
			found = r
		}
	}
	return found, nil
}

func (c *Checker) HasConflict(ctx context.Context, driverID, vehicleID string, start, end time.Time) (bool, error) {
	r, err := c.FindConflict(ctx, driverID, vehicleID, start, end)
	return r != nil, err
}
