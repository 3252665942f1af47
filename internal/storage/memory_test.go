package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-availability/internal/models"
)

func at(h int) time.Time { return time.Date(2025, 5, 20, h, 0, 0, 0, time.UTC) }

func TestMemoryAgendaVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Agenda(ctx, "d1")
	require.ErrorIs(t, err, ErrNotFound)

	a := &models.DriverAgenda{DriverID: "d1", Slots: []models.AvailabilitySlot{{Start: at(8), End: at(18), Status: models.SlotAvailable}}}
	require.NoError(t, m.SaveAgenda(ctx, a, 0))
	assert.Equal(t, int64(1), a.Version)

	// second create loses
	require.ErrorIs(t, m.SaveAgenda(ctx, &models.DriverAgenda{DriverID: "d1"}, 0), ErrVersionConflict)

	got, err := m.Agenda(ctx, "d1")
	require.NoError(t, err)
	got.Slots[0].Status = models.SlotOff
	again, _ := m.Agenda(ctx, "d1")
	assert.Equal(t, models.SlotAvailable, again.Slots[0].Status, "reads must not alias stored slots")

	require.NoError(t, m.SaveAgenda(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)
	require.ErrorIs(t, m.SaveAgenda(ctx, got, 1), ErrVersionConflict)
}

func TestMemoryReservationsInRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, r := range []models.Reservation{
		{ID: "r1", DriverID: "d1", VehicleID: "v1", PickupAt: at(9), DropoffEstimate: at(10), Status: models.ReservationConfirmed},
		{ID: "r2", DriverID: "d2", VehicleID: "v1", PickupAt: at(10), DropoffEstimate: at(11), Status: models.ReservationPending},
		{ID: "r3", DriverID: "d2", VehicleID: "v2", PickupAt: at(10), DropoffEstimate: at(11), Status: models.ReservationPending},
	} {
		r := r
		require.NoError(t, m.SaveReservation(ctx, &r))
	}

	got, err := m.ReservationsInRange(ctx, "d1", "v1", at(8), at(12))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)

	// touching ranges do not intersect
	got, err = m.ReservationsInRange(ctx, "d1", "", at(10), at(12))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryZonesAndVehicles(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.SaveZone(ctx, &models.FixedZone{ID: "b", Status: models.ZoneActive}))
	require.NoError(t, m.SaveZone(ctx, &models.FixedZone{ID: "a", Status: models.ZoneActive}))
	require.NoError(t, m.SaveZone(ctx, &models.FixedZone{ID: "c", Status: "inactive"}))

	zones, err := m.ActiveZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "a", zones[0].ID)

	_, err = m.Zone(ctx, "zz")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveVehicle(ctx, &models.Vehicle{ID: "v1", Available: true, RouteType: models.RouteFlexible}))
	require.NoError(t, m.SaveVehicle(ctx, &models.Vehicle{ID: "v2", Available: false, RouteType: models.RouteFlexible}))
	require.NoError(t, m.SaveVehicle(ctx, &models.Vehicle{ID: "v3", Available: true, RouteType: models.RouteFixedZone}))
	flex, err := m.FlexibleVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, flex, 1)
	assert.Equal(t, "v1", flex[0].ID)

	require.NoError(t, m.UpdateVehicleLocation(ctx, "v1", models.Coord{Lat: 1, Lon: 2}))
	v, err := m.Vehicle(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, v.Location)
	assert.ErrorIs(t, m.UpdateVehicleLocation(ctx, "nope", models.Coord{}), ErrNotFound)
}

func TestMemoryClaimAndReleaseExtraSchedule(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a := &models.DriverAgenda{DriverID: "d1"}
	require.NoError(t, m.SaveAgenda(ctx, a, 0))

	e := &models.ExtraScheduleSlot{ID: "x1", DriverID: "d1", Start: at(20), End: at(22), Status: models.ExtraActive}
	a.Slots = append(a.Slots, models.AvailabilitySlot{Start: e.Start, End: e.End, Status: models.SlotAvailable, Kind: models.SlotExtra, ExtraScheduleID: e.ID})

	// stale version: nothing is written
	require.ErrorIs(t, m.ClaimExtraSchedule(ctx, e, a, 5), ErrVersionConflict)
	_, err := m.ExtraSchedule(ctx, "x1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.ClaimExtraSchedule(ctx, e, a, 1))
	got, err := m.ExtraSchedulesForDriver(ctx, "d1", at(21), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	got, err = m.ExtraSchedulesForDriver(ctx, "d1", at(22), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)

	e.Status = models.ExtraCancelled
	a.Slots = nil
	require.NoError(t, m.ReleaseExtraSchedule(ctx, e, a, 2))
	stored, err := m.ExtraSchedule(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, models.ExtraCancelled, stored.Status)
	ag, _ := m.Agenda(ctx, "d1")
	assert.Empty(t, ag.Slots)
	assert.Equal(t, int64(3), ag.Version)
}
