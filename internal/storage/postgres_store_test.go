package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/fleet-availability/internal/models"
)

// startPostgres runs a throwaway Postgres and returns a migrated store.
func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fleet",
				"POSTGRES_PASSWORD": "fleet",
				"POSTGRES_DB":       "fleet",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://fleet:fleet@%s:%s/fleet?sslmode=disable", host, port.Port())
	var store *PostgresStore
	for i := 0; i < 10; i++ {
		if store, err = NewPostgresStore(dsn); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return store
}

func TestPostgresStoreIntegration(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()

	a := &models.DriverAgenda{DriverID: "d1", Slots: []models.AvailabilitySlot{{Start: at(8), End: at(18), Status: models.SlotAvailable}}}
	require.NoError(t, p.SaveAgenda(ctx, a, 0))
	require.ErrorIs(t, p.SaveAgenda(ctx, a, 0), ErrVersionConflict)
	got, err := p.Agenda(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Slots, 1)
	assert.True(t, got.Slots[0].Start.Equal(at(8)))

	require.NoError(t, p.SaveReservation(ctx, &models.Reservation{ID: "r1", DriverID: "d1", VehicleID: "v1",
		PickupAt: at(9), DropoffEstimate: at(10), Status: models.ReservationConfirmed}))
	res, err := p.ReservationsInRange(ctx, "other", "v1", at(9), at(11))
	require.NoError(t, err)
	require.Len(t, res, 1)
	res, err = p.ReservationsInRange(ctx, "other", "", at(9), at(11))
	require.NoError(t, err)
	assert.Empty(t, res)

	zone := &models.FixedZone{ID: "z1", Name: "Centro", Center: models.Coord{Lat: 19.43, Lon: -99.13}, RadiusKm: 5,
		Status: models.ZoneActive, Vehicles: []models.ZoneVehicle{{VehicleID: "v1", DriverID: "d1"}}, Pricing: models.Pricing{"base": 10.0}}
	require.NoError(t, p.SaveZone(ctx, zone))
	zones, err := p.ActiveZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, zone.Vehicles, zones[0].Vehicles)
	assert.Equal(t, 10.0, zones[0].Pricing["base"])

	require.NoError(t, p.SaveVehicle(ctx, &models.Vehicle{ID: "v9", Name: "Van", DriverIDs: []string{"d1"},
		Available: true, RouteType: models.RouteFlexible}))
	require.NoError(t, p.UpdateVehicleLocation(ctx, "v9", models.Coord{Lat: 1, Lon: 2}))
	flex, err := p.FlexibleVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, flex, 1)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, flex[0].Location)

	e := &models.ExtraScheduleSlot{ID: "x1", DriverID: "d1", RequestedBy: "admin", Date: "2025-05-20",
		StartTime: "20:00", EndTime: "22:00", Start: at(20), End: at(22), Timezone: "UTC",
		Status: models.ExtraActive, CreatedAt: at(7)}
	got.Slots = append(got.Slots, models.AvailabilitySlot{Start: e.Start, End: e.End, Status: models.SlotAvailable,
		Kind: models.SlotExtra, ExtraScheduleID: e.ID})
	require.ErrorIs(t, p.ClaimExtraSchedule(ctx, e, got, 7), ErrVersionConflict)
	require.NoError(t, p.ClaimExtraSchedule(ctx, e, got, 1))

	list, err := p.ExtraSchedulesForDriver(ctx, "d1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].CancelledAt)

	now := at(12)
	e.Status, e.CancelledAt, e.CancelledBy = models.ExtraCancelled, &now, "admin"
	got.Slots = got.Slots[:1]
	require.NoError(t, p.ReleaseExtraSchedule(ctx, e, got, 2))
	stored, err := p.ExtraSchedule(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, models.ExtraCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
}
