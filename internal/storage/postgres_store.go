package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/fleet-availability/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies every embedded migration in name order. Statements are
// idempotent so it is safe to run on every start.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

func (p *PostgresStore) Agenda(ctx context.Context, driverID string) (*models.DriverAgenda, error) {
	var (
		a     models.DriverAgenda
		slots []byte
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT driver_id, slots, version, created_at, updated_at FROM driver_agendas WHERE driver_id=$1`, driverID).
		Scan(&a.DriverID, &slots, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slots, &a.Slots); err != nil {
		return nil, fmt.Errorf("decode slots of %s: %w", driverID, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (p *PostgresStore) SaveAgenda(ctx context.Context, a *models.DriverAgenda, expected int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.saveAgendaTx(ctx, tx, a, expected); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) saveAgendaTx(ctx context.Context, tx *sql.Tx, a *models.DriverAgenda, expected int64) error {
	slots, err := json.Marshal(a.Slots)
	if err != nil {
		return err
	}
	now := p.now().UTC()
	var res sql.Result
	if expected == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO driver_agendas(driver_id, slots, version, created_at, updated_at) VALUES($1,$2,1,$3,$3)
			 ON CONFLICT (driver_id) DO NOTHING`,
			a.DriverID, slots, now)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE driver_agendas SET slots=$2, version=version+1, updated_at=$3 WHERE driver_id=$1 AND version=$4`,
			a.DriverID, slots, now, expected)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	if expected == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = expected + 1
	return nil
}

func (p *PostgresStore) ReservationsInRange(ctx context.Context, driverID, vehicleID string, from, to time.Time) ([]models.Reservation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, code, driver_id, vehicle_id, pickup_at, dropoff_estimate_at, status FROM reservations
		 WHERE (driver_id=$1 OR ($2 <> '' AND vehicle_id=$2)) AND pickup_at < $4 AND dropoff_estimate_at > $3
		 ORDER BY pickup_at`,
		driverID, vehicleID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.ID, &r.Code, &r.DriverID, &r.VehicleID, &r.PickupAt, &r.DropoffEstimate, &r.Status); err != nil {
			return nil, err
		}
		r.PickupAt = r.PickupAt.UTC()
		r.DropoffEstimate = r.DropoffEstimate.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveReservation(ctx context.Context, r *models.Reservation) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reservations(id, code, driver_id, vehicle_id, pickup_at, dropoff_estimate_at, status) VALUES($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, driver_id=EXCLUDED.driver_id, vehicle_id=EXCLUDED.vehicle_id,
		 pickup_at=EXCLUDED.pickup_at, dropoff_estimate_at=EXCLUDED.dropoff_estimate_at, status=EXCLUDED.status`,
		r.ID, r.Code, r.DriverID, r.VehicleID, r.PickupAt.UTC(), r.DropoffEstimate.UTC(), r.Status)
	return err
}

const zoneColumns = `id, name, center_lat, center_lon, radius_km, status, vehicles, pricing`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(s rowScanner) (*models.FixedZone, error) {
	var (
		z                 models.FixedZone
		vehicles, pricing []byte
	)
	if err := s.Scan(&z.ID, &z.Name, &z.Center.Lat, &z.Center.Lon, &z.RadiusKm, &z.Status, &vehicles, &pricing); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vehicles, &z.Vehicles); err != nil {
		return nil, fmt.Errorf("decode vehicles of zone %s: %w", z.ID, err)
	}
	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &z.Pricing); err != nil {
			return nil, fmt.Errorf("decode pricing of zone %s: %w", z.ID, err)
		}
	}
	return &z, nil
}

func (p *PostgresStore) Zone(ctx context.Context, id string) (*models.FixedZone, error) {
	z, err := scanZone(p.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM fixed_zones WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return z, err
}

func (p *PostgresStore) ActiveZones(ctx context.Context) ([]models.FixedZone, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+zoneColumns+` FROM fixed_zones WHERE status=$1 ORDER BY id`, models.ZoneActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FixedZone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *z)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveZone(ctx context.Context, z *models.FixedZone) error {
	vehicles, err := json.Marshal(z.Vehicles)
	if err != nil {
		return err
	}
	pricing, err := json.Marshal(z.Pricing)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO fixed_zones(`+zoneColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, center_lat=EXCLUDED.center_lat, center_lon=EXCLUDED.center_lon,
		 radius_km=EXCLUDED.radius_km, status=EXCLUDED.status, vehicles=EXCLUDED.vehicles, pricing=EXCLUDED.pricing`,
		z.ID, z.Name, z.Center.Lat, z.Center.Lon, z.RadiusKm, z.Status, vehicles, pricing)
	return err
}

const vehicleColumns = `id, name, license_plate, lat, lon, radius_km, driver_ids, pricing, available, route_type`

func scanVehicle(s rowScanner) (*models.Vehicle, error) {
	var (
		v                models.Vehicle
		drivers, pricing []byte
	)
	if err := s.Scan(&v.ID, &v.Name, &v.LicensePlate, &v.Location.Lat, &v.Location.Lon, &v.RadiusKm,
		&drivers, &pricing, &v.Available, &v.RouteType); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(drivers, &v.DriverIDs); err != nil {
		return nil, fmt.Errorf("decode drivers of vehicle %s: %w", v.ID, err)
	}
	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &v.Pricing); err != nil {
			return nil, fmt.Errorf("decode pricing of vehicle %s: %w", v.ID, err)
		}
	}
	return &v, nil
}

func (p *PostgresStore) Vehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (p *PostgresStore) FlexibleVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE available AND route_type=$1 ORDER BY id`, models.RouteFlexible)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	drivers, err := json.Marshal(v.DriverIDs)
	if err != nil {
		return err
	}
	if v.DriverIDs == nil {
		drivers = []byte("[]")
	}
	pricing, err := json.Marshal(v.Pricing)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO vehicles(`+vehicleColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, license_plate=EXCLUDED.license_plate, lat=EXCLUDED.lat,
		 lon=EXCLUDED.lon, radius_km=EXCLUDED.radius_km, driver_ids=EXCLUDED.driver_ids, pricing=EXCLUDED.pricing,
		 available=EXCLUDED.available, route_type=EXCLUDED.route_type`,
		v.ID, v.Name, v.LicensePlate, v.Location.Lat, v.Location.Lon, v.RadiusKm, drivers, pricing, v.Available, v.RouteType)
	return err
}

func (p *PostgresStore) UpdateVehicleLocation(ctx context.Context, id string, loc models.Coord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE vehicles SET lat=$2, lon=$3 WHERE id=$1`, id, loc.Lat, loc.Lon)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const extraColumns = `id, driver_id, vehicle_id, client_id, booking_id, requested_by, date, start_time, end_time,
	start_at, end_at, timezone, reason, notes, pickup_location, dropoff_location, status, created_at,
	cancelled_at, cancelled_by, cancellation_reason`

func scanExtra(s rowScanner) (*models.ExtraScheduleSlot, error) {
	var (
		e           models.ExtraScheduleSlot
		cancelledAt sql.NullTime
	)
	if err := s.Scan(&e.ID, &e.DriverID, &e.VehicleID, &e.ClientID, &e.BookingID, &e.RequestedBy, &e.Date,
		&e.StartTime, &e.EndTime, &e.Start, &e.End, &e.Timezone, &e.Reason, &e.Notes, &e.PickupLocation,
		&e.DropoffLocation, &e.Status, &e.CreatedAt, &cancelledAt, &e.CancelledBy, &e.CancellationReason); err != nil {
		return nil, err
	}
	e.Start, e.End, e.CreatedAt = e.Start.UTC(), e.End.UTC(), e.CreatedAt.UTC()
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		e.CancelledAt = &t
	}
	return &e, nil
}

func (p *PostgresStore) ExtraSchedule(ctx context.Context, id string) (*models.ExtraScheduleSlot, error) {
	e, err := scanExtra(p.db.QueryRowContext(ctx, `SELECT `+extraColumns+` FROM extra_schedules WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) ExtraSchedulesForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.ExtraScheduleSlot, error) {
	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from.UTC()
	}
	if !to.IsZero() {
		toArg = to.UTC()
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+extraColumns+` FROM extra_schedules
		 WHERE driver_id=$1 AND ($2::timestamptz IS NULL OR end_at > $2) AND ($3::timestamptz IS NULL OR start_at < $3)
		 ORDER BY start_at`,
		driverID, fromArg, toArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExtraScheduleSlot
	for rows.Next() {
		e, err := scanExtra(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ClaimExtraSchedule(ctx context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.saveAgendaTx(ctx, tx, agenda, expected); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO extra_schedules(`+extraColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		e.ID, e.DriverID, e.VehicleID, e.ClientID, e.BookingID, e.RequestedBy, e.Date, e.StartTime, e.EndTime,
		e.Start.UTC(), e.End.UTC(), e.Timezone, e.Reason, e.Notes, e.PickupLocation, e.DropoffLocation,
		e.Status, e.CreatedAt.UTC(), e.CancelledAt, e.CancelledBy, e.CancellationReason)
	if err != nil {
		return fmt.Errorf("insert extra schedule: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) ReleaseExtraSchedule(ctx context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`UPDATE extra_schedules SET status=$2, cancelled_at=$3, cancelled_by=$4, cancellation_reason=$5 WHERE id=$1`,
		e.ID, e.Status, e.CancelledAt, e.CancelledBy, e.CancellationReason)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if err := p.saveAgendaTx(ctx, tx, agenda, expected); err != nil {
		return err
	}
	return tx.Commit()
}
