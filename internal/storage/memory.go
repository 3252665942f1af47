package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/fleet-availability/internal/interval"
	"github.com/example/fleet-availability/internal/models"
)

// MemoryStore keeps every collection in maps guarded by one mutex, so the
// conditional agenda writes are atomic with the extra-schedule inserts.
type MemoryStore struct {
	mu           sync.RWMutex
	agendas      map[string]models.DriverAgenda
	reservations map[string]models.Reservation
	zones        map[string]models.FixedZone
	vehicles     map[string]models.Vehicle
	extras       map[string]models.ExtraScheduleSlot
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agendas:      make(map[string]models.DriverAgenda),
		reservations: make(map[string]models.Reservation),
		zones:        make(map[string]models.FixedZone),
		vehicles:     make(map[string]models.Vehicle),
		extras:       make(map[string]models.ExtraScheduleSlot),
		now:          time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Agenda(_ context.Context, driverID string) (*models.DriverAgenda, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agendas[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgenda(a), nil
}

func (m *MemoryStore) SaveAgenda(_ context.Context, a *models.DriverAgenda, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAgendaLocked(a, expected)
}

func (m *MemoryStore) saveAgendaLocked(a *models.DriverAgenda, expected int64) error {
	cur, ok := m.agendas[a.DriverID]
	switch {
	case expected == 0 && ok:
		return ErrVersionConflict
	case expected != 0 && (!ok || cur.Version != expected):
		return ErrVersionConflict
	}
	now := m.now().UTC()
	if !ok {
		a.CreatedAt = now
	} else {
		a.CreatedAt = cur.CreatedAt
	}
	a.UpdatedAt = now
	a.Version = expected + 1
	m.agendas[a.DriverID] = *cloneAgenda(*a)
	return nil
}

func (m *MemoryStore) ReservationsInRange(_ context.Context, driverID, vehicleID string, from, to time.Time) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.DriverID != driverID && (vehicleID == "" || r.VehicleID != vehicleID) {
			continue
		}
		if !interval.Overlaps(r.PickupAt, r.DropoffEstimate, from, to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PickupAt.Before(out[j].PickupAt) })
	return out, nil
}

func (m *MemoryStore) SaveReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = *r
	return nil
}

func (m *MemoryStore) Zone(_ context.Context, id string) (*models.FixedZone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &z, nil
}

func (m *MemoryStore) ActiveZones(_ context.Context) ([]models.FixedZone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FixedZone, 0, len(m.zones))
	for _, z := range m.zones {
		if z.Status == models.ZoneActive {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveZone(_ context.Context, z *models.FixedZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[z.ID] = *z
	return nil
}

func (m *MemoryStore) Vehicle(_ context.Context, id string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) FlexibleVehicles(_ context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		if v.Available && v.RouteType == models.RouteFlexible {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = *v
	return nil
}

func (m *MemoryStore) UpdateVehicleLocation(_ context.Context, id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	v.Location = loc
	m.vehicles[id] = v
	return nil
}

func (m *MemoryStore) ExtraSchedule(_ context.Context, id string) (*models.ExtraScheduleSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.extras[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) ExtraSchedulesForDriver(_ context.Context, driverID string, from, to time.Time) ([]models.ExtraScheduleSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExtraScheduleSlot
	for _, e := range m.extras {
		if e.DriverID != driverID {
			continue
		}
		if !from.IsZero() && !e.End.After(from) {
			continue
		}
		if !to.IsZero() && !e.Start.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryStore) ClaimExtraSchedule(_ context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveAgendaLocked(agenda, expected); err != nil {
		return err
	}
	m.extras[e.ID] = *e
	return nil
}

func (m *MemoryStore) ReleaseExtraSchedule(_ context.Context, e *models.ExtraScheduleSlot, agenda *models.DriverAgenda, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.extras[e.ID]; !ok {
		return ErrNotFound
	}
	if err := m.saveAgendaLocked(agenda, expected); err != nil {
		return err
	}
	m.extras[e.ID] = *e
	return nil
}

func cloneAgenda(a models.DriverAgenda) *models.DriverAgenda {
	out := a
	out.Slots = make([]models.AvailabilitySlot, len(a.Slots))
	for i, s := range a.Slots {
		s.TimeSlots = append([]models.TimeRange(nil), s.TimeSlots...)
		out.Slots[i] = s
	}
	return &out
}
