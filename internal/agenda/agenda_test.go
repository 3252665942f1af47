package agenda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
)

type fixedZone struct{ loc *time.Location }

func (f fixedZone) Location(context.Context, string) *time.Location { return f.loc }

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func newService(store storage.AgendaStore, loc *time.Location, policy WindowPolicy) *Service {
	return NewService(Options{Store: store, Resolver: fixedZone{loc}, Windows: policy})
}

func TestUpsertValidates(t *testing.T) {
	s := newService(storage.NewMemoryStore(), time.UTC, WindowPolicy{})
	ctx := context.Background()

	cases := map[string][]SlotInput{
		"missing status": {{StartDate: "2025-05-24T08:00:00Z", EndDate: "2025-05-24T12:00:00Z"}},
		"bad status":     {{StartDate: "2025-05-24T08:00:00Z", EndDate: "2025-05-24T12:00:00Z", Status: "maybe"}},
		"bad date":       {{StartDate: "24/05/2025", EndDate: "2025-05-24T12:00:00Z", Status: "available"}},
		"end before":     {{StartDate: "2025-05-24T12:00:00Z", EndDate: "2025-05-24T08:00:00Z", Status: "available"}},
		"bad time slot": {{StartDate: "2025-05-24T08:00:00Z", EndDate: "2025-05-24T12:00:00Z", Status: "available",
			TimeSlots: []models.TimeRange{{StartTime: "11:00", EndTime: "09:00"}}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Upsert(ctx, "d1", in)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}

	_, err := s.Upsert(ctx, " ", nil)
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUpsertParsesToUTCAndKeepsExtraSlots(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store, time.UTC, WindowPolicy{})
	ctx := context.Background()

	extra := models.AvailabilitySlot{
		Start: time.Date(2025, 5, 24, 20, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 24, 22, 0, 0, 0, time.UTC),
		Status: models.SlotAvailable, Kind: models.SlotExtra, ExtraScheduleID: "x1",
	}
	require.NoError(t, store.SaveAgenda(ctx, &models.DriverAgenda{DriverID: "d1", Slots: []models.AvailabilitySlot{extra}}, 0))

	a, err := s.Upsert(ctx, "d1", []SlotInput{
		{StartDate: "2025-05-24T08:00:00-06:00", EndDate: "2025-05-24 20:00", Status: "AVAILABLE"},
	})
	require.NoError(t, err)
	require.Len(t, a.Slots, 2)
	assert.Equal(t, time.Date(2025, 5, 24, 14, 0, 0, 0, time.UTC), a.Slots[0].Start)
	assert.Equal(t, time.Date(2025, 5, 24, 20, 0, 0, 0, time.UTC), a.Slots[0].End)
	assert.Equal(t, models.SlotAvailable, a.Slots[0].Status)
	assert.Equal(t, "x1", a.Slots[1].ExtraScheduleID)
	assert.Equal(t, int64(2), a.Version)
	assert.False(t, a.UpdatedAt.IsZero())
}

// racingStore loses the first conditional write.
type racingStore struct {
	*storage.MemoryStore
	lost bool
}

func (r *racingStore) SaveAgenda(ctx context.Context, a *models.DriverAgenda, expected int64) error {
	if !r.lost {
		r.lost = true
		return storage.ErrVersionConflict
	}
	return r.MemoryStore.SaveAgenda(ctx, a, expected)
}

func TestUpsertRetriesOnVersionConflict(t *testing.T) {
	store := &racingStore{MemoryStore: storage.NewMemoryStore()}
	s := newService(store, time.UTC, WindowPolicy{})
	a, err := s.Upsert(context.Background(), "d1", []SlotInput{
		{StartDate: "2025-05-24T08:00:00Z", EndDate: "2025-05-24T12:00:00Z", Status: "available"},
	})
	require.NoError(t, err)
	assert.True(t, store.lost)
	assert.Len(t, a.Slots, 1)
}

func TestGetUnknownDriver(t *testing.T) {
	s := newService(storage.NewMemoryStore(), time.UTC, WindowPolicy{})
	_, err := s.Get(context.Background(), "ghost")
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.ID)
}

func TestCovers(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2025, 5, 24, h, 0, 0, 0, time.UTC) }
	a := &models.DriverAgenda{Slots: []models.AvailabilitySlot{
		{Start: day(8), End: day(12), Status: models.SlotAvailable},
		{Start: day(9), End: day(10), Status: models.SlotBusy},
		{Start: day(14), End: day(18), Status: models.SlotOff},
	}}
	assert.True(t, Covers(a, day(9), day(10)))
	assert.True(t, Covers(a, day(8), day(12)), "bounds are inclusive")
	assert.False(t, Covers(a, day(11), day(13)))
	assert.False(t, Covers(a, day(15), day(16)), "off slots never cover")
	assert.False(t, Covers(nil, day(9), day(10)))
}

func TestDailySlotsSlotBounds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	mx := mustLoc(t, "America/Mexico_City")
	s := newService(store, mx, WindowPolicy{})

	// 08:00-12:00 and 19:00-02:00 (next day) local
	require.NoError(t, store.SaveAgenda(ctx, &models.DriverAgenda{DriverID: "d1", Slots: []models.AvailabilitySlot{
		{Start: time.Date(2025, 5, 25, 1, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 25, 8, 0, 0, 0, time.UTC), Status: models.SlotAvailable},
		{Start: time.Date(2025, 5, 24, 14, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 24, 18, 0, 0, 0, time.UTC), Status: models.SlotAvailable},
		{Start: time.Date(2025, 5, 24, 14, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 24, 18, 0, 0, 0, time.UTC), Status: models.SlotAvailable},
		{Start: time.Date(2025, 5, 24, 19, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 24, 20, 0, 0, 0, time.UTC), Status: models.SlotBusy},
	}}, 0))

	got, err := s.DailySlots(ctx, "d1", time.Date(2025, 5, 24, 0, 0, 0, 0, time.UTC), "CDMX")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "08:00", got[0].StartTime)
	assert.Equal(t, "12:00", got[0].EndTime)
	assert.Equal(t, "08:00 CST", got[0].StartTimeDisplay)
	assert.Equal(t, "19:00", got[1].StartTime)
	assert.Equal(t, "24:00", got[1].EndTime)
	assert.Equal(t, time.Date(2025, 5, 25, 1, 0, 0, 0, time.UTC), got[1].Start)
}

func TestDailySlotsExplicitAndBands(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newService(store, time.UTC, WindowPolicy{Mode: WindowsBands, Bands: DefaultBands()})

	require.NoError(t, store.SaveAgenda(ctx, &models.DriverAgenda{DriverID: "d1", Slots: []models.AvailabilitySlot{
		{Start: time.Date(2025, 5, 24, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC), Status: models.SlotAvailable},
		{Start: time.Date(2025, 5, 24, 6, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 24, 9, 0, 0, 0, time.UTC), Status: models.SlotAvailable,
			TimeSlots: []models.TimeRange{{StartTime: "06:00", EndTime: "07:30"}, {StartTime: "08:00", EndTime: "12:00"}}},
	}}, 0))

	got, err := s.DailySlots(ctx, "d1", time.Date(2025, 5, 24, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	var pairs []string
	for _, w := range got {
		pairs = append(pairs, w.StartTime+"-"+w.EndTime)
	}
	assert.Equal(t, []string{"06:00-07:30", "08:00-12:00", "14:00-18:00", "19:00-22:00"}, pairs)
}

func TestDailySlotsUnknownDriver(t *testing.T) {
	s := newService(storage.NewMemoryStore(), time.UTC, WindowPolicy{})
	got, err := s.DailySlots(context.Background(), "ghost", time.Now(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNextStart(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2025, 5, 24, h, 0, 0, 0, time.UTC) }
	ws := []models.TimeWindow{{Start: at(8)}, {Start: at(19)}, {Start: at(14)}}
	next, ok := NextStart(ws, at(13))
	require.True(t, ok)
	assert.Equal(t, at(14), next)
	_, ok = NextStart(ws, at(19))
	assert.False(t, ok, "strictly after")
}

func TestWindowPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultWindowPolicy().Validate())
	assert.Error(t, WindowPolicy{Mode: "weird"}.Validate())
	assert.Error(t, WindowPolicy{Mode: WindowsBands}.Validate())
	assert.Error(t, WindowPolicy{Mode: WindowsSlotBounds, Bands: []models.TimeRange{{StartTime: "x", EndTime: "y"}}}.Validate())
}
