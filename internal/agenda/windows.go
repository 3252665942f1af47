package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/fleet-availability/internal/interval"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
	"github.com/example/fleet-availability/internal/tz"
)

const (
	// WindowsSlotBounds lists each available slot clipped to the day.
	WindowsSlotBounds = "slot_bounds"
	// WindowsBands lists the configured bands for every available slot
	// touching the day.
	WindowsBands = "bands"
)

// WindowPolicy decides what a slot without explicit time_slots offers as
// daily windows.
type WindowPolicy struct {
	Mode  string
	Bands []models.TimeRange
}

func DefaultBands() []models.TimeRange {
	return []models.TimeRange{
		{StartTime: "08:00", EndTime: "12:00"},
		{StartTime: "14:00", EndTime: "18:00"},
		{StartTime: "19:00", EndTime: "22:00"},
	}
}

func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{Mode: WindowsSlotBounds, Bands: DefaultBands()}
}

func (p WindowPolicy) Validate() error {
	var errs []error
	switch p.Mode {
	case WindowsSlotBounds, WindowsBands:
	default:
		errs = append(errs, fmt.Errorf("windows.policy must be %s or %s, got %q", WindowsSlotBounds, WindowsBands, p.Mode))
	}
	if p.Mode == WindowsBands && len(p.Bands) == 0 {
		errs = append(errs, errors.New("windows.bands must not be empty with the bands policy"))
	}
	for _, b := range p.Bands {
		if err := validRange(b); err != nil {
			errs = append(errs, fmt.Errorf("windows.bands: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DailySlots lists the available windows of driverID on the local calendar
// day of day, in the timezone of address. An unknown driver has none.
func (s *Service) DailySlots(ctx context.Context, driverID string, day time.Time, address string) ([]models.TimeWindow, error) {
	loc := time.UTC
	if s.resolver != nil {
		loc = s.resolver.Location(ctx, address)
	}
	return s.DailySlotsIn(ctx, driverID, day, loc)
}

func (s *Service) DailySlotsIn(ctx context.Context, driverID string, day time.Time, loc *time.Location) ([]models.TimeWindow, error) {
	a, err := s.store.Agenda(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return []models.TimeWindow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agenda %s: %w", driverID, err)
	}
	return s.Windows(a, day, loc), nil
}

// Windows computes the daily windows of an already loaded agenda.
func (s *Service) Windows(a *models.DriverAgenda, day time.Time, loc *time.Location) []models.TimeWindow {
	out := []models.TimeWindow{}
	if a == nil {
		return out
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	seen := make(map[[2]string]bool)
	add := func(w models.TimeWindow) {
		k := [2]string{w.StartTime, w.EndTime}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, w)
	}

	for _, sl := range a.Slots {
		if sl.Status != models.SlotAvailable || !interval.Overlaps(sl.Start, sl.End, dayStart, dayEnd) {
			continue
		}
		ranges := sl.TimeSlots
		if len(ranges) == 0 && s.windows.Mode == WindowsBands {
			ranges = s.windows.Bands
		}
		if len(ranges) > 0 {
			for _, r := range ranges {
				if w, ok := clockWindow(dayStart, r, loc); ok {
					add(w)
				}
			}
			continue
		}
		start, end := sl.Start, sl.End
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		w := models.TimeWindow{
			StartTime:        start.In(loc).Format("15:04"),
			EndTime:          end.In(loc).Format("15:04"),
			StartTimeDisplay: tz.FormatDisplay(start, loc),
			EndTimeDisplay:   tz.FormatDisplay(end, loc),
			Start:            start.UTC(),
		}
		if end.Equal(dayEnd) {
			w.EndTime = "24:00"
		}
		add(w)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].EndTime < out[j].EndTime
	})
	return out
}

func clockWindow(dayStart time.Time, r models.TimeRange, loc *time.Location) (models.TimeWindow, bool) {
	start, err := At(dayStart, r.StartTime, loc)
	if err != nil {
		return models.TimeWindow{}, false
	}
	end, err := At(dayStart, r.EndTime, loc)
	if err != nil {
		return models.TimeWindow{}, false
	}
	return models.TimeWindow{
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		StartTimeDisplay: tz.FormatDisplay(start, loc),
		EndTimeDisplay:   tz.FormatDisplay(end, loc),
		Start:            start.UTC(),
	}, true
}

// NextStart returns the earliest window start strictly after t.
func NextStart(windows []models.TimeWindow, t time.Time) (time.Time, bool) {
	var best time.Time
	for _, w := range windows {
		if w.Start.After(t) && (best.IsZero() || w.Start.Before(best)) {
			best = w.Start
		}
	}
	return best, !best.IsZero()
}
