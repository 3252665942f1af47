// Package agenda owns driver working schedules: validated upserts,
// containment tests and the per-day window listing used for alternatives.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/fleet-availability/internal/interval"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
)

const defaultRetries = 3

// ZoneResolver maps an address to its civil timezone.
type ZoneResolver interface {
	Location(ctx context.Context, address string) *time.Location
}

// SlotInput is an agenda slot as submitted by the admin layer.
type SlotInput struct {
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Status    string             `json:"status"`
	TimeSlots []models.TimeRange `json:"time_slots,omitempty"`
}

type Options struct {
	Store    storage.AgendaStore
	Resolver ZoneResolver
	Windows  WindowPolicy
	Logger   *slog.Logger
	// Retries bounds re-reads after a concurrent agenda write.
	Retries int
}

type Service struct {
	store    storage.AgendaStore
	resolver ZoneResolver
	windows  WindowPolicy
	log      *slog.Logger
	retries  int
}

func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		resolver: opts.Resolver,
		windows:  opts.Windows,
		log:      opts.Logger,
		retries:  opts.Retries,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.retries <= 0 {
		s.retries = defaultRetries
	}
	if s.windows.Mode == "" {
		s.windows = DefaultWindowPolicy()
	}
	return s
}

func (s *Service) Get(ctx context.Context, driverID string) (*models.DriverAgenda, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, models.Invalid("driver_id", "required")
	}
	a, err := s.store.Agenda(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &models.NotFoundError{Kind: "driver_agenda", ID: driverID}
	}
	if err != nil {
		return nil, fmt.Errorf("load agenda %s: %w", driverID, err)
	}
	return a, nil
}

// Upsert replaces the regular slots of a driver's agenda. Projected extra
// slots are kept; they are owned by the extra-schedule manager.
func (s *Service) Upsert(ctx context.Context, driverID string, in []SlotInput) (*models.DriverAgenda, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, models.Invalid("driver_id", "required")
	}
	regular, err := parseSlots(in)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < s.retries; attempt++ {
		cur, err := s.store.Agenda(ctx, driverID)
		var expected int64
		next := &models.DriverAgenda{DriverID: driverID}
		next.Slots = append(next.Slots, regular...)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load agenda %s: %w", driverID, err)
		default:
			expected = cur.Version
			for _, sl := range cur.Slots {
				if sl.Kind == models.SlotExtra {
					next.Slots = append(next.Slots, sl)
				}
			}
		}
		err = s.store.SaveAgenda(ctx, next, expected)
		if err == nil {
			s.log.Info("agenda upserted", "driver_id", driverID, "slots", len(next.Slots), "version", next.Version)
			return next, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("save agenda %s: %w", driverID, err)
		}
		s.log.Warn("agenda write raced, retrying", "driver_id", driverID, "attempt", attempt+1)
	}
	return nil, &models.ConflictError{Kind: "agenda", ID: driverID}
}

func parseSlots(in []SlotInput) ([]models.AvailabilitySlot, error) {
	out := make([]models.AvailabilitySlot, 0, len(in))
	for i, raw := range in {
		field := fmt.Sprintf("availability[%d]", i)
		if raw.StartDate == "" || raw.EndDate == "" || raw.Status == "" {
			return nil, models.Invalid(field, "start_date, end_date and status are required")
		}
		status := models.SlotStatus(strings.ToLower(raw.Status))
		if !status.Valid() {
			return nil, models.Invalid(field+".status", "must be available, busy or off, got %q", raw.Status)
		}
		start, err := ParseInstant(raw.StartDate)
		if err != nil {
			return nil, models.Invalid(field+".start_date", "%v", err)
		}
		end, err := ParseInstant(raw.EndDate)
		if err != nil {
			return nil, models.Invalid(field+".end_date", "%v", err)
		}
		if !end.After(start) {
			return nil, models.Invalid(field, "end_date must be after start_date")
		}
		for _, r := range raw.TimeSlots {
			if err := validRange(r); err != nil {
				return nil, models.Invalid(field+".time_slots", "%v", err)
			}
		}
		out = append(out, models.AvailabilitySlot{
			Start:     start,
			End:       end,
			Status:    status,
			TimeSlots: raw.TimeSlots,
			Kind:      models.SlotRegular,
		})
	}
	return out, nil
}

// Covers reports whether some available slot of a contains [start, end].
// Busy and off slots do not veto an available one.
func Covers(a *models.DriverAgenda, start, end time.Time) bool {
	if a == nil {
		return false
	}
	for _, sl := range a.Slots {
		if sl.Status == models.SlotAvailable && interval.Covers(sl.Start, sl.End, start, end) {
			return true
		}
	}
	return false
}
