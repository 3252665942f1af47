// Package notify fans schedule events out to Kafka, connected admin
// websockets and an optional webhook.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/example/fleet-availability/internal/models"
)

const (
	EventExtraScheduleCreated   = "extra_schedule.created"
	EventExtraScheduleCancelled = "extra_schedule.cancelled"
)

type Event struct {
	Type          string                    `json:"type"`
	At            time.Time                 `json:"at"`
	DriverID      string                    `json:"driver_id"`
	ExtraSchedule *models.ExtraScheduleSlot `json:"extra_schedule,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
