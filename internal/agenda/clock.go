package agenda

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/fleet-availability/internal/models"
)

// naive layouts are read as UTC.
var instantLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseInstant reads an ISO-8601 timestamp. A value carrying an offset is
// converted to UTC; a naive one is taken as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
}

// ParseClock reads "HH:MM". 24:00 is accepted as the end of the day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err == nil {
		return t.Hour(), t.Minute(), nil
	}
	if s == "24:00" {
		return 24, 0, nil
	}
	return 0, 0, fmt.Errorf("not an HH:MM time: %q", s)
}

// ParseDate reads a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("not a YYYY-MM-DD date: %q", s)
	}
	return t, nil
}

// At places a local HH:MM on the calendar day of day, in loc. 24:00 is
// the following midnight.
func At(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}

func validRange(r models.TimeRange) error {
	sh, sm, err := ParseClock(r.StartTime)
	if err != nil {
		return err
	}
	eh, em, err := ParseClock(r.EndTime)
	if err != nil {
		return err
	}
	if sh*60+sm >= eh*60+em {
		return fmt.Errorf("time slot %s-%s ends before it starts", r.StartTime, r.EndTime)
	}
	return nil
}
