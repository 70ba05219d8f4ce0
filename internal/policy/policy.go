// Package policy holds the booking rules injected into every operation:
// configured places and time slots, capacity, per-user caps, date windows and
// the list of administrators. All functions here are pure; anything that
// needs stored counts lives in the service layer.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

// WeekStart selects how the start of the current week is computed for the
// weekly cap.
type WeekStart string

const (
	// WeekStartMonday always uses the Monday on or before today.
	WeekStartMonday WeekStart = "monday"
	// WeekStartSundayShifted treats Sunday as the start of the next week, so
	// on Sundays only bookings from the coming Monday count.
	WeekStartSundayShifted WeekStart = "sunday-shifted"
)

// Defaults mirror the constants the bot has always run with.
const (
	DefaultCapacity     = 8
	DefaultWeeklyCap    = 2
	DefaultMaxRangeDays = 6
)

// DefaultTimeSlots are the class hours used when none are configured.
var DefaultTimeSlots = []string{"12:00", "14:00", "16:00", "18:00", "20:00"}

// Range check failures. They are reported to the user as-is.
var (
	ErrMissingDate    = errors.New("both start and end dates are required")
	ErrStartAfterEnd  = errors.New("start date must not be after end date")
	ErrRangeTooLong   = errors.New("date range is too long")
	ErrStartInThePast = errors.New("start date is in the past")
)

// Policy is the admission and calendar configuration.
type Policy struct {
	Places            []string
	TimeSlots         []string
	Capacity          int
	WeeklyCap         int
	MaxRangeDays      int
	LeadDays          int
	WeekStart         WeekStart
	Admins            []int64
	RetryInvalidInput bool
	Location          *time.Location
}

// Default returns a policy with the stock slots and limits and no places.
func Default() Policy {
	return Policy{
		TimeSlots:    slices.Clone(DefaultTimeSlots),
		Capacity:     DefaultCapacity,
		WeeklyCap:    DefaultWeeklyCap,
		MaxRangeDays: DefaultMaxRangeDays,
		WeekStart:    WeekStartSundayShifted,
		Location:     time.UTC,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if len(p.Places) == 0 {
		return errors.New("at least one place is required")
	}
	if len(p.TimeSlots) == 0 {
		return errors.New("at least one time slot is required")
	}
	for _, ts := range p.TimeSlots {
		if _, err := model.NormalizeTimeSlot(ts); err != nil {
			return err
		}
	}
	if p.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", p.Capacity)
	}
	if p.WeeklyCap <= 0 {
		return fmt.Errorf("weekly cap must be positive, got %d", p.WeeklyCap)
	}
	if p.MaxRangeDays < 0 || p.LeadDays < 0 {
		return errors.New("max range and lead days must not be negative")
	}
	switch p.WeekStart {
	case WeekStartMonday, WeekStartSundayShifted:
	default:
		return fmt.Errorf("unknown week start rule %q", p.WeekStart)
	}
	return nil
}

// IsAdmin is the authorization decision for admin-only actions.
func (p Policy) IsAdmin(userID int64) bool {
	return slices.Contains(p.Admins, userID)
}

// Today returns the current calendar date in the policy's timezone.
func (p Policy) Today(now time.Time) time.Time {
	return model.DateOf(now, p.Location)
}

// FirstBookableDate is the earliest date users may book or cancel. Same-day
// edits are never allowed; LeadDays pushes the window further out.
func (p Policy) FirstBookableDate(today time.Time) time.Time {
	return model.AddDays(today, 1+p.LeadDays)
}

// Bookable reports whether date is inside the editable window.
func (p Policy) Bookable(date, today time.Time) bool {
	return !date.Before(p.FirstBookableDate(today))
}

// StartOfWeek returns the first day counted by the weekly cap.
func (p Policy) StartOfWeek(today time.Time) time.Time {
	wd := int(today.Weekday()) // Sunday == 0
	if wd == 0 {
		if p.WeekStart == WeekStartSundayShifted {
			return model.AddDays(today, 1)
		}
		return model.AddDays(today, -6)
	}
	return model.AddDays(today, -(wd - 1))
}

// UnderWeeklyCap reports whether a user holding count live subscriptions
// this week may book another.
func (p Policy) UnderWeeklyCap(userID int64, count int) bool {
	return p.IsAdmin(userID) || count < p.WeeklyCap
}

// UnderDailyCap reports whether a user holding count subscriptions on a
// date may book another one that day.
func (p Policy) UnderDailyCap(userID int64, count int) bool {
	return p.IsAdmin(userID) || count == 0
}

// CheckRange validates a generation or removal range.
func (p Policy) CheckRange(start, end, today time.Time) error {
	if start.IsZero() || end.IsZero() {
		return ErrMissingDate
	}
	if start.After(end) {
		return ErrStartAfterEnd
	}
	if model.DaysBetween(start, end) > p.MaxRangeDays {
		return fmt.Errorf("%w: at most %d days between start and end", ErrRangeTooLong, p.MaxRangeDays)
	}
	if start.Before(today) {
		return ErrStartInThePast
	}
	return nil
}

// MatchPlace returns the configured place equal to name, ignoring case.
func (p Policy) MatchPlace(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, place := range p.Places {
		if strings.EqualFold(place, name) {
			return place, true
		}
	}
	return "", false
}

// MatchTimeSlot normalizes s and reports whether it is a configured slot.
func (p Policy) MatchTimeSlot(s string) (string, bool) {
	ts, err := model.NormalizeTimeSlot(s)
	if err != nil {
		return "", false
	}
	for _, slot := range p.TimeSlots {
		if n, err := model.NormalizeTimeSlot(slot); err == nil && n == ts {
			return ts, true
		}
	}
	return "", false
}

// ResolvePlaces maps requested names onto configured places. An empty
// request selects every place.
func (p Policy) ResolvePlaces(names []string) ([]string, error) {
	if len(names) == 0 {
		return slices.Clone(p.Places), nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		place, ok := p.MatchPlace(n)
		if !ok {
			return nil, fmt.Errorf("unknown place %q", n)
		}
		if !slices.Contains(out, place) {
			out = append(out, place)
		}
	}
	return out, nil
}

// ResolveTimeSlots maps requested slots onto configured ones, keeping the
// request order. An empty request selects every slot.
func (p Policy) ResolveTimeSlots(slots []string) ([]string, error) {
	if len(slots) == 0 {
		slots = p.TimeSlots
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		ts, ok := p.MatchTimeSlot(s)
		if !ok {
			return nil, fmt.Errorf("unknown time slot %q", s)
		}
		if !slices.Contains(out, ts) {
			out = append(out, ts)
		}
	}
	return out, nil
}
