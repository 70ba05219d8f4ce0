package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used everywhere a date is written
// as text.
const DateLayout = "2006-01-02"

var (
	dateInText = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	timeSlotRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// FindDate extracts the first YYYY-MM-DD date from free text such as an
// offered button label ("Mon 2024-06-03 (3 open)").
func FindDate(text string) (time.Time, error) {
	m := dateInText.FindString(text)
	if m == "" {
		return time.Time{}, fmt.Errorf("no date in %q", text)
	}
	return ParseDate(m)
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DateOf returns the calendar date of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar date by n days.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// NormalizeTimeSlot validates an "H:MM" or "HH:MM" slot and returns it in
// the canonical zero-padded form.
func NormalizeTimeSlot(s string) (string, error) {
	m := timeSlotRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("invalid time slot %q, want HH:MM", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	if h > 23 || mi > 59 {
		return "", fmt.Errorf("invalid time slot %q, want HH:MM", s)
	}
	return fmt.Sprintf("%02d:%02d", h, mi), nil
}
