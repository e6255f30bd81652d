package rules

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// BusinessHours reports whether the business is open at a given instant
type BusinessHours interface {
	IsOpen(now time.Time) bool
}

// Schedule is a weekly opening window in one time zone.
// Open and Close are offsets from local midnight; Close <= Open spans midnight.
type Schedule struct {
	Location *time.Location
	Weekdays []time.Weekday
	Open     time.Duration
	Close    time.Duration
}

// DefaultSchedule is open 09:00-18:00 UTC every day
func DefaultSchedule() Schedule {
	return Schedule{
		Location: time.UTC,
		Weekdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		Open:  9 * time.Hour,
		Close: 18 * time.Hour,
	}
}

// ParseSchedule builds a schedule from configuration strings.
// days is a comma separated list of weekday numbers (0=Sunday) or names; empty means every day.
func ParseSchedule(tz, days, open, close string) (Schedule, error) {
	s := DefaultSchedule()

	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid business hours time zone %q: %w", tz, err)
		}
		s.Location = loc
	}

	if strings.TrimSpace(days) != "" {
		s.Weekdays = nil
		for _, part := range strings.Split(days, ",") {
			d, err := parseWeekday(strings.TrimSpace(part))
			if err != nil {
				return Schedule{}, err
			}
			if !slices.Contains(s.Weekdays, d) {
				s.Weekdays = append(s.Weekdays, d)
			}
		}
	}

	var err error
	if open != "" {
		if s.Open, err = parseClock(open); err != nil {
			return Schedule{}, err
		}
	}
	if close != "" {
		if s.Close, err = parseClock(close); err != nil {
			return Schedule{}, err
		}
	}
	if s.Open == s.Close {
		return Schedule{}, fmt.Errorf("business hours open and close are both %s", open)
	}
	return s, nil
}

// IsOpen reports whether now falls inside the schedule
func (s Schedule) IsOpen(now time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	// Wall clock, not elapsed time, so DST days keep their hours
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if s.Open < s.Close {
		return slices.Contains(s.Weekdays, local.Weekday()) && offset >= s.Open && offset < s.Close
	}
	// Overnight window: the early morning part belongs to the previous day's shift
	if offset >= s.Open {
		return slices.Contains(s.Weekdays, local.Weekday())
	}
	if offset < s.Close {
		return slices.Contains(s.Weekdays, (local.Weekday()+6)%7)
	}
	return false
}

// AlwaysOpen is a BusinessHours that never closes
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(time.Time) bool { return true }

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid business hours time %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseWeekday(v string) (time.Weekday, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("invalid weekday %d", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if strings.EqualFold(v, name) || strings.EqualFold(v, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", v)
}
