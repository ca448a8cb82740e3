package calendar

import (
	"errors"
	"fmt"
	"time"
)

// MaxSearchDays bounds the forward search for the next business moment.
const MaxSearchDays = 30

const dateLayout = "2006-01-02"

var (
	ErrCalendarExhausted = errors.New("no business time found within search bound")
	ErrInvalidCalendar   = errors.New("invalid business calendar")
)

// BusinessHours is the stored working calendar configuration.
type BusinessHours struct {
	Timezone    string         `json:"timezone"`
	WorkingDays []time.Weekday `json:"workingDays"`
	StartHour   int            `json:"startHour"`
	EndHour     int            `json:"endHour"`
	Holidays    []string       `json:"holidays,omitempty"`
}

// DefaultBusinessHours is Monday to Friday, 09:00-18:00 UTC.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Timezone:    "UTC",
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour:   9,
		EndHour:     18,
	}
}

// Calendar evaluates timestamps against a compiled BusinessHours configuration.
type Calendar struct {
	loc       *time.Location
	days      map[time.Weekday]bool
	startHour int
	endHour   int
	holidays  map[string]struct{}
}

// New validates the configuration and compiles it into a Calendar.
func New(bh BusinessHours) (*Calendar, error) {
	tz := bh.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidCalendar, tz, err)
	}
	if bh.StartHour < 0 || bh.EndHour > 24 || bh.StartHour >= bh.EndHour {
		return nil, fmt.Errorf("%w: hours %d-%d", ErrInvalidCalendar, bh.StartHour, bh.EndHour)
	}
	c := &Calendar{
		loc:       loc,
		days:      make(map[time.Weekday]bool, len(bh.WorkingDays)),
		startHour: bh.StartHour,
		endHour:   bh.EndHour,
		holidays:  make(map[string]struct{}, len(bh.Holidays)),
	}
	for _, d := range bh.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("%w: weekday %d", ErrInvalidCalendar, d)
		}
		c.days[d] = true
	}
	for _, h := range bh.Holidays {
		day, err := time.ParseInLocation(dateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q", ErrInvalidCalendar, h)
		}
		c.holidays[day.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsBusinessMoment reports whether t falls inside working hours on a working, non-holiday day.
func (c *Calendar) IsBusinessMoment(t time.Time) bool {
	local := t.In(c.loc)
	if !c.isWorkingDay(local) {
		return false
	}
	h := local.Hour()
	return h >= c.startHour && h < c.endHour
}

// NextBusinessMoment returns t itself when it is a business moment, otherwise the
// earliest business moment after t.
func (c *Calendar) NextBusinessMoment(t time.Time) (time.Time, error) {
	limit := t.Add(MaxSearchDays * 24 * time.Hour)
	cur := t.In(c.loc)
	for !c.IsBusinessMoment(cur) {
		switch {
		case !c.isWorkingDay(cur):
			cur = c.dayStart(cur.AddDate(0, 0, 1))
		case cur.Hour() < c.startHour:
			cur = c.dayStart(cur)
		default:
			cur = c.dayStart(cur.AddDate(0, 0, 1))
		}
		if cur.After(limit) {
			return time.Time{}, fmt.Errorf("%w: from %s", ErrCalendarExhausted, t.Format(time.RFC3339))
		}
	}
	return cur.In(t.Location()), nil
}

// AddBusinessMinutes advances start by the given number of business minutes. Gaps outside
// working hours are skipped in a single jump.
func (c *Calendar) AddBusinessMinutes(start time.Time, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return start, nil
	}
	remaining := time.Duration(minutes) * time.Minute
	cur, err := c.NextBusinessMoment(start)
	if err != nil {
		return time.Time{}, err
	}
	for {
		closing := c.dayEnd(cur.In(c.loc))
		available := closing.Sub(cur)
		if remaining <= available {
			return cur.Add(remaining).In(start.Location()), nil
		}
		remaining -= available
		cur, err = c.NextBusinessMoment(closing)
		if err != nil {
			return time.Time{}, err
		}
	}
}

// AddMinutes adds minutes either on the business calendar or as wall-clock time.
func AddMinutes(c *Calendar, start time.Time, minutes int, businessHoursOnly bool) (time.Time, error) {
	if !businessHoursOnly || c == nil {
		return start.Add(time.Duration(minutes) * time.Minute), nil
	}
	return c.AddBusinessMinutes(start, minutes)
}

func (c *Calendar) isWorkingDay(local time.Time) bool {
	if !c.days[local.Weekday()] {
		return false
	}
	_, holiday := c.holidays[local.Format(dateLayout)]
	return !holiday
}

func (c *Calendar) dayStart(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, c.startHour, 0, 0, 0, c.loc)
}

func (c *Calendar) dayEnd(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, c.endHour, 0, 0, 0, c.loc)
}
