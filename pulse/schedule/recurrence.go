package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/teranos/netpulse/errors"
)

// Kind selects how the next run of a schedule is computed
type Kind string

const (
	KindImmediate Kind = "immediate"
	KindOneTime   Kind = "one_time"
	KindDaily     Kind = "daily"
	KindWeekly    Kind = "weekly"
	KindMonthly   Kind = "monthly"
	KindYearly    Kind = "yearly"
)

// Kinds lists every schedule kind
var Kinds = []Kind{KindImmediate, KindOneTime, KindDaily, KindWeekly, KindMonthly, KindYearly}

// Spent reports whether a single dispatch exhausts the schedule
func (k Kind) Spent() bool {
	return k == KindImmediate || k == KindOneTime
}

// ErrInvalidSchedule marks recurrences missing or malforming required fields
var ErrInvalidSchedule = errors.Mark(errors.New("invalid schedule"), errors.ErrConfiguration)

// Recurrence is the declarative part of a schedule
type Recurrence struct {
	Kind    Kind
	StartAt *time.Time // one_time
	Time    string     // "HH:MM" for daily, weekly, monthly, yearly
	Day     string     // weekday name (weekly) or day of month 1-31 (monthly, yearly)
	Month   int        // 1-12 (yearly)
}

// Validate reports the first missing or malformed field
func (r Recurrence) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Mark(errors.Newf(format, args...), ErrInvalidSchedule)
	}

	switch r.Kind {
	case KindImmediate:
		return nil
	case KindOneTime:
		if r.StartAt == nil {
			return invalid("one_time schedule requires a start time")
		}
		return nil
	case KindDaily, KindWeekly, KindMonthly, KindYearly:
	default:
		return invalid("unknown schedule kind %q", r.Kind)
	}

	if _, _, ok := parseTimeOfDay(r.Time); !ok {
		return invalid("%s schedule requires a time as HH:MM, got %q", r.Kind, r.Time)
	}
	switch r.Kind {
	case KindWeekly:
		if _, ok := parseWeekday(r.Day); !ok {
			return invalid("weekly schedule requires a weekday, got %q", r.Day)
		}
	case KindMonthly:
		if _, ok := parseDayOfMonth(r.Day); !ok {
			return invalid("monthly schedule requires a day of month 1-31, got %q", r.Day)
		}
	case KindYearly:
		if r.Month < 1 || r.Month > 12 {
			return invalid("yearly schedule requires a month 1-12, got %d", r.Month)
		}
		if _, ok := parseDayOfMonth(r.Day); !ok {
			return invalid("yearly schedule requires a day of month 1-31, got %q", r.Day)
		}
	}
	return nil
}

// ComputeNextRun returns the next time r fires after now, or nil when it
// never fires again or is invalid. Results are in now's location and are
// strictly after now, except immediate which returns now itself.
//
// Day-of-month values past the end of a month clip to its last day, using
// the calendar of the month actually selected (Feb 29 becomes Feb 28 in
// non-leap years).
func ComputeNextRun(r Recurrence, now time.Time) *time.Time {
	if r.Validate() != nil {
		return nil
	}
	loc := now.Location()

	switch r.Kind {
	case KindImmediate:
		return &now

	case KindOneTime:
		if r.StartAt.After(now) {
			t := *r.StartAt
			return &t
		}
		return nil
	}

	hour, minute, _ := parseTimeOfDay(r.Time)
	y, m, d := now.Date()
	var next time.Time

	switch r.Kind {
	case KindDaily:
		next = time.Date(y, m, d, hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
		}

	case KindWeekly:
		target, _ := parseWeekday(r.Day)
		ahead := (int(target) - int(now.Weekday()) + 7) % 7
		next = time.Date(y, m, d+ahead, hour, minute, 0, 0, loc)
		if ahead == 0 && !next.After(now) {
			next = time.Date(y, m, d+7, hour, minute, 0, 0, loc)
		}

	case KindMonthly:
		day, _ := parseDayOfMonth(r.Day)
		next = clipped(y, m, day, hour, minute, loc)
		if !next.After(now) {
			ny, nm := y, m+1
			if nm > 12 {
				ny, nm = y+1, 1
			}
			next = clipped(ny, nm, day, hour, minute, loc)
		}

	case KindYearly:
		day, _ := parseDayOfMonth(r.Day)
		month := time.Month(r.Month)
		next = clipped(y, month, day, hour, minute, loc)
		if !next.After(now) {
			next = clipped(y+1, month, day, hour, minute, loc)
		}
	}
	return &next
}

func clipped(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

// DaysIn returns the number of days in month of year
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func parseTimeOfDay(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	// Tolerate a seconds component
	m, _, _ = strings.Cut(m, ":")
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	w, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return w, ok
}

func parseDayOfMonth(s string) (int, bool) {
	day, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || day < 1 || day > 31 {
		return 0, false
	}
	return day, true
}
