// Package recurrence defines how a schedulable item declares the calendar
// dates it occurs on, and expands those declarations into concrete dates.
//
// A Rule is either Once (a single date) or Weekly (a weekday set bounded by
// an inclusive start/end date range). Rules are validated when constructed;
// expansion of a constructed Rule never fails.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"planner/internal/caldate"
)

// Kind discriminates the Rule variants.
type Kind int

const (
	KindOnce Kind = iota + 1
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// ParseKind accepts "once" and "weekly" (plus the labels used by the entry
// forms, "Every week" and "Repeating").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once", "":
		return KindOnce, nil
	case "weekly", "every week", "repeating":
		return KindWeekly, nil
	default:
		return 0, fmt.Errorf("unknown recurrence %q", s)
	}
}

var (
	ErrInvalidRange   = errors.New("recurrence: start date after end date")
	ErrInvalidWeekday = errors.New("recurrence: invalid weekday")
	ErrMissingDate    = errors.New("recurrence: missing date")
)

// WeekdaySet is a bit set of time.Weekday values.
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

// NewWeekdaySet builds a set from days, rejecting values outside
// Sunday..Saturday.
func NewWeekdaySet(days ...time.Weekday) (WeekdaySet, error) {
	var s WeekdaySet
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, int(d))
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

// Has reports whether d is a member of s.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Len returns the number of weekdays in s.
func (s WeekdaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days lists the members of s in Sunday..Saturday order.
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, s.Len())
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s WeekdaySet) String() string {
	names := make([]string, 0, 7)
	for _, d := range s.Days() {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(names, ",")
}

// ParseWeekday matches English weekday names on their first three letters,
// case-insensitively ("Mon", "monday", "MON").
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if len(v) < 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), v[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// Rule declares which calendar dates an item occurs on. The zero Rule is
// invalid; build one with Once or NewWeekly.
type Rule struct {
	kind  Kind
	date  caldate.Date
	days  WeekdaySet
	start caldate.Date
	end   caldate.Date
}

// Once returns a rule that occurs on exactly date.
func Once(date caldate.Date) Rule {
	return Rule{kind: KindOnce, date: date}
}

// NewWeekly returns a rule occurring on every date in [start, end] whose
// weekday is in days. An empty days slice is valid and never occurs.
func NewWeekly(days []time.Weekday, start, end caldate.Date) (Rule, error) {
	if start.IsZero() || end.IsZero() {
		return Rule{}, ErrMissingDate
	}
	if start.After(end) {
		return Rule{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	set, err := NewWeekdaySet(days...)
	if err != nil {
		return Rule{}, err
	}
	return Rule{kind: KindWeekly, days: set, start: start, end: end}, nil
}

// Kind returns the rule variant.
func (r Rule) Kind() Kind { return r.kind }

// IsZero reports whether r was never constructed.
func (r Rule) IsZero() bool { return r.kind == 0 }

// Date returns the date of a Once rule.
func (r Rule) Date() caldate.Date { return r.date }

// Weekdays returns the weekday set of a Weekly rule.
func (r Rule) Weekdays() WeekdaySet { return r.days }

// Range returns the inclusive bounds of r. For Once both bounds are the
// single date.
func (r Rule) Range() (caldate.Date, caldate.Date) {
	if r.kind == KindWeekly {
		return r.start, r.end
	}
	return r.date, r.date
}

// OccursOn reports whether r produces an occurrence on d.
func (r Rule) OccursOn(d caldate.Date) bool {
	switch r.kind {
	case KindOnce:
		return r.date == d
	case KindWeekly:
		if d.Before(r.start) || d.After(r.end) {
			return false
		}
		return r.days.Has(d.Weekday())
	default:
		return false
	}
}

// Expand returns every date in the inclusive range [from, to] on which r
// occurs, ascending and without duplicates. Cost is linear in the length of
// the intersection of [from, to] with the rule's own range.
func (r Rule) Expand(from, to caldate.Date) []caldate.Date {
	var out []caldate.Date
	if from.After(to) {
		return out
	}
	switch r.kind {
	case KindOnce:
		if !r.date.Before(from) && !r.date.After(to) {
			out = append(out, r.date)
		}
	case KindWeekly:
		if r.days == 0 {
			return out
		}
		lo := caldate.Max(from, r.start)
		hi := caldate.Min(to, r.end)
		for d := lo; !d.After(hi); d = d.AddDays(1) {
			if r.days.Has(d.Weekday()) {
				out = append(out, d)
			}
		}
	}
	return out
}

// First returns the earliest date r occurs on.
func (r Rule) First() (caldate.Date, bool) {
	switch r.kind {
	case KindOnce:
		return r.date, true
	case KindWeekly:
		if r.days == 0 {
			return caldate.Date{}, false
		}
		// Any weekday appears within seven consecutive days.
		for d := r.start; !d.After(r.end) && d.Before(r.start.AddDays(7)); d = d.AddDays(1) {
			if r.days.Has(d.Weekday()) {
				return d, true
			}
		}
	}
	return caldate.Date{}, false
}

func (r Rule) String() string {
	switch r.kind {
	case KindOnce:
		return "once " + r.date.String()
	case KindWeekly:
		return fmt.Sprintf("weekly [%s] %s..%s", r.days, r.start, r.end)
	default:
		return "invalid"
	}
}
