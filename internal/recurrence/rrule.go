package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"planner/internal/caldate"
)

var (
	// ErrNotWeekly is returned when an RRULE is requested for a Once rule.
	ErrNotWeekly = errors.New("recurrence: rule is not weekly")
	// ErrNoOccurrences is returned for a weekly rule whose weekday set never
	// matches inside its range.
	ErrNoOccurrences = errors.New("recurrence: rule has no occurrences")
	// ErrNotRepresentable is returned by FromRRule for recurrences that a
	// Weekly rule cannot express exactly.
	ErrNotRepresentable = errors.New("recurrence: rrule not representable as weekly rule")
)

// rrule-go numbers weekdays Monday=0..Sunday=6.
var rruleWeekdays = [7]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

func fromRRuleWeekday(w rrule.Weekday) time.Weekday {
	return time.Weekday((w.Day() + 1) % 7)
}

// RRule converts a Weekly rule into an RFC 5545 recurrence anchored at its
// first occurrence, starting at the given wall-clock time in loc.
func (r Rule) RRule(at caldate.TimeOfDay, loc *time.Location) (*rrule.RRule, error) {
	if r.kind != KindWeekly {
		return nil, ErrNotWeekly
	}
	first, ok := r.First()
	if !ok {
		return nil, ErrNoOccurrences
	}
	if loc == nil {
		loc = time.Local
	}
	days := make([]rrule.Weekday, 0, r.days.Len())
	for _, d := range r.days.Days() {
		days = append(days, rruleWeekdays[d])
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   at.On(first, loc),
		Until:     time.Date(r.end.Year, r.end.Month, r.end.Day, 23, 59, 59, 0, loc),
		Byweekday: days,
	})
}

// FromRRule converts a plain weekly recurrence (FREQ=WEEKLY, INTERVAL 1,
// BYDAY without ordinals and no other BY* parts) into a Weekly rule.
// Unbounded recurrences are cut at horizon. Anything else yields
// ErrNotRepresentable and should be expanded date by date instead.
func FromRRule(r *rrule.RRule, horizon caldate.Date) (Rule, error) {
	opt := r.OrigOptions
	if opt.Freq != rrule.WEEKLY || opt.Interval > 1 {
		return Rule{}, ErrNotRepresentable
	}
	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byeaster) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return Rule{}, ErrNotRepresentable
	}

	dtstart := r.GetDTStart()
	days := make([]time.Weekday, 0, len(opt.Byweekday))
	for _, w := range opt.Byweekday {
		if w.N() != 0 {
			return Rule{}, ErrNotRepresentable
		}
		days = append(days, fromRRuleWeekday(w))
	}
	if len(days) == 0 {
		days = append(days, dtstart.Weekday())
	}

	start := caldate.Of(dtstart)
	var end caldate.Date
	switch {
	case opt.Count > 0:
		all := r.All()
		if len(all) == 0 {
			return Rule{}, ErrNoOccurrences
		}
		end = caldate.Of(all[len(all)-1].In(dtstart.Location()))
	case !opt.Until.IsZero():
		end = caldate.Of(opt.Until.In(dtstart.Location()))
	default:
		end = horizon
	}
	if end.Before(start) {
		return Rule{}, fmt.Errorf("%w: rrule ends %s before it starts %s", ErrInvalidRange, end, start)
	}
	return NewWeekly(days, start, end)
}
