package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/schedule"
)

const localTimestamp = "20060102T150405"

// Export renders items as a VCALENDAR feed. Every item becomes one VEVENT
// anchored at its first occurrence; weekly items carry an RRULE. Times are
// written with a TZID, or floating when loc is time.Local, which has no
// IANA name.
func Export(items []model.Item, loc *time.Location, stamp time.Time) *ical.Calendar {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendarFor("planner")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName("Planner")

	var params []ical.PropertyParameter
	if loc != time.Local && loc.String() != "Local" {
		params = append(params, ical.WithTZID(loc.String()))
	}

	for _, it := range items {
		first, ok := it.Rule.First()
		if !ok {
			continue
		}
		var rrule string
		if it.Rule.Kind() == recurrence.KindWeekly {
			rr, err := it.Rule.RRule(it.Start, loc)
			if err != nil {
				appLog.Error("export: rrule conversion failed", err, "id", it.ID)
				continue
			}
			rrule = rr.OrigOptions.RRuleString()
		}
		occ := schedule.Project(it, first, loc)

		ev := cal.AddEvent(it.ID)
		ev.SetDtStampTime(stamp)
		ev.SetProperty(ical.ComponentPropertyDtStart, occ.Start.Format(localTimestamp), params...)
		ev.SetProperty(ical.ComponentPropertyDtEnd, occ.End.Format(localTimestamp), params...)
		ev.SetSummary(it.Title)
		if sub := schedule.SubtitleOf(it); sub != "" {
			ev.SetDescription(sub)
		}
		ev.AddCategory(it.Category.String())
		if it.Color != "" {
			ev.SetColor(it.Color)
		}
		if rrule != "" {
			ev.AddRrule(rrule)
		}
	}
	return cal
}
