// Package schedule turns items into dated, time-bounded occurrences and
// derives the day views, overlap groups and counters built on them.
//
// Every function here is pure: it reads the snapshot it is given and never
// consults the wall clock. Callers pass "today" and "now" explicitly.
package schedule

import (
	"sort"
	"time"

	"planner/internal/caldate"
	"planner/internal/model"
)

// EndOf resolves the end of an item's occurrence starting at start: the
// explicit end time, else start plus the duration, else the task block.
func EndOf(it model.Item, date caldate.Date, start time.Time, loc *time.Location) time.Time {
	switch {
	case it.End != nil:
		end := it.End.On(date, loc)
		if end.Before(start) {
			return start
		}
		return end
	case it.DurationMinutes > 0:
		return start.Add(time.Duration(it.DurationMinutes) * time.Minute)
	case it.Category == model.CategoryTask:
		return start.Add(model.TaskBlock)
	default:
		return start
	}
}

// SubtitleOf picks the display subtitle. The custom-kind sentinel resolves to
// the user's own label; any other kind label replaces the free subtitle.
func SubtitleOf(it model.Item) string {
	switch {
	case it.Kind == model.KindCustom:
		return it.CustomKind
	case it.Kind != "":
		return it.Kind
	default:
		return it.Subtitle
	}
}

// Project builds the occurrence of it on date. The caller must already know
// that it occurs on date.
func Project(it model.Item, date caldate.Date, loc *time.Location) model.Occurrence {
	if loc == nil {
		loc = time.Local
	}
	start := it.Start.On(date, loc)
	return model.Occurrence{
		SourceID: it.ID,
		Category: it.Category,
		Title:    it.Title,
		Subtitle: SubtitleOf(it),
		Color:    it.Color,
		Date:     date,
		Start:    start,
		End:      EndOf(it, date, start, loc),
	}
}

// DayQuery selects the occurrences of one date.
type DayQuery struct {
	Date   caldate.Date
	Filter model.Filter
	// Cutoff, when set, drops occurrences that end at or before it.
	Cutoff   *time.Time
	Location *time.Location
}

// OccurrencesOn returns the occurrences on q.Date of every item enabled by
// q.Filter, sorted by start time. Ties keep the input order of items.
func OccurrencesOn(items []model.Item, q DayQuery) []model.Occurrence {
	out := make([]model.Occurrence, 0)
	for _, it := range items {
		if !q.Filter.Enabled(it.Category) || !it.Rule.OccursOn(q.Date) {
			continue
		}
		occ := Project(it, q.Date, q.Location)
		if q.Cutoff != nil && !occ.End.After(*q.Cutoff) {
			continue
		}
		out = append(out, occ)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// DayAgenda is one date of a multi-day view.
type DayAgenda struct {
	Date        caldate.Date
	Occurrences []model.Occurrence
	Groups      []model.OverlapGroup
}

// Agenda evaluates OccurrencesOn once per date in [from, to] and groups each
// day. q.Date is ignored. Cost is linear in the length of the range.
func Agenda(items []model.Item, from, to caldate.Date, q DayQuery) []DayAgenda {
	if from.After(to) {
		return nil
	}
	out := make([]DayAgenda, 0, from.DaysUntil(to)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		q.Date = d
		occ := OccurrencesOn(items, q)
		out = append(out, DayAgenda{Date: d, Occurrences: occ, Groups: Group(occ)})
	}
	return out
}
