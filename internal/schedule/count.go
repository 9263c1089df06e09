package schedule

import (
	"sort"
	"time"

	"planner/internal/caldate"
	"planner/internal/model"
)

// WindowQuery describes a rolling window [Today, Today+Days] for one
// category.
type WindowQuery struct {
	Category model.Category
	Today    caldate.Date
	Days     int
	// NotYetEnded drops occurrences whose end is at or before Now.
	NotYetEnded bool
	Now         time.Time
	Location    *time.Location
}

func (q WindowQuery) last() caldate.Date {
	if q.Days < 0 {
		return q.Today
	}
	return q.Today.AddDays(q.Days)
}

func (q WindowQuery) live(it model.Item, d caldate.Date) bool {
	if !q.NotYetEnded {
		return true
	}
	occ := Project(it, d, q.Location)
	return occ.End.After(q.Now)
}

// CountOccurrences counts occurrences in the window: an item matching on
// several dates counts once per matching date.
func CountOccurrences(items []model.Item, q WindowQuery) int {
	n := 0
	for _, it := range items {
		if it.Category != q.Category {
			continue
		}
		for _, d := range it.Rule.Expand(q.Today, q.last()) {
			if q.live(it, d) {
				n++
			}
		}
	}
	return n
}

// CountVisibleItems counts items with at least one occurrence in the window:
// every item counts at most once, however many dates it matches.
func CountVisibleItems(items []model.Item, q WindowQuery) int {
	n := 0
	for _, it := range items {
		if it.Category != q.Category {
			continue
		}
		for _, d := range it.Rule.Expand(q.Today, q.last()) {
			if q.live(it, d) {
				n++
				break
			}
		}
	}
	return n
}

// UpcomingTasks returns the tasks still to do that occur in
// [today, today+days], ordered by their first date in that window. Tasks on
// the same date keep their input order.
func UpcomingTasks(items []model.Item, today caldate.Date, days int) []model.Item {
	type candidate struct {
		item  model.Item
		first caldate.Date
	}
	last := today.AddDays(days)
	var cands []candidate
	for _, it := range items {
		if it.Category != model.CategoryTask || it.Completed {
			continue
		}
		dates := it.Rule.Expand(today, last)
		if len(dates) == 0 {
			continue
		}
		cands = append(cands, candidate{item: it, first: dates[0]})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].first.Before(cands[j].first)
	})
	out := make([]model.Item, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.item)
	}
	return out
}
