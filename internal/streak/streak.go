// Package streak derives active days and consecutive-day streaks from
// completion records.
package streak

import (
	"sort"

	"planner/internal/caldate"
	"planner/internal/model"
)

// Days is the set of active days: dates with at least one completion.
type Days map[caldate.Date]struct{}

// FromCompletions truncates every completion to its calendar date. Duplicate
// completions collapse into one active day.
func FromCompletions(cs []model.Completion) Days {
	days := make(Days, len(cs))
	for _, c := range cs {
		days[c.Date()] = struct{}{}
	}
	return days
}

// IsActive reports whether anything was completed on d.
func (s Days) IsActive(d caldate.Date) bool {
	_, ok := s[d]
	return ok
}

func (s Days) runEndingAt(d caldate.Date) int {
	n := 0
	for s.IsActive(d) {
		n++
		d = d.AddDays(-1)
	}
	return n
}

// CurrentStreak counts consecutive active days ending at today. It is zero
// when today has no completion yet.
func (s Days) CurrentStreak(today caldate.Date) int {
	return s.runEndingAt(today)
}

// LastCompletedStreak is the lenient variant: when today is not active yet,
// the run ending yesterday still counts.
func (s Days) LastCompletedStreak(today caldate.Date) int {
	if s.IsActive(today) {
		return s.runEndingAt(today)
	}
	return s.runEndingAt(today.AddDays(-1))
}

// ActiveBetween lists the active days in [from, to], ascending.
func (s Days) ActiveBetween(from, to caldate.Date) []caldate.Date {
	out := make([]caldate.Date, 0)
	for d := from; !d.After(to); d = d.AddDays(1) {
		if s.IsActive(d) {
			out = append(out, d)
		}
	}
	return out
}

// Recent returns the completions of the last days days (today included),
// newest first.
func Recent(cs []model.Completion, today caldate.Date, days int) []model.Completion {
	first := today.AddDays(-(days - 1))
	out := make([]model.Completion, 0)
	for _, c := range cs {
		d := c.Date()
		if d.Before(first) || d.After(today) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	return out
}
