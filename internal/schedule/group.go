package schedule

import "planner/internal/model"

// Group partitions occurrences sorted by start into clusters that overlap
// transitively. An occurrence joins the current group when it starts before
// the group's running end, even if it misses the group's first member.
// Intervals are half-open, so touching occurrences land in separate groups.
func Group(sorted []model.Occurrence) []model.OverlapGroup {
	groups := make([]model.OverlapGroup, 0)
	if len(sorted) == 0 {
		return groups
	}

	cur := model.OverlapGroup{
		Members: []model.Occurrence{sorted[0]},
		Start:   sorted[0].Start,
		End:     sorted[0].End,
	}
	for _, o := range sorted[1:] {
		if o.Start.Before(cur.End) {
			cur.Members = append(cur.Members, o)
			if o.End.After(cur.End) {
				cur.End = o.End
			}
			continue
		}
		groups = append(groups, cur)
		cur = model.OverlapGroup{
			Members: []model.Occurrence{o},
			Start:   o.Start,
			End:     o.End,
		}
	}
	return append(groups, cur)
}
