package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"planner/internal/caldate"
	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/recurrence"
)

const defaultMaxOccurrencesPerEvent = 1000

// ImportConfig controls how parsed events become items.
type ImportConfig struct {
	// Location is the wall clock items are expressed in. If nil, time.Local
	// is used.
	Location *time.Location

	// From / To bound the dates expanded for recurrences that cannot be
	// stored as weekly rules, and cut unbounded weekly rules.
	From caldate.Date
	To   caldate.Date

	// MaxOccurrencesPerEvent caps expansion of a single event. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ImportResult wraps the converted items and the UIDs that hit the cap.
type ImportResult struct {
	Items           []model.Item
	TruncatedEvents []string
}

// ToItems converts the events of one subscription into items of the
// subscription's category. Plain weekly recurrences become Weekly rules;
// everything else (other frequencies, intervals, EXDATE, overridden
// instances) is expanded into one item per date inside [From, To].
func ToItems(src Source, events []ParsedEvent, cfg ImportConfig) (ImportResult, error) {
	var result ImportResult
	if cfg.To.Before(cfg.From) {
		return result, errors.New("import: To is before From")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if src.Category == 0 {
		src.Category = model.CategoryOther
	}

	// Group base events and overrides by UID, keeping feed order.
	var order []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	seen := make(map[string]bool)
	add := func(it model.Item) {
		if seen[it.ID] {
			return
		}
		seen[it.ID] = true
		result.Items = append(result.Items, it)
	}

	for _, uid := range order {
		ov := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			items, hitCap := convertEvent(src, ev, ov, cfg)
			for _, it := range items {
				add(it)
			}
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Error("import: truncated occurrences for UID due to cap",
					errors.New("max occurrences reached"),
					"id", src.ID, "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
		}
	}
	return result, nil
}

func convertEvent(src Source, ev ParsedEvent, overrides []ParsedEvent, cfg ImportConfig) ([]model.Item, bool) {
	if ev.RawRRule == "" {
		o := ev
		if ov, ok := findOverrideForStart(overrides, ev.Start); ok {
			o = ov
		}
		d := caldate.Of(o.Start.In(cfg.Location))
		if d.Before(cfg.From) || d.After(cfg.To) {
			return nil, false
		}
		return []model.Item{makeDatedItem(src, o, o.Start, o.End, d, cfg.Location)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("import: failed to parse RRULE", err, "id", src.ID, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	if it, ok := weeklyItem(src, ev, r, overrides, cfg); ok {
		return []model.Item{it}, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	from := cfg.From.In(ev.Start.Location())
	to := cfg.To.AddDays(1).In(ev.Start.Location()).Add(-time.Second)
	starts := set.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Item, 0, len(starts))
	for _, s := range starts {
		o, start, end := ev, s, s.Add(dur)
		if ov, ok := findOverrideForStart(overrides, s); ok {
			o, start, end = ov, ov.Start, ov.End
		}
		d := caldate.Of(start.In(cfg.Location))
		if d.Before(cfg.From) || d.After(cfg.To) {
			continue
		}
		out = append(out, makeDatedItem(src, o, start, end, d, cfg.Location))
	}
	return out, hitCap
}

// weeklyItem stores ev as a single Weekly rule when that reproduces every
// instance exactly.
func weeklyItem(src Source, ev ParsedEvent, r *rrule.RRule, overrides []ParsedEvent, cfg ImportConfig) (model.Item, bool) {
	if src.Category == model.CategoryOther || ev.AllDay || len(ev.ExDates) > 0 || len(overrides) > 0 {
		return model.Item{}, false
	}
	// The wall clock must be the same in the feed's zone and ours, or DST
	// would move instances across the day.
	local := ev.Start.In(cfg.Location)
	if ev.Start.Location().String() != cfg.Location.String() {
		if caldate.Of(local) != caldate.Of(ev.Start) || caldate.TimeOfDayOf(local) != caldate.TimeOfDayOf(ev.Start) || !sameOffsets(ev.Start, cfg.Location) {
			return model.Item{}, false
		}
	}
	rule, err := recurrence.FromRRule(r, cfg.To)
	if err != nil {
		if !errors.Is(err, recurrence.ErrNotRepresentable) {
			appLog.Debug("import: weekly conversion failed", "uid", ev.UID, "err", err)
		}
		return model.Item{}, false
	}

	it := baseItem(src, ev, local)
	it.ID = src.ID + ":" + ev.UID
	it.Rule = rule
	setTimes(&it, ev.Start.In(cfg.Location), ev.End.In(cfg.Location))
	return it, true
}

// sameOffsets reports whether t's zone and loc agree on the UTC offset
// across a whole year, which rules out differing DST schedules.
func sameOffsets(t time.Time, loc *time.Location) bool {
	for m := 0; m < 12; m++ {
		at := t.AddDate(0, m, 0)
		_, a := at.Zone()
		_, b := at.In(loc).Zone()
		if a != b {
			return false
		}
	}
	return true
}

func makeDatedItem(src Source, ev ParsedEvent, start, end time.Time, d caldate.Date, loc *time.Location) model.Item {
	start, end = start.In(loc), end.In(loc)
	it := baseItem(src, ev, start)
	it.ID = fmt.Sprintf("%s:%s@%s", src.ID, ev.UID, d)
	if src.Category == model.CategoryClass {
		// Classes are weekly by definition; a single instance is a one-day term.
		rule, _ := recurrence.NewWeekly([]time.Weekday{d.Weekday()}, d, d)
		it.Rule = rule
	} else {
		it.Rule = recurrence.Once(d)
	}
	if ev.AllDay {
		last := caldate.TimeOfDay{Hour: 23, Minute: 59}
		it.Start = caldate.TimeOfDay{}
		it.End = &last
		return it
	}
	setTimes(&it, start, end)
	return it
}

func baseItem(src Source, ev ParsedEvent, start time.Time) model.Item {
	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}
	return model.Item{
		Source:   src.ID,
		Category: src.Category,
		Start:    caldate.TimeOfDayOf(start),
		Title:    title,
		Subtitle: ev.Location,
		Color:    src.Color,
	}
}

// setTimes keeps an explicit end time when the event ends on its start date
// and falls back to a duration otherwise.
func setTimes(it *model.Item, start, end time.Time) {
	if !end.After(start) {
		if it.Category != model.CategoryTask {
			e := caldate.TimeOfDayOf(start)
			it.End = &e
		}
		return
	}
	if caldate.Of(end) == caldate.Of(start) {
		e := caldate.TimeOfDayOf(end)
		it.End = &e
		return
	}
	it.DurationMinutes = int(end.Sub(start) / time.Minute)
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the given
// instance start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}
