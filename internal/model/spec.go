package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"planner/internal/caldate"
	"planner/internal/recurrence"
)

// ValidationError reports an item that cannot be built from its spec.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// ItemSpec is the flat, serializable form of an Item used by the data file,
// the database and the HTTP API.
type ItemSpec struct {
	ID       string   `yaml:"id,omitempty" json:"id,omitempty"`
	Source   string   `yaml:"source,omitempty" json:"source,omitempty"`
	Category Category `yaml:"category" json:"category"`

	Title    string `yaml:"title" json:"title"`
	Subtitle string `yaml:"subtitle,omitempty" json:"subtitle,omitempty"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`

	// Repeat is "once" (default) or "weekly".
	Repeat    string       `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Date      caldate.Date `yaml:"date,omitempty" json:"date,omitempty"`
	Days      []string     `yaml:"days,omitempty" json:"days,omitempty"`
	StartDate caldate.Date `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate   caldate.Date `yaml:"end_date,omitempty" json:"end_date,omitempty"`

	Start           caldate.TimeOfDay  `yaml:"start" json:"start"`
	End             *caldate.TimeOfDay `yaml:"end,omitempty" json:"end,omitempty"`
	DurationMinutes int                `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`

	Kind       string `yaml:"kind,omitempty" json:"kind,omitempty"`
	CustomKind string `yaml:"custom_kind,omitempty" json:"custom_kind,omitempty"`

	Completed bool `yaml:"completed,omitempty" json:"completed,omitempty"`
}

// Build validates s and returns the Item it describes. Every failure is a
// *ValidationError.
func (s ItemSpec) Build() (Item, error) {
	if strings.TrimSpace(s.Title) == "" {
		return Item{}, invalid("title", errors.New("required"))
	}
	if s.Category < CategoryTask || s.Category > CategoryOther {
		return Item{}, invalid("category", fmt.Errorf("unknown category %d", int(s.Category)))
	}

	repeat, err := recurrence.ParseKind(s.Repeat)
	if err != nil {
		return Item{}, invalid("repeat", err)
	}
	switch {
	case s.Category == CategoryClass && repeat != recurrence.KindWeekly:
		return Item{}, invalid("repeat", errors.New("classes must repeat weekly"))
	case s.Category == CategoryOther && repeat != recurrence.KindOnce:
		return Item{}, invalid("repeat", errors.New("events occur once"))
	}

	var rule recurrence.Rule
	switch repeat {
	case recurrence.KindOnce:
		if s.Date.IsZero() {
			return Item{}, invalid("date", recurrence.ErrMissingDate)
		}
		rule = recurrence.Once(s.Date)
	case recurrence.KindWeekly:
		days := make([]time.Weekday, 0, len(s.Days))
		for _, name := range s.Days {
			d, err := recurrence.ParseWeekday(name)
			if err != nil {
				return Item{}, invalid("days", err)
			}
			days = append(days, d)
		}
		rule, err = recurrence.NewWeekly(days, s.StartDate, s.EndDate)
		if err != nil {
			return Item{}, invalid("start_date", err)
		}
	}

	if _, err := caldate.NewTimeOfDay(s.Start.Hour, s.Start.Minute); err != nil {
		return Item{}, invalid("start", err)
	}
	if s.End != nil {
		if _, err := caldate.NewTimeOfDay(s.End.Hour, s.End.Minute); err != nil {
			return Item{}, invalid("end", err)
		}
		if s.End.Minutes() < s.Start.Minutes() {
			return Item{}, invalid("end", fmt.Errorf("%s is before start %s", s.End, s.Start))
		}
	}
	if s.DurationMinutes < 0 {
		return Item{}, invalid("duration_minutes", fmt.Errorf("negative duration %d", s.DurationMinutes))
	}
	if s.Category != CategoryTask && s.End == nil && s.DurationMinutes == 0 {
		return Item{}, invalid("end", errors.New("end or duration_minutes required"))
	}
	if s.Kind == KindCustom && strings.TrimSpace(s.CustomKind) == "" {
		return Item{}, invalid("custom_kind", errors.New("required when kind is Other"))
	}

	item := Item{
		ID:              s.ID,
		Source:          s.Source,
		Category:        s.Category,
		Rule:            rule,
		Start:           s.Start,
		DurationMinutes: s.DurationMinutes,
		Title:           s.Title,
		Subtitle:        s.Subtitle,
		Kind:            s.Kind,
		CustomKind:      s.CustomKind,
		Color:           s.Color,
		Completed:       s.Completed && s.Category == CategoryTask,
	}
	if s.End != nil {
		end := *s.End
		item.End = &end
	}
	return item, nil
}

// SpecOf returns the serializable form of it. Build(SpecOf(it)) yields an
// equal item.
func SpecOf(it Item) ItemSpec {
	s := ItemSpec{
		ID:              it.ID,
		Source:          it.Source,
		Category:        it.Category,
		Title:           it.Title,
		Subtitle:        it.Subtitle,
		Color:           it.Color,
		Repeat:          it.Rule.Kind().String(),
		Start:           it.Start,
		DurationMinutes: it.DurationMinutes,
		Kind:            it.Kind,
		CustomKind:      it.CustomKind,
		Completed:       it.Completed,
	}
	if it.End != nil {
		end := *it.End
		s.End = &end
	}
	switch it.Rule.Kind() {
	case recurrence.KindOnce:
		s.Date = it.Rule.Date()
	case recurrence.KindWeekly:
		s.StartDate, s.EndDate = it.Rule.Range()
		for _, d := range it.Rule.Weekdays().Days() {
			s.Days = append(s.Days, strings.ToLower(d.String()[:3]))
		}
	}
	return s
}
