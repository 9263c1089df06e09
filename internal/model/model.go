// Package model holds the planner's data types: schedulable items of every
// category, the occurrences derived from them, overlap groups and completion
// records.
package model

import (
	"fmt"
	"strings"
	"time"

	"planner/internal/caldate"
	"planner/internal/recurrence"
)

// Category tags an item and every occurrence derived from it.
type Category int

const (
	CategoryTask Category = iota + 1
	CategoryExam
	CategoryClass
	CategoryOther
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{CategoryTask, CategoryExam, CategoryClass, CategoryOther}
}

func (c Category) String() string {
	switch c {
	case CategoryTask:
		return "task"
	case CategoryExam:
		return "exam"
	case CategoryClass:
		return "class"
	case CategoryOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseCategory accepts the lower-case names returned by String, plural
// forms and a few labels used by the entry forms ("quiz", "event").
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "task", "tasks":
		return CategoryTask, nil
	case "exam", "exams", "quiz", "quizzes", "test", "tests":
		return CategoryExam, nil
	case "class", "classes":
		return CategoryClass, nil
	case "other", "others", "event", "events":
		return CategoryOther, nil
	default:
		return 0, fmt.Errorf("unknown category %q", s)
	}
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Filter is a set of enabled categories. The zero Filter enables nothing.
type Filter uint8

// FilterAll enables every category.
const FilterAll = Filter(1<<CategoryTask | 1<<CategoryExam | 1<<CategoryClass | 1<<CategoryOther)

// FilterOf enables exactly the given categories.
func FilterOf(cs ...Category) Filter {
	var f Filter
	for _, c := range cs {
		f |= 1 << uint(c)
	}
	return f
}

// ParseFilter reads a comma-separated category list. An empty string means
// every category.
func ParseFilter(s string) (Filter, error) {
	if strings.TrimSpace(s) == "" {
		return FilterAll, nil
	}
	var f Filter
	for _, part := range strings.Split(s, ",") {
		c, err := ParseCategory(part)
		if err != nil {
			return 0, err
		}
		f |= FilterOf(c)
	}
	return f, nil
}

// Enabled reports whether c passes the filter.
func (f Filter) Enabled(c Category) bool {
	return f&(1<<uint(c)) != 0
}

// KindCustom is the sentinel kind label meaning "use the custom label".
const KindCustom = "Other"

// TaskBlock is the synthetic display length of a task, which only has a due
// time.
const TaskBlock = 30 * time.Minute

// Item is one schedulable record of any category. Items are treated as
// immutable snapshots by every computation.
type Item struct {
	ID     string
	Source string // "" for locally entered items, else the subscription ID

	Category Category
	Rule     recurrence.Rule

	Start caldate.TimeOfDay
	// End, when set, takes priority over DurationMinutes.
	End             *caldate.TimeOfDay
	DurationMinutes int

	Title    string
	Subtitle string
	// Kind is the type label (e.g. "Quiz", "Interview"). KindCustom selects
	// CustomKind instead.
	Kind       string
	CustomKind string
	Color      string

	// Completed applies to tasks only.
	Completed bool
}

// Occurrence is one concrete, dated, time-bounded instance of an item. End is
// never before Start.
type Occurrence struct {
	SourceID string
	Category Category
	Title    string
	Subtitle string
	Color    string
	Date     caldate.Date
	Start    time.Time
	End      time.Time
}

// OverlapGroup is a maximal cluster of transitively overlapping occurrences
// on one date, with its [Start, End) envelope.
type OverlapGroup struct {
	Members []Occurrence
	Start   time.Time
	End     time.Time
}

// CompletionKind identifies what was completed.
type CompletionKind string

const (
	CompletionTask     CompletionKind = "task"
	CompletionExam     CompletionKind = "exam"
	CompletionPomodoro CompletionKind = "pomodoro"
)

// ParseCompletionKind validates a completion kind.
func ParseCompletionKind(s string) (CompletionKind, error) {
	switch k := CompletionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case CompletionTask, CompletionExam, CompletionPomodoro:
		return k, nil
	default:
		return "", fmt.Errorf("unknown completion kind %q", s)
	}
}

// Completion records one completed item or focus session.
type Completion struct {
	ID      string         `yaml:"id" json:"id"`
	At      time.Time      `yaml:"at" json:"at"`
	Kind    CompletionKind `yaml:"kind" json:"kind"`
	Title   string         `yaml:"title" json:"title"`
	Details string         `yaml:"details,omitempty" json:"details,omitempty"`
}

// Date is the calendar date of the completion in its own location.
func (c Completion) Date() caldate.Date {
	return caldate.Of(c.At)
}

// DedupeKey is the logical identity of a completion. Focus sessions are
// never deduplicated and return "".
func (c Completion) DedupeKey() string {
	if c.Kind == CompletionPomodoro {
		return ""
	}
	return c.Date().String() + "|" + string(c.Kind) + "|" + c.Title
}
