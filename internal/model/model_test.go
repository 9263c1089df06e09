package model

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"planner/internal/caldate"
	"planner/internal/recurrence"
)

func tod(h, m int) caldate.TimeOfDay { return caldate.TimeOfDay{Hour: h, Minute: m} }

func TestBuildClassSpec(t *testing.T) {
	end := tod(10, 15)
	s := ItemSpec{
		Category:  CategoryClass,
		Title:     "Linear Algebra",
		Repeat:    "weekly",
		Days:      []string{"Mon", "wednesday"},
		StartDate: caldate.New(2025, 1, 6),
		EndDate:   caldate.New(2025, 3, 1),
		Start:     tod(9, 0),
		End:       &end,
	}
	it, err := s.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if it.Rule.Kind() != recurrence.KindWeekly {
		t.Fatalf("expected weekly rule, got %s", it.Rule)
	}
	if !it.Rule.OccursOn(caldate.New(2025, 1, 8)) {
		t.Fatal("expected class on Wednesday 2025-01-08")
	}
	if it.End == s.End {
		t.Fatal("Build must copy End, not alias the spec's pointer")
	}
}

func TestBuildRejectsInvalidSpecs(t *testing.T) {
	before := tod(8, 0)
	tests := []struct {
		name  string
		spec  ItemSpec
		field string
	}{
		{"missing title", ItemSpec{Category: CategoryTask, Date: caldate.New(2025, 1, 1)}, "title"},
		{"unknown category", ItemSpec{Title: "x", Date: caldate.New(2025, 1, 1)}, "category"},
		{"once without date", ItemSpec{Category: CategoryTask, Title: "x"}, "date"},
		{"class once", ItemSpec{Category: CategoryClass, Title: "x", Date: caldate.New(2025, 1, 1)}, "repeat"},
		{"event weekly", ItemSpec{Category: CategoryOther, Title: "x", Repeat: "weekly"}, "repeat"},
		{"bad weekday", ItemSpec{Category: CategoryTask, Title: "x", Repeat: "weekly", Days: []string{"xx"},
			StartDate: caldate.New(2025, 1, 1), EndDate: caldate.New(2025, 2, 1)}, "days"},
		{"reversed range", ItemSpec{Category: CategoryTask, Title: "x", Repeat: "weekly",
			StartDate: caldate.New(2025, 2, 1), EndDate: caldate.New(2025, 1, 1)}, "start_date"},
		{"end before start", ItemSpec{Category: CategoryExam, Title: "x", Date: caldate.New(2025, 1, 1),
			Start: tod(9, 0), End: &before}, "end"},
		{"negative duration", ItemSpec{Category: CategoryExam, Title: "x", Date: caldate.New(2025, 1, 1),
			DurationMinutes: -5}, "duration_minutes"},
		{"negative task duration", ItemSpec{Category: CategoryTask, Title: "x", Date: caldate.New(2025, 1, 1),
			DurationMinutes: -5}, "duration_minutes"},
		{"custom kind missing", ItemSpec{Category: CategoryOther, Title: "x", Date: caldate.New(2025, 1, 1),
			DurationMinutes: 60, Kind: KindCustom}, "custom_kind"},
		{"class without end", ItemSpec{Category: CategoryClass, Title: "x", Repeat: "weekly", Days: []string{"mon"},
			StartDate: caldate.New(2025, 1, 6), EndDate: caldate.New(2025, 3, 1), Start: tod(9, 0)}, "end"},
		{"exam without end", ItemSpec{Category: CategoryExam, Title: "x", Date: caldate.New(2025, 1, 1),
			Start: tod(9, 0)}, "end"},
		{"event without end", ItemSpec{Category: CategoryOther, Title: "x", Date: caldate.New(2025, 1, 1),
			Start: tod(9, 0)}, "end"},
		{"start out of range", ItemSpec{Category: CategoryTask, Title: "x", Date: caldate.New(2025, 1, 1),
			Start: tod(25, 0)}, "start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q (%v)", verr.Field, tt.field, err)
			}
		})
	}
}

func TestReversedRangeKeepsSentinel(t *testing.T) {
	_, err := ItemSpec{Category: CategoryTask, Title: "x", Repeat: "weekly",
		StartDate: caldate.New(2025, 2, 1), EndDate: caldate.New(2025, 1, 1)}.Build()
	if !errors.Is(err, recurrence.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange in chain, got %v", err)
	}
}

func TestSpecRoundTripThroughYAML(t *testing.T) {
	end := tod(11, 0)
	in := ItemSpec{
		ID:         "abc",
		Category:   CategoryOther,
		Title:      "Career fair",
		Date:       caldate.New(2025, 4, 2),
		Start:      tod(10, 0),
		End:        &end,
		Kind:       KindCustom,
		CustomKind: "Networking",
		Color:      "teal",
	}
	it, err := in.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, err := yaml.Marshal(SpecOf(it))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ItemSpec
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, data)
	}
	back, err := out.Build()
	if err != nil {
		t.Fatalf("rebuild: %v\n%s", err, data)
	}
	if back.Rule != it.Rule || back.Start != it.Start || *back.End != *it.End || back.CustomKind != "Networking" {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", it, back)
	}
}

func TestCompletedOnlyForTasks(t *testing.T) {
	it, err := ItemSpec{Category: CategoryExam, Title: "Midterm", Date: caldate.New(2025, 3, 3), DurationMinutes: 90, Completed: true}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if it.Completed {
		t.Fatal("exam items never carry a completed flag")
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("tasks, class")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !f.Enabled(CategoryTask) || !f.Enabled(CategoryClass) || f.Enabled(CategoryExam) || f.Enabled(CategoryOther) {
		t.Fatalf("unexpected filter %b", f)
	}
	if f, _ := ParseFilter(""); f != FilterAll {
		t.Fatalf("empty filter should enable everything, got %b", f)
	}
	if _, err := ParseFilter("task,bogus"); err == nil {
		t.Fatal("expected error for unknown category")
	}
	var zero Filter
	for _, c := range Categories() {
		if zero.Enabled(c) {
			t.Fatalf("zero filter enabled %s", c)
		}
	}
}

func TestCategoryNamesRoundTrip(t *testing.T) {
	for _, c := range Categories() {
		t.Run(c.String(), func(t *testing.T) {
			got, err := ParseCategory(c.String())
			if err != nil || got != c {
				t.Fatalf("ParseCategory(%q) = %v, %v", c.String(), got, err)
			}
			text, err := c.MarshalText()
			if err != nil {
				t.Fatal(err)
			}
			var back Category
			if err := back.UnmarshalText(text); err != nil || back != c {
				t.Fatalf("UnmarshalText(%q) = %v, %v", text, back, err)
			}
		})
	}
}

func TestParseCategoryAliases(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"tasks", CategoryTask},
		{" Task ", CategoryTask},
		{"exams", CategoryExam},
		{"quiz", CategoryExam},
		{"quizzes", CategoryExam},
		{"tests", CategoryExam},
		{"CLASS", CategoryClass},
		{"classes", CategoryClass},
		{"events", CategoryOther},
		{"others", CategoryOther},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseCategory(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"clas", "classs", "", "s"} {
		if _, err := ParseCategory(bad); err == nil {
			t.Errorf("ParseCategory(%q) accepted", bad)
		}
	}
}

func TestClassSpecRoundTripThroughYAML(t *testing.T) {
	end := tod(10, 15)
	it, err := ItemSpec{
		Category:  CategoryClass,
		Title:     "Linear Algebra",
		Repeat:    "weekly",
		Days:      []string{"tue"},
		StartDate: caldate.New(2025, 1, 6),
		EndDate:   caldate.New(2025, 3, 1),
		Start:     tod(9, 0),
		End:       &end,
	}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, err := yaml.Marshal(SpecOf(it))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ItemSpec
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, data)
	}
	if out.Category != CategoryClass {
		t.Fatalf("category = %v\n%s", out.Category, data)
	}
}

func TestCompletionDedupeKey(t *testing.T) {
	at := time.Date(2025, 3, 1, 21, 5, 0, 0, time.UTC)
	a := Completion{At: at, Kind: CompletionTask, Title: "Essay"}
	b := Completion{At: at.Add(time.Hour), Kind: CompletionTask, Title: "Essay"}
	if a.DedupeKey() != b.DedupeKey() {
		t.Fatalf("same-day task completions should share a key: %q vs %q", a.DedupeKey(), b.DedupeKey())
	}
	c := Completion{At: at.AddDate(0, 0, 1), Kind: CompletionTask, Title: "Essay"}
	if a.DedupeKey() == c.DedupeKey() {
		t.Fatal("different days must not share a key")
	}
	p := Completion{At: at, Kind: CompletionPomodoro, Title: "Focus"}
	if p.DedupeKey() != "" {
		t.Fatalf("focus sessions are never deduplicated, got %q", p.DedupeKey())
	}
}
