package streak

import (
	"math/rand"
	"testing"
	"time"

	"planner/internal/caldate"
	"planner/internal/model"
)

func done(d caldate.Date, hour int, title string) model.Completion {
	return model.Completion{
		At:    time.Date(d.Year, d.Month, d.Day, hour, 0, 0, 0, time.UTC),
		Kind:  model.CompletionTask,
		Title: title,
	}
}

func TestCurrentStreakScenario(t *testing.T) {
	cs := []model.Completion{
		done(caldate.New(2025, 3, 1), 10, "a"),
		done(caldate.New(2025, 3, 2), 10, "b"),
		done(caldate.New(2025, 3, 3), 10, "c"),
	}
	days := FromCompletions(cs)
	if got := days.CurrentStreak(caldate.New(2025, 3, 3)); got != 3 {
		t.Fatalf("streak on 03-03 = %d, want 3", got)
	}
	if got := days.CurrentStreak(caldate.New(2025, 3, 5)); got != 0 {
		t.Fatalf("streak on 03-05 = %d, want 0", got)
	}
}

func TestLastCompletedStreak(t *testing.T) {
	days := FromCompletions([]model.Completion{
		done(caldate.New(2025, 3, 1), 9, "a"),
		done(caldate.New(2025, 3, 2), 9, "a"),
	})
	today := caldate.New(2025, 3, 3)
	if got := days.CurrentStreak(today); got != 0 {
		t.Fatalf("strict streak = %d, want 0", got)
	}
	if got := days.LastCompletedStreak(today); got != 2 {
		t.Fatalf("last completed streak = %d, want 2", got)
	}
	if got := days.LastCompletedStreak(caldate.New(2025, 3, 4)); got != 0 {
		t.Fatalf("a one-day gap breaks the lenient streak too, got %d", got)
	}
}

func TestDuplicatesDoNotInflate(t *testing.T) {
	d := caldate.New(2025, 3, 3)
	once := FromCompletions([]model.Completion{done(d, 8, "essay")})
	twice := FromCompletions([]model.Completion{done(d, 8, "essay"), done(d, 8, "essay"), done(d, 20, "other")})
	if once.CurrentStreak(d) != twice.CurrentStreak(d) || once.IsActive(d) != twice.IsActive(d) {
		t.Fatal("duplicate completions changed the streak")
	}
}

func TestStreakMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	today := caldate.New(2025, 6, 15)
	for round := 0; round < 300; round++ {
		var cs []model.Completion
		for i := 0; i < 30; i++ {
			if rng.Intn(2) == 0 {
				cs = append(cs, done(today.AddDays(-i), 12, "x"))
			}
		}
		days := FromCompletions(cs)
		before := days.CurrentStreak(today)
		edge := today.AddDays(-before) // first inactive day behind the run

		// Filling the edge extends the run by exactly one unless it joins an
		// older run.
		if before > 0 && !days.IsActive(edge.AddDays(-1)) {
			extended := FromCompletions(append(append([]model.Completion(nil), cs...), done(edge, 7, "y")))
			if got := extended.CurrentStreak(today); got != before+1 {
				t.Fatalf("round %d: extending at %s gave %d, want %d", round, edge, got, before+1)
			}
		}

		// Any date behind the edge leaves the streak unchanged.
		behind := edge.AddDays(-1 - rng.Intn(20))
		withGap := FromCompletions(append(append([]model.Completion(nil), cs...), done(behind, 7, "z")))
		if got := withGap.CurrentStreak(today); got != before {
			t.Fatalf("round %d: completion on %s changed streak %d -> %d", round, behind, before, got)
		}
	}
}

func TestFillingGapJoinsRuns(t *testing.T) {
	today := caldate.New(2025, 6, 15)
	cs := []model.Completion{done(today, 9, "a"), done(today.AddDays(-1), 9, "a")}
	// 06-12 is active, so filling 06-13 joins it to the current run.
	cs = append(cs, done(today.AddDays(-3), 9, "a"))
	days := FromCompletions(cs)
	if got := days.CurrentStreak(today); got != 2 {
		t.Fatalf("streak = %d, want 2", got)
	}
	days = FromCompletions(append(cs, done(today.AddDays(-2), 9, "a")))
	if got := days.CurrentStreak(today); got != 4 {
		t.Fatalf("filling the gap joins both runs: got %d, want 4", got)
	}
}

func TestActiveBetweenAndRecent(t *testing.T) {
	today := caldate.New(2025, 3, 14)
	cs := []model.Completion{
		done(today.AddDays(-20), 9, "old"),
		done(today.AddDays(-3), 9, "b"),
		done(today, 8, "c"),
		done(today, 18, "d"),
		done(today.AddDays(-13), 9, "edge"),
	}
	days := FromCompletions(cs)
	active := days.ActiveBetween(today.AddDays(-13), today)
	if len(active) != 3 || active[0] != today.AddDays(-13) || active[2] != today {
		t.Fatalf("active days %v", active)
	}

	recent := Recent(cs, today, 14)
	if len(recent) != 4 {
		t.Fatalf("recent has %d entries, want 4", len(recent))
	}
	want := []string{"d", "c", "b", "edge"}
	for i, c := range recent {
		if c.Title != want[i] {
			t.Fatalf("recent[%d] = %s, want %s", i, c.Title, want[i])
		}
	}
}
