package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planner/internal/caldate"
	"planner/internal/config"
	"planner/internal/metrics"
	"planner/internal/model"
	"planner/internal/store"
)

// Monday 2025-03-03, 10:00 UTC.
var testNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func mustBuild(t *testing.T, spec model.ItemSpec) model.Item {
	t.Helper()
	it, err := spec.Build()
	if err != nil {
		t.Fatalf("Build(%s): %v", spec.Title, err)
	}
	return it
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "planner.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	end := caldate.TimeOfDay{Hour: 10, Minute: 15}
	seed := []model.ItemSpec{
		{ID: "algebra", Category: model.CategoryClass, Title: "Linear Algebra", Repeat: "weekly",
			Days: []string{"mon", "wed"}, StartDate: caldate.New(2025, 1, 6), EndDate: caldate.New(2025, 5, 30),
			Start: caldate.TimeOfDay{Hour: 9}, End: &end},
		{ID: "midterm", Category: model.CategoryExam, Title: "Midterm", Date: caldate.New(2025, 3, 3),
			Start: caldate.TimeOfDay{Hour: 13}, DurationMinutes: 90},
		{ID: "reading", Category: model.CategoryTask, Title: "Reading", Date: caldate.New(2025, 3, 3),
			Start: caldate.TimeOfDay{Hour: 9, Minute: 30}},
		{ID: "essay", Category: model.CategoryTask, Title: "Essay", Date: caldate.New(2025, 3, 5),
			Start: caldate.TimeOfDay{Hour: 20}},
	}
	for _, spec := range seed {
		if _, err := st.PutItem(context.Background(), mustBuild(t, spec)); err != nil {
			t.Fatal(err)
		}
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := NewServer(Options{
		Config:    cfg,
		Store:     st,
		Location:  time.UTC,
		Metrics:   metrics.NewMetrics(),
		Now:       func() time.Time { return testNow },
		AccessLog: io.Discard,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func titles(occ []occurrenceDTO) []string {
	out := make([]string, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Title)
	}
	return out
}

func TestDayEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		query  string
		want   []string
		groups int
	}{
		{"all", "?date=2025-03-03", []string{"Linear Algebra", "Reading", "Midterm"}, 2},
		{"default date is today", "", []string{"Linear Algebra", "Reading", "Midterm"}, 2},
		{"filter", "?date=2025-03-03&categories=exam", []string{"Midterm"}, 1},
		{"remaining drops ended", "?date=2025-03-03&remaining=true", []string{"Linear Algebra", "Midterm"}, 2},
		{"other date", "?date=2025-03-05", []string{"Linear Algebra", "Essay"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, ts, http.MethodGet, "/api/day"+tt.query, "")
			if status != http.StatusOK {
				t.Fatalf("status %d: %s", status, body)
			}
			day := decode[dayDTO](t, body)
			if got := titles(day.Occurrences); strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("titles = %v, want %v", got, tt.want)
			}
			if len(day.Groups) != tt.groups {
				t.Fatalf("groups = %d, want %d", len(day.Groups), tt.groups)
			}
		})
	}

	for _, bad := range []string{"?date=03/03/2025", "?categories=homework", "?remaining=maybe"} {
		if status, _ := do(t, ts, http.MethodGet, "/api/day"+bad, ""); status != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", bad, status)
		}
	}
}

func TestAgendaEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodGet, "/api/agenda?view=week&date=2025-03-05", "")
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	week := decode[agendaResponse](t, body)
	if week.From != caldate.New(2025, 3, 3) || week.To != caldate.New(2025, 3, 9) || len(week.Days) != 7 {
		t.Fatalf("unexpected week %s..%s (%d days)", week.From, week.To, len(week.Days))
	}
	if n := len(week.Days[0].Occurrences); n != 3 {
		t.Fatalf("monday has %d occurrences, want 3", n)
	}

	status, body = do(t, ts, http.MethodGet, "/api/agenda?view=month&date=2025-02-14", "")
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	if month := decode[agendaResponse](t, body); len(month.Days) != 28 {
		t.Fatalf("february has %d days", len(month.Days))
	}

	if status, _ := do(t, ts, http.MethodGet, "/api/agenda?view=year", ""); status != http.StatusBadRequest {
		t.Fatalf("unknown view: status %d", status)
	}
}

func TestCountersEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	status, body := do(t, ts, http.MethodGet, "/api/counters", "")
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	resp := decode[countersResponse](t, body)
	got := make(map[model.Category]counterDTO)
	for _, c := range resp.Counters {
		got[c.Category] = c
	}
	// Reading ended at 10:00 sharp; the class runs until 10:15.
	if c := got[model.CategoryTask]; c.LeftToday != 0 || c.Occurrences != 2 || c.Items != 2 {
		t.Fatalf("task counters %+v", c)
	}
	if c := got[model.CategoryClass]; c.LeftToday != 1 || c.Occurrences != 3 || c.Items != 1 {
		t.Fatalf("class counters %+v", c)
	}
}

func TestCompletionsAndStreak(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodPost, "/api/completions", `{"kind":"task","title":"Reading"}`)
	if status != http.StatusCreated {
		t.Fatalf("first completion: status %d: %s", status, body)
	}
	first := decode[model.Completion](t, body)
	status, body = do(t, ts, http.MethodPost, "/api/completions", `{"kind":"task","title":"Reading"}`)
	if status != http.StatusOK || decode[model.Completion](t, body).ID != first.ID {
		t.Fatalf("duplicate completion: status %d: %s", status, body)
	}
	// Pomodoro sessions are never merged.
	for i := 0; i < 2; i++ {
		if status, body := do(t, ts, http.MethodPost, "/api/completions", `{"kind":"pomodoro"}`); status != http.StatusCreated {
			t.Fatalf("pomodoro: status %d: %s", status, body)
		}
	}
	if status, body := do(t, ts, http.MethodPost, "/api/completions", `{"kind":"task","title":"Yesterday","at":"2025-03-02T18:00:00Z"}`); status != http.StatusCreated {
		t.Fatalf("backdated completion: status %d: %s", status, body)
	}
	for _, bad := range []string{`{"kind":"nap","title":"x"}`, `{"kind":"exam"}`, `not json`} {
		if status, _ := do(t, ts, http.MethodPost, "/api/completions", bad); status != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", bad, status)
		}
	}

	status, body = do(t, ts, http.MethodGet, "/api/streak", "")
	if status != http.StatusOK {
		t.Fatalf("streak: status %d: %s", status, body)
	}
	sr := decode[streakResponse](t, body)
	if sr.Current != 2 || sr.LastCompleted != 2 || !sr.ActiveToday || len(sr.ActiveDays) != 2 || len(sr.Recent) != 4 {
		t.Fatalf("unexpected streak %+v", sr)
	}
	if !sr.Recent[0].At.After(sr.Recent[len(sr.Recent)-1].At) {
		t.Fatal("recent completions should be newest first")
	}

	// Tomorrow nothing is done yet: the strict streak is 0, the last run is 2.
	_, body = do(t, ts, http.MethodGet, "/api/streak?date=2025-03-04", "")
	if sr := decode[streakResponse](t, body); sr.Current != 0 || sr.LastCompleted != 2 {
		t.Fatalf("next day streak %+v", sr)
	}
}

func TestItemsCRUD(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodPost, "/api/items", `{"category":"other","title":"Career fair","date":"2025-03-07","start":"11:00","end":"13:00","kind":"Other"}`)
	if status != http.StatusBadRequest || !strings.Contains(string(body), "custom_kind") {
		t.Fatalf("missing custom kind: status %d: %s", status, body)
	}
	if status, _ := do(t, ts, http.MethodPost, "/api/items", `{"source":"uni","category":"task","title":"x","date":"2025-03-07"}`); status != http.StatusBadRequest {
		t.Fatalf("imported source accepted: %d", status)
	}
	status, body = do(t, ts, http.MethodPost, "/api/items", `{"category":"class","title":"Seminar","repeat":"weekly","days":["fri"],"start_date":"2025-03-01","end_date":"2025-04-01","start":"15:00"}`)
	if status != http.StatusBadRequest || !strings.Contains(string(body), "invalid end") {
		t.Fatalf("class without end: status %d: %s", status, body)
	}

	status, body = do(t, ts, http.MethodPost, "/api/items", `{"category":"class","title":"Seminar","repeat":"weekly","days":["fri"],"start_date":"2025-03-01","end_date":"2025-04-01","start":"15:00","end":"16:30"}`)
	if status != http.StatusCreated {
		t.Fatalf("create class: status %d: %s", status, body)
	}
	seminar := decode[model.ItemSpec](t, body)
	if seminar.Category != model.CategoryClass {
		t.Fatalf("class came back as %v", seminar.Category)
	}
	if status, _ := do(t, ts, http.MethodDelete, "/api/items/"+seminar.ID, ""); status != http.StatusNoContent {
		t.Fatalf("delete class: status %d", status)
	}

	status, body = do(t, ts, http.MethodPost, "/api/items", `{"category":"other","title":"Career fair","date":"2025-03-07","start":"11:00","end":"13:00","kind":"Other","custom_kind":"Fair"}`)
	if status != http.StatusCreated {
		t.Fatalf("create: status %d: %s", status, body)
	}
	created := decode[model.ItemSpec](t, body)
	if created.ID == "" {
		t.Fatal("created item has no ID")
	}

	status, body = do(t, ts, http.MethodGet, "/api/items/"+created.ID, "")
	if status != http.StatusOK || decode[model.ItemSpec](t, body).Title != "Career fair" {
		t.Fatalf("get: status %d: %s", status, body)
	}
	_, body = do(t, ts, http.MethodGet, "/api/items", "")
	if n := len(decode[[]model.ItemSpec](t, body)); n != 5 {
		t.Fatalf("listed %d items, want 5", n)
	}

	if status, _ := do(t, ts, http.MethodDelete, "/api/items/"+created.ID, ""); status != http.StatusNoContent {
		t.Fatalf("delete: status %d", status)
	}
	if status, _ := do(t, ts, http.MethodDelete, "/api/items/"+created.ID, ""); status != http.StatusNotFound {
		t.Fatalf("second delete: status %d", status)
	}
	if status, _ := do(t, ts, http.MethodPut, "/api/items", ""); status != http.StatusMethodNotAllowed {
		t.Fatalf("PUT: status %d", status)
	}
}

func TestCompleteItemUpdatesChecklist(t *testing.T) {
	ts, st := newTestServer(t, nil)

	_, body := do(t, ts, http.MethodGet, "/api/checklist", "")
	before := decode[[]checklistEntry](t, body)
	if len(before) != 2 || before[0].Item.ID != "reading" || before[1].Due != caldate.New(2025, 3, 5) {
		t.Fatalf("unexpected checklist %+v", before)
	}

	status, body := do(t, ts, http.MethodPost, "/api/items/reading/complete", "")
	if status != http.StatusCreated {
		t.Fatalf("complete: status %d: %s", status, body)
	}
	if c := decode[model.Completion](t, body); c.Kind != model.CompletionTask || c.Title != "Reading" {
		t.Fatalf("unexpected completion %+v", c)
	}
	it, err := st.Item(context.Background(), "reading")
	if err != nil || !it.Completed {
		t.Fatalf("task not checked off: %+v %v", it, err)
	}

	_, body = do(t, ts, http.MethodGet, "/api/checklist", "")
	if after := decode[[]checklistEntry](t, body); len(after) != 1 || after[0].Item.ID != "essay" {
		t.Fatalf("unexpected checklist after completion %+v", after)
	}

	if status, _ := do(t, ts, http.MethodPost, "/api/items/algebra/complete", ""); status != http.StatusBadRequest {
		t.Fatalf("completing a class: status %d", status)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}
	ts, _ := newTestServer(t, cfg)

	if status, _ := do(t, ts, http.MethodGet, "/health", ""); status != http.StatusOK {
		t.Fatalf("/health should stay open, got %d", status)
	}
	if status, _ := do(t, ts, http.MethodGet, "/metrics", ""); status != http.StatusOK {
		t.Fatalf("/metrics should stay open, got %d", status)
	}
	if status, _ := do(t, ts, http.MethodGet, "/api/day", ""); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request got %d", status)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/day", nil)
	req.SetBasicAuth("me", "secret")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated request got %d", resp.StatusCode)
	}
}

func TestCalendarMetricsAndRefresh(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodGet, "/calendar.ics", "")
	if status != http.StatusOK {
		t.Fatalf("calendar: status %d", status)
	}
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Linear Algebra", "BYDAY=MO,WE"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("calendar missing %q", want)
		}
	}

	if status, _ := do(t, ts, http.MethodPost, "/api/refresh", ""); status != http.StatusServiceUnavailable {
		t.Fatalf("refresh without subscriptions: status %d", status)
	}

	_, body = do(t, ts, http.MethodGet, "/metrics", "")
	if !strings.Contains(string(body), `planner_http_requests_total{route="/calendar.ics",status="200"} 1`) {
		t.Fatalf("request not counted:\n%s", body)
	}
}
