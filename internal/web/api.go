package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"planner/internal/caldate"
	"planner/internal/ics"
	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/schedule"
	"planner/internal/streak"
)

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID string         `json:"source_id"`
	Category model.Category `json:"category"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle,omitempty"`
	Color    string         `json:"color,omitempty"`
	Date     caldate.Date   `json:"date"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
}

type groupDTO struct {
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

type dayDTO struct {
	Date        caldate.Date    `json:"date"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	Groups      []groupDTO      `json:"groups"`
}

func toOccurrenceDTOs(occ []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		out = append(out, occurrenceDTO{
			SourceID: o.SourceID,
			Category: o.Category,
			Title:    o.Title,
			Subtitle: o.Subtitle,
			Color:    o.Color,
			Date:     o.Date,
			Start:    o.Start,
			End:      o.End,
		})
	}
	return out
}

func toDayDTO(day schedule.DayAgenda) dayDTO {
	groups := make([]groupDTO, 0, len(day.Groups))
	for _, g := range day.Groups {
		groups = append(groups, groupDTO{Start: g.Start, End: g.End, Occurrences: toOccurrenceDTOs(g.Members)})
	}
	return dayDTO{Date: day.Date, Occurrences: toOccurrenceDTOs(day.Occurrences), Groups: groups}
}

func (s *Server) filterParam(r *http.Request) (model.Filter, error) {
	f, err := model.ParseFilter(r.URL.Query().Get("categories"))
	if err != nil {
		return 0, &model.ValidationError{Field: "categories", Err: err}
	}
	return f, nil
}

// handleDay returns the occurrences of one date and their overlap groups.
//
// GET /api/day?date=2025-03-03&categories=class,exam&remaining=true
//   - remaining: drop occurrences that already ended at the current moment
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	filter, err := s.filterParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	q := schedule.DayQuery{Date: date, Filter: filter, Location: s.loc}
	if v := r.URL.Query().Get("remaining"); v != "" {
		remaining, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, r, &model.ValidationError{Field: "remaining", Err: err})
			return
		}
		if remaining {
			now := s.now()
			q.Cutoff = &now
		}
	}

	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	occ := schedule.OccurrencesOn(items, q)
	writeJSON(w, http.StatusOK, toDayDTO(schedule.DayAgenda{Date: date, Occurrences: occ, Groups: schedule.Group(occ)}))
}

type agendaResponse struct {
	View string       `json:"view"`
	From caldate.Date `json:"from"`
	To   caldate.Date `json:"to"`
	Days []dayDTO     `json:"days"`
}

// handleAgenda returns a day, week or month view around ?date.
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.dateParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	filter, err := s.filterParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	view := strings.ToLower(r.URL.Query().Get("view"))
	var from, to caldate.Date
	switch view {
	case "day":
		from, to = anchor, anchor
	case "", "week":
		view = "week"
		from, to = caldate.WeekRange(anchor, s.cfg.FirstWeekday())
	case "month":
		from, to = caldate.MonthRange(anchor)
	default:
		writeFailure(w, r, &model.ValidationError{Field: "view", Err: errors.New("want day, week or month")})
		return
	}

	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	days := schedule.Agenda(items, from, to, schedule.DayQuery{Filter: filter, Location: s.loc})
	resp := agendaResponse{View: view, From: from, To: to, Days: make([]dayDTO, 0, len(days))}
	for _, d := range days {
		resp.Days = append(resp.Days, toDayDTO(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

type counterDTO struct {
	Category model.Category `json:"category"`
	// LeftToday counts today's occurrences that have not ended yet.
	LeftToday   int `json:"left_today"`
	Occurrences int `json:"occurrences"`
	Items       int `json:"items"`
}

type countersResponse struct {
	Date     caldate.Date `json:"date"`
	Days     int          `json:"days"`
	Counters []counterDTO `json:"counters"`
}

// handleCounters returns the badge counts of every category over the
// configured horizon starting at ?date.
func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	now := s.now()
	resp := countersResponse{Date: date, Days: s.cfg.HorizonDays}
	for _, c := range model.Categories() {
		window := schedule.WindowQuery{Category: c, Today: date, Days: s.cfg.HorizonDays, Location: s.loc}
		left := schedule.WindowQuery{Category: c, Today: date, Days: 0, NotYetEnded: true, Now: now, Location: s.loc}
		resp.Counters = append(resp.Counters, counterDTO{
			Category:    c,
			LeftToday:   schedule.CountOccurrences(items, left),
			Occurrences: schedule.CountOccurrences(items, window),
			Items:       schedule.CountVisibleItems(items, window),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type checklistEntry struct {
	Due  caldate.Date   `json:"due"`
	Item model.ItemSpec `json:"item"`
}

// handleChecklist lists open tasks due within the checklist window.
func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	last := date.AddDays(s.cfg.ChecklistDays)
	tasks := schedule.UpcomingTasks(items, date, s.cfg.ChecklistDays)
	out := make([]checklistEntry, 0, len(tasks))
	for _, it := range tasks {
		due := it.Rule.Expand(date, last)[0]
		out = append(out, checklistEntry{Due: due, Item: model.SpecOf(it)})
	}
	writeJSON(w, http.StatusOK, out)
}

type streakResponse struct {
	Date          caldate.Date       `json:"date"`
	Current       int                `json:"current"`
	LastCompleted int                `json:"last_completed"`
	ActiveToday   bool               `json:"active_today"`
	ActiveDays    []caldate.Date     `json:"active_days"`
	Recent        []model.Completion `json:"recent"`
}

// handleStreak summarizes completion history as of ?date.
func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	cs, err := s.store.Completions(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	days := streak.FromCompletions(cs)
	writeJSON(w, http.StatusOK, streakResponse{
		Date:          date,
		Current:       days.CurrentStreak(date),
		LastCompleted: days.LastCompletedStreak(date),
		ActiveToday:   days.IsActive(date),
		ActiveDays:    days.ActiveBetween(date.AddDays(-(s.cfg.HistoryDays - 1)), date),
		Recent:        streak.Recent(cs, date, s.cfg.HistoryDays),
	})
}

type completionRequest struct {
	Kind    string     `json:"kind"`
	Title   string     `json:"title"`
	Details string     `json:"details"`
	At      *time.Time `json:"at,omitempty"`
}

// handleRecordCompletion stores a completion. A task or exam already
// completed that day with the same title is answered with 200 and the
// existing record.
func (s *Server) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, r, &model.ValidationError{Field: "body", Err: err})
		return
	}
	kind, err := model.ParseCompletionKind(req.Kind)
	if err != nil {
		writeFailure(w, r, &model.ValidationError{Field: "kind", Err: err})
		return
	}
	if kind != model.CompletionPomodoro && strings.TrimSpace(req.Title) == "" {
		writeFailure(w, r, &model.ValidationError{Field: "title", Err: errors.New("required")})
		return
	}
	at := s.now()
	if req.At != nil {
		at = *req.At
	}
	s.recordCompletion(w, r, model.Completion{At: at.In(s.loc), Kind: kind, Title: req.Title, Details: req.Details})
}

func (s *Server) recordCompletion(w http.ResponseWriter, r *http.Request, c model.Completion) {
	stored, created, err := s.store.RecordCompletion(r.Context(), c)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.metrics.CompletionRecorded(string(stored.Kind))
		appLog.Info("completion recorded", "kind", stored.Kind, "title", stored.Title, "date", stored.Date())
	}
	writeJSON(w, status, stored)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	specs := make([]model.ItemSpec, 0, len(items))
	for _, it := range items {
		specs = append(specs, model.SpecOf(it))
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.store.Item(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SpecOf(it))
}

// handlePutItem creates or replaces a locally entered item.
func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	var spec model.ItemSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeFailure(w, r, &model.ValidationError{Field: "body", Err: err})
		return
	}
	if spec.Source != "" {
		writeFailure(w, r, &model.ValidationError{Field: "source", Err: errors.New("imported items are managed by their subscription")})
		return
	}
	it, err := spec.Build()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	saved, err := s.store.PutItem(r.Context(), it)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.SpecOf(saved))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteItem(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompleteItem checks off a task and records a task completion for
// the streak. Exams only record the completion.
func (s *Server) handleCompleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	it, err := s.store.Item(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	var kind model.CompletionKind
	switch it.Category {
	case model.CategoryTask:
		kind = model.CompletionTask
		if !it.Completed {
			it.Completed = true
			if _, err := s.store.PutItem(ctx, it); err != nil {
				writeFailure(w, r, err)
				return
			}
		}
	case model.CategoryExam:
		kind = model.CompletionExam
	default:
		writeFailure(w, r, &model.ValidationError{Field: "category", Err: errors.New("only tasks and exams can be completed")})
		return
	}
	s.recordCompletion(w, r, model.Completion{
		At:      s.now().In(s.loc),
		Kind:    kind,
		Title:   it.Title,
		Details: schedule.SubtitleOf(it),
	})
}

// handleRefresh re-imports every subscription now.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "no subscriptions configured")
		return
	}
	sum, err := s.refresher.Run(r.Context())
	if err != nil {
		// Per-source failures are reported in the summary.
		appLog.Error("api refresh: some sources failed", err, "failed", sum.Failed())
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleCalendar exports every item as an ICS feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Items(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	cal := ics.Export(items, s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="planner.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := cal.SerializeTo(w); err != nil {
		appLog.Error("failed to write calendar", err)
	}
}
