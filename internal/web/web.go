package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"planner/internal/caldate"
	"planner/internal/config"
	appLog "planner/internal/log"
	"planner/internal/metrics"
	"planner/internal/model"
	"planner/internal/refresh"
	"planner/internal/store"
)

// Options wires a Server. Config and Store are required.
type Options struct {
	Config    *config.Config
	Store     store.Store
	Location  *time.Location
	Metrics   *metrics.Metrics
	Refresher *refresh.Refresher
	// Now is the clock every "today" and "remaining" question is asked
	// against; time.Now when nil.
	Now func() time.Time
	// AccessLog receives one line per request; os.Stdout when nil.
	AccessLog io.Writer
}

// Server provides the JSON API over the planner core.
type Server struct {
	cfg       *config.Config
	store     store.Store
	loc       *time.Location
	metrics   *metrics.Metrics
	refresher *refresh.Refresher
	now       func() time.Time
	accessLog io.Writer

	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		loc:       opts.Location,
		metrics:   opts.Metrics,
		refresher: opts.Refresher,
		now:       opts.Now,
		accessLog: opts.AccessLog,
		router:    mux.NewRouter(),
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.accessLog == nil {
		s.accessLog = os.Stdout
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped with access logging, panic recovery
// and, when configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	return handlers.LoggingHandler(s.accessLog, h)
}

// Serve listens on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	appLog.Error("http handler panic", errors.New(fmt.Sprint(v...)))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health and /metrics.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Planner", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.handle(s.router, "/health", s.handleHealth, http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.handle(s.router, "/calendar.ics", s.handleCalendar, http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	s.handle(api, "/day", s.handleDay, http.MethodGet)
	s.handle(api, "/agenda", s.handleAgenda, http.MethodGet)
	s.handle(api, "/counters", s.handleCounters, http.MethodGet)
	s.handle(api, "/checklist", s.handleChecklist, http.MethodGet)
	s.handle(api, "/streak", s.handleStreak, http.MethodGet)
	s.handle(api, "/completions", s.handleRecordCompletion, http.MethodPost)
	s.handle(api, "/items", s.handleListItems, http.MethodGet)
	s.handle(api, "/items", s.handlePutItem, http.MethodPost)
	s.handle(api, "/items/{id}", s.handleGetItem, http.MethodGet)
	s.handle(api, "/items/{id}", s.handleDeleteItem, http.MethodDelete)
	s.handle(api, "/items/{id}/complete", s.handleCompleteItem, http.MethodPost)
	s.handle(api, "/refresh", s.handleRefresh, http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// handle registers h under path and labels its metrics with the full route.
func (s *Server) handle(r *mux.Router, path string, h http.HandlerFunc, method string) {
	route := path
	if r != s.router {
		route = "/api" + path
	}
	r.Handle(path, s.metrics.WrapHandler(route, h)).Methods(method)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// today is the current date in the configured zone.
func (s *Server) today() caldate.Date {
	return caldate.Of(s.now().In(s.loc))
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today.
func (s *Server) dateParam(r *http.Request) (caldate.Date, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return s.today(), nil
	}
	d, err := caldate.Parse(v)
	if err != nil {
		return caldate.Date{}, &model.ValidationError{Field: "date", Err: err}
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps err onto a status: validation 400, missing 404, the rest
// 500 with the detail kept out of the response.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("api request failed", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
