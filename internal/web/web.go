package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"timetable/internal/app"
	"timetable/internal/backend"
	"timetable/internal/calsync"
	"timetable/internal/config"
	"timetable/internal/loader"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/resolver"
)

// Server exposes the session held by an *app.App over a local HTTP API.
type Server struct {
	app *app.App
	cfg *config.Config
	mux *http.ServeMux

	// base outlives individual requests; background sync sessions run on it.
	base context.Context
}

// NewServer constructs a new Server. Sync sessions started through the API
// are cancelled when ctx is.
func NewServer(ctx context.Context, a *app.App) *Server {
	s := &Server{
		app:  a,
		cfg:  a.Config(),
		mux:  http.NewServeMux(),
		base: ctx,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Timetable", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
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
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/resolve", s.handleResolve)
	s.mux.HandleFunc("GET /api/plan", s.handlePlan)
	s.mux.HandleFunc("POST /api/fetch", s.handleFetch)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("POST /api/sync", s.handleStartSync)
	s.mux.HandleFunc("GET /api/sync", s.handleSyncStatus)
	s.mux.HandleFunc("GET /schedule.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Status())
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	Schedule *model.ScheduleSnapshot `json:"schedule"`
	Rows     []resolver.Row          `json:"rows"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.app.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, app.ErrNoSchedule.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{Schedule: snap, Rows: s.app.Rows()})
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	Kind        model.OccurrenceKind `json:"kind"`
	UID         string               `json:"uid"`
	InstanceKey string               `json:"instance_key"`
	Summary     string               `json:"summary"`
	Description string               `json:"description"`
	Location    string               `json:"location"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
}

// handleOccurrences returns the current schedule expanded across the
// semester.
//
// GET /api/occurrences?limit=20
//   - limit: keep only the first n occurrences (default: all)
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Occurrences()
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	occ := res.Occurrences
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(occ) {
		occ = occ[:limit]
	}

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, occurrenceDTO{
			Kind:        o.Kind,
			UID:         o.UID,
			InstanceKey: o.InstanceKey,
			Summary:     o.Summary,
			Description: o.Description,
			Location:    o.Location,
			Start:       o.Start,
			End:         o.End,
		})
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences:     dtos,
		TruncatedUIDs:   res.TruncatedEvents,
		DisplayTimeZone: s.cfg.Location().String(),
	})
}

// resolveResponse carries a null identity when the name normalizes to
// nothing.
type resolveResponse struct {
	Name     string            `json:"name"`
	Identity resolver.Identity `json:"identity"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeAppError(w, &app.ValidationError{Field: "name", Message: "a name is required"})
		return
	}
	id, _ := s.app.Resolve(name)
	writeJSON(w, http.StatusOK, resolveResponse{Name: name, Identity: id})
}

func (s *Server) handlePlan(w http.ResponseWriter, _ *http.Request) {
	plan := s.app.Plan()
	if plan == nil {
		plan = []model.AcademicPlanItem{}
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleFetch extracts a schedule for the roll_number form value.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Fetch(r.Context(), r.FormValue("roll_number"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{Schedule: snap, Rows: s.app.Rows()})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.app.Reset(); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartSync starts a background sync session; progress is read back
// through GET /api/sync.
func (s *Server) handleStartSync(w http.ResponseWriter, _ *http.Request) {
	session, err := s.app.StartSync(s.base)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	w.Header().Set("Location", "/api/sync")
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	session, ok := s.app.SyncStatus()
	if !ok {
		writeError(w, http.StatusNotFound, "no sync session yet")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleICS serves the current schedule as a calendar file.
//
// GET /schedule.ics?source=backend
//   - source: "local" (default) builds the file here, "backend" asks the
//     backend for its rendering
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	var (
		file *backend.ICSFile
		err  error
	)
	switch src := r.URL.Query().Get("source"); src {
	case "", "local":
		file, _, err = s.app.ExportLocal()
	case "backend":
		file, err = s.app.ExportBackend(r.Context())
	default:
		err = &app.ValidationError{Field: "source", Message: "must be local or backend"}
	}
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

// writeAppError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var (
		verr *app.ValidationError
		xerr *backend.ExtractionError
		cerr *loader.ConnectivityError
		serr *loader.StatusError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &xerr):
		status := xerr.Code
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, xerr.Detail)
	case errors.Is(err, app.ErrNoSchedule), errors.Is(err, calsync.ErrNothingToSync):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, calsync.ErrSessionInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cerr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &serr):
		writeError(w, http.StatusBadGateway, serr.Detail)
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
