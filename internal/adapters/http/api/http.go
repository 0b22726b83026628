// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/songrank/internal/adapters/catalog"
	"github.com/okian/songrank/internal/adapters/repository"
	"github.com/okian/songrank/internal/adapters/sessionstore"
	service "github.com/okian/songrank/internal/app"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/session"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	DecisionDependencies
	StandingsDependencies
}

// Standing mirrors the read shape returned by standings queries.
type Standing = repository.Standing

// Server wires HTTP routes for the ranking API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	sessionsHandler  *SessionsHandler
	decisionsHandler *DecisionsHandler
	standingsHandler *StandingsHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps
// GET /standings?limit.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		sessionsHandler:  NewSessionsHandler(deps),
		decisionsHandler: NewDecisionsHandler(deps),
		standingsHandler: NewStandingsHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleCreate, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "session"))
	mux.HandleFunc("PUT /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleResubmit, "session"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleDelete, "session"))
	mux.HandleFunc("GET /sessions/{id}/result", MetricsMiddleware(s.sessionsHandler.HandleResult, "result"))

	mux.HandleFunc("POST /sessions/{id}/decisions", MetricsMiddleware(s.decisionsHandler.HandleDecide, "decisions"))
	mux.HandleFunc("POST /sessions/{id}/undo", MetricsMiddleware(s.decisionsHandler.HandleUndo, "undo"))

	mux.HandleFunc("GET /standings", MetricsMiddleware(s.standingsHandler.HandleList, "standings"))
	mux.HandleFunc("GET /standings/{entry_id}", MetricsMiddleware(s.standingsHandler.HandleGet, "standing"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// viewResponse is a session view plus whether the request was a replay.
type viewResponse struct {
	session.View
	Duplicate bool `json:"duplicate"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	if ec, ok := w.(errorCoder); ok {
		ec.setErrorCode(code)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err to a status and error code and writes it.
func fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	var oe *opError
	if !errors.As(err, &oe) {
		err = Wrap(op, err)
	}
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest, "limit_exceeded"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, sessionstore.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, catalog.ErrNoEntries):
		return http.StatusNotFound, "no_entries"
	case errors.Is(err, session.ErrComplete):
		return http.StatusConflict, "ranking_complete"
	case errors.Is(err, service.ErrNotComplete):
		return http.StatusConflict, "ranking_incomplete"
	case errors.Is(err, service.ErrBackpressure), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, op string, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

func decodeQuery(w http.ResponseWriter, r *http.Request, op string) (model.Query, error) {
	var q model.Query
	if err := decodeBody(w, r, op, &q, false); err != nil {
		return q, err
	}
	return q, nil
}
