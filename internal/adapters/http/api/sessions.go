package api

import (
	"context"
	"net/http"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/session"
)

// SessionDependencies defines the session lifecycle operations.
type SessionDependencies interface {
	CreateSession(ctx context.Context, q model.Query) (session.View, error)
	Resubmit(ctx context.Context, id string, q model.Query) (session.View, error)
	Session(ctx context.Context, id string) (session.View, error)
	Result(ctx context.Context, id string) (model.Ranking, error)
	DeleteSession(ctx context.Context, id string) error
}

// SessionsHandler handles /sessions requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandleCreate handles POST /sessions. The body is a query selecting the
// entries to rank.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_session"
	q, err := decodeQuery(w, r, op)
	if err != nil {
		fail(w, op, err)
		return
	}
	v, err := h.deps.CreateSession(r.Context(), q)
	if err != nil {
		fail(w, op, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+v.ID)
	writeJSON(w, http.StatusCreated, v)
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session"
	v, err := h.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleResubmit handles PUT /sessions/{id}: a new query restarts the
// ranking from scratch.
func (h *SessionsHandler) HandleResubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.resubmit_session"
	q, err := decodeQuery(w, r, op)
	if err != nil {
		fail(w, op, err)
		return
	}
	v, err := h.deps.Resubmit(r.Context(), r.PathValue("id"), q)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleDelete handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_session"
	if err := h.deps.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResult handles GET /sessions/{id}/result.
func (h *SessionsHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_result"
	res, err := h.deps.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
