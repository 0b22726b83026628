package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/songrank/internal/domain/session"
)

// DecisionDependencies defines the comparison operations.
type DecisionDependencies interface {
	Decide(ctx context.Context, id string, preferLeft bool, requestID string) (session.View, bool, error)
	Undo(ctx context.Context, id, requestID string) (session.View, bool, error)
}

// decisionRequest mirrors the OpenAPI schema for POST /sessions/{id}/decisions.
type decisionRequest struct {
	PreferLeft *bool  `json:"prefer_left"`
	RequestID  string `json:"request_id"`
}

func (d decisionRequest) validate() error {
	if d.PreferLeft == nil {
		return errors.New("missing prefer_left")
	}
	if len(d.RequestID) > 128 {
		return errors.New("request_id longer than 128 characters")
	}
	return nil
}

type undoRequest struct {
	RequestID string `json:"request_id"`
}

// DecisionsHandler handles decide and undo requests.
type DecisionsHandler struct {
	deps DecisionDependencies
}

// NewDecisionsHandler creates a new decisions handler.
func NewDecisionsHandler(deps DecisionDependencies) *DecisionsHandler {
	return &DecisionsHandler{deps: deps}
}

// HandleDecide handles POST /sessions/{id}/decisions. A request_id makes
// retries safe: a replay returns the current view with duplicate set.
func (h *DecisionsHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	const op = "api.decide"
	var req decisionRequest
	if err := decodeBody(w, r, op, &req, false); err != nil {
		fail(w, op, err)
		return
	}
	if err := req.validate(); err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	v, dup, err := h.deps.Decide(r.Context(), r.PathValue("id"), *req.PreferLeft, strings.TrimSpace(req.RequestID))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: v, Duplicate: dup})
}

// HandleUndo handles POST /sessions/{id}/undo. The body is optional.
func (h *DecisionsHandler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	const op = "api.undo"
	var req undoRequest
	if err := decodeBody(w, r, op, &req, true); err != nil {
		fail(w, op, err)
		return
	}
	v, dup, err := h.deps.Undo(r.Context(), r.PathValue("id"), strings.TrimSpace(req.RequestID))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: v, Duplicate: dup})
}
