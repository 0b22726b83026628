package api

import (
	"context"
	"net/http"
	"strconv"
)

const defaultStandingsLimit = 10

// StandingsDependencies defines the community standings reads.
type StandingsDependencies interface {
	Standings(ctx context.Context, n int) ([]Standing, error)
	Standing(ctx context.Context, entryID string) (Standing, error)
}

// StandingsHandler handles standings requests.
type StandingsHandler struct {
	deps     StandingsDependencies
	maxLimit int
}

// NewStandingsHandler creates a new standings handler.
func NewStandingsHandler(deps StandingsDependencies, maxLimit int) *StandingsHandler {
	return &StandingsHandler{
		deps:     deps,
		maxLimit: max(maxLimit, 1),
	}
}

// HandleList handles GET /standings?limit=N. limit defaults to 10.
func (h *StandingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_standings"
	n := min(defaultStandingsLimit, h.maxLimit)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			fail(w, op, NewKind(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		fail(w, op, NewKind(op, ErrLimitExceeded))
		return
	}
	rows, err := h.deps.Standings(r.Context(), n)
	if err != nil {
		fail(w, op, err)
		return
	}
	if rows == nil {
		rows = []Standing{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleGet handles GET /standings/{entry_id}.
func (h *StandingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_standing"
	row, err := h.deps.Standing(r.Context(), r.PathValue("entry_id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}
