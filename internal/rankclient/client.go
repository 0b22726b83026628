// Package rankclient talks to the songrank HTTP API. It backs the ranker
// command: an interactive prompt and a load simulator that verifies the
// service end to end.
package rankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/session"
)

const defaultTimeout = 30 * time.Second

// ErrUnexpectedStatus is wrapped by APIError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrUnexpectedStatus }

// DecisionView is a session view plus whether the request was a replay.
type DecisionView struct {
	session.View
	Duplicate bool `json:"duplicate"`
}

// Standing is one row of the community table.
type Standing struct {
	Rank    int    `json:"rank"`
	EntryID string `json:"entry_id"`
	Title   string `json:"title"`
	Points  int    `json:"points"`
	Voters  int    `json:"voters"`
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client calls one songrank server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:9080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession starts a ranking over the entries q selects.
func (c *Client) CreateSession(ctx context.Context, q model.Query) (session.View, error) {
	var v session.View
	err := c.do(ctx, http.MethodPost, "/sessions", q, http.StatusCreated, &v)
	return v, err
}

// Session reads the current state of a session.
func (c *Client) Session(ctx context.Context, id string) (session.View, error) {
	var v session.View
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, http.StatusOK, &v)
	return v, err
}

// Decide answers the pending comparison.
func (c *Client) Decide(ctx context.Context, id string, preferLeft bool, requestID string) (DecisionView, error) {
	body := map[string]any{"prefer_left": preferLeft}
	if requestID != "" {
		body["request_id"] = requestID
	}
	var v DecisionView
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/decisions", body, http.StatusOK, &v)
	return v, err
}

// Undo drops the last decision.
func (c *Client) Undo(ctx context.Context, id, requestID string) (DecisionView, error) {
	var v DecisionView
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/undo", map[string]string{"request_id": requestID}, http.StatusOK, &v)
	return v, err
}

// Result fetches the final ranking of a complete session.
func (c *Client) Result(ctx context.Context, id string) (model.Ranking, error) {
	var r model.Ranking
	err := c.do(ctx, http.MethodGet, "/sessions/"+id+"/result", nil, http.StatusOK, &r)
	return r, err
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, http.StatusNoContent, nil)
}

// Standings fetches the best n community standings.
func (c *Client) Standings(ctx context.Context, n int) ([]Standing, error) {
	var rows []Standing
	err := c.do(ctx, http.MethodGet, "/standings?limit="+strconv.Itoa(n), nil, http.StatusOK, &rows)
	return rows, err
}

// Health checks that the service answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// StatusOf returns the HTTP status of an APIError, or zero.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
