package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/songrank/pkg/logger"
	"github.com/okian/songrank/pkg/metrics"
)

// MetricsMiddleware records request counts and latency per endpoint. Error
// responses are counted by their API error code, so a 409 shows up as
// ranking_complete or ranking_incomplete rather than a bare status.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(elapsed.Microseconds())/1000)

		if rec.status < http.StatusBadRequest {
			return
		}
		kind := rec.code
		if kind == "" {
			kind = statusClass(rec.status)
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, kind)
		metrics.RecordErrorByType(kind, severity(rec.status))

		if rec.status >= http.StatusInternalServerError {
			logger.Get().Named("api").Error(r.Context(), "request failed",
				logger.String("endpoint", endpoint),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", rec.status),
				logger.String("code", kind),
				logger.Duration("elapsed", elapsed),
			)
		}
	}
}

// statusClass names responses written without an API error code, such as
// the mux's own 404 and 405 answers.
func statusClass(status int) string {
	switch {
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// severity ranks errors for alerting. Unavailability is transient
// backpressure, so it sits below other server errors.
func severity(status int) string {
	switch {
	case status == http.StatusServiceUnavailable:
		return "medium"
	case status >= http.StatusInternalServerError:
		return "high"
	default:
		return "low"
	}
}

// statusRecorder captures the status and API error code of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) setErrorCode(code string) { rec.code = code }

// errorCoder is satisfied by statusRecorder; writeError reports through it.
type errorCoder interface {
	setErrorCode(code string)
}
