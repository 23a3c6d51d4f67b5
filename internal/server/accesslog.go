package server

import (
	"net/http"
	"time"

	"github.com/userhub/userhub/internal/logging"
)

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog emits one line per request, carrying the request id stamped by
// the RequestID middleware. Severity follows the outcome: server faults are
// errors, client faults warnings, the rest informational.
func accessLog(log *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			log.ErrorContext(r.Context(), "request failed", args...)
		case rec.status >= http.StatusBadRequest:
			log.WarnContext(r.Context(), "request rejected", args...)
		default:
			log.InfoContext(r.Context(), "request served", args...)
		}
	})
}
