package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/tenancy"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ClinicHeader carries the tenant of staff-facing requests.
const ClinicHeader = "X-Clinic-ID"

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"request_id", GetRequestID(r.Context()),
			}
			if wrapped.clinicID != uuid.Nil {
				attrs = append(attrs, "clinic_id", wrapped.clinicID)
			}
			logger.Info("http request", attrs...)
		})
	}
}

// ClinicScope requires a valid X-Clinic-ID header and scopes the request to it.
func ClinicScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ClinicHeader)
		if raw == "" {
			writeError(w, http.StatusBadRequest, "missing_clinic_id", ClinicHeader+" header is required")
			return
		}
		clinicID, err := uuid.Parse(raw)
		if err != nil || clinicID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", ClinicHeader+" must be a valid UUID")
			return
		}
		scopeRequest(w, r, next, clinicID)
	})
}

// PathClinicScope scopes the request to the clinic named in the URL.
func PathClinicScope(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clinicID, err := uuid.Parse(chi.URLParam(r, param))
			if err != nil || clinicID == uuid.Nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic id must be a valid UUID")
				return
			}
			scopeRequest(w, r, next, clinicID)
		})
	}
}

// scopeRequest also tags the wrapped writer so the request log carries the clinic.
func scopeRequest(w http.ResponseWriter, r *http.Request, next http.Handler, clinicID uuid.UUID) {
	ctx := tenancy.WithClinicID(r.Context(), clinicID)
	if rw, ok := w.(*responseWriter); ok {
		rw.clinicID = clinicID
	}
	next.ServeHTTP(w, r.WithContext(ctx))
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	clinicID   uuid.UUID
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
