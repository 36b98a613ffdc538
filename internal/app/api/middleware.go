package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/app/tasks"
	platformauth "github.com/tasktracker/project/internal/platform/auth"
	"github.com/tasktracker/project/internal/platform/logger"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (h *Handler) requestLog(r *http.Request) *logrus.Entry {
	log := h.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return logger.WithRequestID(log, requestIDFromContext(r.Context()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.requestLog(r).WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   r.RemoteAddr,
		}).Info("request completed")
	})
}

func (h *Handler) cors() *cors.Cors {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
	}
	if allowed == "" || allowed == "*" {
		opts.AllowedOrigins = []string{"*"}
		return cors.New(opts)
	}
	opts.AllowOriginFunc = func(origin string) bool {
		origin = strings.TrimSpace(origin)
		return origin == allowed || isEquivalentLoopbackOrigin(origin, allowed)
	}
	return cors.New(opts)
}

// isEquivalentLoopbackOrigin treats localhost, 127.0.0.1 and ::1 as the same
// host when scheme and port match.
func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type callerContextKey struct{}

// authMiddleware resolves the bearer token into a tasks.Caller. A missing
// header is 401; a token that fails verification is 400.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}
		token := platformauth.BearerToken(header)
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}
		claims, err := h.Identity.Verify(token)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		caller := tasks.Caller{ID: claims.Subject, Username: claims.Username}
		next.ServeHTTP(w, r.WithContext(contextWithCaller(r.Context(), caller)))
	})
}

func contextWithCaller(ctx context.Context, caller tasks.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

func callerFromContext(ctx context.Context) tasks.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(tasks.Caller)
	return caller
}
