package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/app/identity"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/platform/auth"
	"github.com/tasktracker/project/internal/platform/metrics"
	"github.com/tasktracker/project/internal/platform/ratelimit"
)

type TaskService interface {
	Create(ctx context.Context, caller tasks.Caller, in tasks.CreateInput) (tasks.Task, error)
	List(ctx context.Context, caller tasks.Caller) ([]tasks.Task, error)
	Update(ctx context.Context, caller tasks.Caller, id string, patch tasks.Patch) (tasks.Task, error)
	Delete(ctx context.Context, caller tasks.Caller, id string) error
}

type IdentityService interface {
	Register(ctx context.Context, username, password string) (identity.AuthResponse, error)
	Login(ctx context.Context, username, password string) (identity.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (identity.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Verify(token string) (auth.Claims, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Handler struct {
	Tasks         TaskService
	Identity      IdentityService
	Log           *logrus.Entry
	AllowedOrigin string

	Limiter    ratelimit.Allower
	AuthLimit  int
	AuthWindow time.Duration

	Metrics        *metrics.HTTP
	MetricsHandler http.Handler
	ReadyChecks    map[string]ReadyCheck
}

func NewHandler(taskSvc TaskService, identitySvc IdentityService, log *logrus.Entry, allowedOrigin string) *Handler {
	return &Handler{
		Tasks:         taskSvc,
		Identity:      identitySvc,
		Log:           log,
		AllowedOrigin: allowedOrigin,
		ReadyChecks:   map[string]ReadyCheck{},
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(h.logRequests)
	r.Use(h.cors().Handler)

	r.Get("/", h.handleStatusPage)
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	if h.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.MetricsHandler)
	}

	r.Route("/api/auth", func(ar chi.Router) {
		ar.With(ratelimit.Middleware(h.Limiter, "register", h.AuthLimit, h.AuthWindow, h.Log)).
			Post("/register", h.handleRegister)
		ar.With(ratelimit.Middleware(h.Limiter, "login", h.AuthLimit, h.AuthWindow, h.Log)).
			Post("/login", h.handleLogin)
		ar.Post("/refresh", h.handleRefresh)
		ar.Post("/logout", h.handleLogout)
	})

	r.Route("/api/tasks", func(tr chi.Router) {
		tr.Use(h.authMiddleware)
		tr.Post("/", h.handleCreateTask)
		tr.Get("/", h.handleListTasks)
		tr.Put("/{id}", h.handleUpdateTask)
		tr.Delete("/{id}", h.handleDeleteTask)
	})

	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"message": msg})
}

// writeInternal logs the cause and hides it from the client.
func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	h.requestLog(r).WithError(err).Error("request failed")
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
