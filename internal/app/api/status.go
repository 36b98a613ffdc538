package api

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/a-h/templ"
)

const statusMessage = "Task Manager API is running"

func statusPage() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!doctype html><html lang="en"><head><meta charset="utf-8"><title>Task Manager API</title></head><body><p>`+
			templ.EscapeString(statusMessage)+
			`</p></body></html>`)
		return err
	})
}

func (h *Handler) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	templ.Handler(statusPage()).ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.ReadyChecks))
	for name := range h.ReadyChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
	defer cancel()
	for _, name := range names {
		if err := h.ReadyChecks[name](ctx); err != nil {
			h.requestLog(r).WithError(err).WithField("dependency", name).Warn("readiness check failed")
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
