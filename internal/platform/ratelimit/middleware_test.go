package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktracker/project/internal/platform/logger"
)

type fakeAllower struct {
	remaining map[string]int
	err       error
	keys      []string
}

func (f *fakeAllower) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return Result{}, f.err
	}
	left, ok := f.remaining[key]
	if !ok {
		left = limit
	}
	if left <= 0 {
		return Result{Allowed: false, Limit: limit, ResetAt: time.Now().Add(window)}, nil
	}
	f.remaining[key] = left - 1
	return Result{Allowed: true, Remaining: left - 1, Limit: limit}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	fake := &fakeAllower{remaining: map[string]int{}}
	h := Middleware(fake, "login", 2, time.Minute, logger.Discard())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rr.Header().Get("Retry-After"))
			assert.Contains(t, rr.Body.String(), "Too many requests")
		}
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "login:10.0.0.1", fake.keys[0])
}

func TestMiddleware_KeysPerClient(t *testing.T) {
	fake := &fakeAllower{remaining: map[string]int{}}
	h := Middleware(fake, "register", 1, time.Minute, logger.Discard())(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
}

func TestMiddleware_FailsOpen(t *testing.T) {
	fake := &fakeAllower{err: errors.New("redis down")}
	h := Middleware(fake, "login", 1, time.Minute, logger.Discard())(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestMiddleware_NilAllowerPassesThrough(t *testing.T) {
	h := Middleware(nil, "login", 1, time.Minute, logger.Discard())(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
