package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/tasktracker/project/internal/platform/logger"
	"github.com/tasktracker/project/internal/platform/metrics"
)

type config struct {
	APIBase                 string        `envconfig:"LOADGEN_API_BASE" default:"http://localhost:5050"`
	Users                   int           `envconfig:"LOADGEN_USERS" default:"50"`
	SetupConcurrency        int           `envconfig:"LOADGEN_SETUP_CONCURRENCY" default:"10"`
	StartupWait             time.Duration `envconfig:"LOADGEN_STARTUP_WAIT" default:"2m"`
	Duration                time.Duration `envconfig:"LOADGEN_DURATION" default:"5m"`
	RampUp                  time.Duration `envconfig:"LOADGEN_RAMP_UP" default:"30s"`
	ActionsPerUserPerSecond float64       `envconfig:"LOADGEN_ACTIONS_PER_USER_PER_SECOND" default:"0.5"`
	RequestTimeout          time.Duration `envconfig:"LOADGEN_REQUEST_TIMEOUT" default:"10s"`
	MetricsAddr             string        `envconfig:"LOADGEN_METRICS_ADDR" default:":9099"`
	Password                string        `envconfig:"LOADGEN_PASSWORD" default:"load-test-pass-123"`
	LogLevel                string        `envconfig:"LOG_LEVEL" default:"info"`
}

type authResponse struct {
	Token string `json:"token"`
}

type taskResponse struct {
	ID string `json:"id"`
}

type simulatedUser struct {
	Index    int
	Username string
	Token    string

	mu    sync.Mutex
	tasks []string
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client
	log    *logrus.Entry

	requestsTotal *prometheus.CounterVec
	actionsTotal  *prometheus.CounterVec
	activeUsers   prometheus.Gauge

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New("task-loadgen", cfg.LogLevel)
	if cfg.Users <= 0 || cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_USERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	registry := metrics.NewRegistry()
	r := newRunner(cfg, log, registry)
	go runMetricsServer(log, cfg.MetricsAddr, registry)

	if err := r.waitForReady(ctx); err != nil {
		log.WithError(err).Fatal("task-api not ready")
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.WithFields(logrus.Fields{
		"users":         len(users),
		"duration":      cfg.Duration.String(),
		"rate_per_user": cfg.ActionsPerUserPerSecond,
	}).Info("load generator initialized")

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range users {
		user := user
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runUser(ctx, user)
		}()
	}
	wg.Wait()

	log.WithFields(logrus.Fields{
		"success_requests": r.requestsSuccess.Load(),
		"error_requests":   r.requestsError.Load(),
	}).Info("load test complete")
}

func newRunner(cfg config, log *logrus.Entry, reg prometheus.Registerer) *runner {
	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		log:   log,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Users * 4,
				MaxIdleConnsPerHost: cfg.Users * 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_requests_total",
			Help: "HTTP requests sent by the load generator.",
		}, []string{"endpoint", "method", "status", "outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_actions_total",
			Help: "Task actions executed by the load generator.",
		}, []string{"action", "outcome"}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_virtual_users",
			Help: "Virtual users currently sending actions.",
		}),
	}
	reg.MustRegister(r.requestsTotal, r.actionsTotal, r.activeUsers)
	return r
}

func (r *runner) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	p := pool.NewWithResults[*simulatedUser]().WithContext(ctx).WithMaxGoroutines(r.cfg.SetupConcurrency)
	for i := 0; i < r.cfg.Users; i++ {
		p.Go(func(ctx context.Context) (*simulatedUser, error) {
			user, err := r.setupSingleUser(ctx, i)
			if err != nil {
				r.log.WithError(err).Warn("user setup failed")
				return nil, err
			}
			return user, nil
		})
	}
	// Failed users are already logged; keep the ones that registered.
	results, _ := p.Wait()

	users := make([]*simulatedUser, 0, len(results))
	for _, u := range results {
		if u != nil {
			users = append(users, u)
		}
	}
	r.log.WithFields(logrus.Fields{"success": len(users), "failed": r.cfg.Users - len(users)}).Info("user setup complete")
	return users
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{
		Index:    idx,
		Username: fmt.Sprintf("load-%s-%04d", r.runID, idx),
	}
	creds := map[string]string{"username": user.Username, "password": r.cfg.Password}

	var auth authResponse
	status, err := r.requestJSON(ctx, "register", http.MethodPost, "/api/auth/register", creds, "", &auth,
		http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", user.Username, err)
	}
	if status == http.StatusConflict {
		if _, err := r.requestJSON(ctx, "login", http.MethodPost, "/api/auth/login", creds, "", &auth, http.StatusOK); err != nil {
			return nil, fmt.Errorf("login %s: %w", user.Username, err)
		}
	}
	if auth.Token == "" {
		return nil, fmt.Errorf("empty token for %s", user.Username)
	}
	user.Token = auth.Token
	return user, nil
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(r.cfg.Users) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.activeUsers.Inc()
	defer r.activeUsers.Dec()

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 25*time.Millisecond)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	taskID, hasTask := user.randomTask(rng)
	choice := rng.Float64()
	switch {
	case !hasTask || choice < 0.45:
		r.createTask(ctx, user, rng)
	case choice < 0.65:
		r.listTasks(ctx, user)
	case choice < 0.90:
		r.updateTask(ctx, user, rng, taskID)
	default:
		r.deleteTask(ctx, user, taskID)
	}
}

var priorities = []string{"Low", "Medium", "High"}

func (r *runner) createTask(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	var resp taskResponse
	_, err := r.requestJSON(ctx, "create_task", http.MethodPost, "/api/tasks", map[string]any{
		"title":    fmt.Sprintf("Load Task %d", rng.Intn(1_000_000)),
		"priority": priorities[rng.Intn(len(priorities))],
		"dueDate":  time.Now().UTC().AddDate(0, 0, rng.Intn(30)).Format("2006-01-02"),
	}, user.Token, &resp, http.StatusCreated)
	r.countAction("create", err)
	if err == nil {
		user.addTask(resp.ID)
	}
}

func (r *runner) listTasks(ctx context.Context, user *simulatedUser) {
	_, err := r.requestJSON(ctx, "list_tasks", http.MethodGet, "/api/tasks", nil, user.Token, nil, http.StatusOK)
	r.countAction("list", err)
}

func (r *runner) updateTask(ctx context.Context, user *simulatedUser, rng *rand.Rand, taskID string) {
	_, err := r.requestJSON(ctx, "update_task", http.MethodPut, "/api/tasks/"+taskID, map[string]any{
		"completed": rng.Intn(2) == 0,
		"priority":  priorities[rng.Intn(len(priorities))],
	}, user.Token, nil, http.StatusOK)
	r.countAction("update", err)
}

func (r *runner) deleteTask(ctx context.Context, user *simulatedUser, taskID string) {
	_, err := r.requestJSON(ctx, "delete_task", http.MethodDelete, "/api/tasks/"+taskID, nil, user.Token, nil, http.StatusOK)
	r.countAction("delete", err)
	if err == nil {
		user.removeTask(taskID)
	}
}

func (r *runner) countAction(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.actionsTotal.WithLabelValues(action, outcome).Inc()
}

func (r *runner) requestJSON(
	ctx context.Context,
	endpoint, method, path string,
	payload any,
	bearerToken string,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.countRequest(endpoint, method, 0, false)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.countRequest(endpoint, method, resp.StatusCode, false)
		return resp.StatusCode, err
	}

	if !isExpectedStatus(resp.StatusCode, expectedStatuses) {
		r.countRequest(endpoint, method, resp.StatusCode, false)
		return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
	}
	r.countRequest(endpoint, method, resp.StatusCode, true)
	if out != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (r *runner) countRequest(endpoint, method string, status int, ok bool) {
	outcome := "error"
	if ok {
		outcome = "success"
		r.requestsSuccess.Add(1)
	} else {
		r.requestsError.Add(1)
	}
	r.requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status), outcome).Inc()
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.WithFields(logrus.Fields{
				"success_requests": r.requestsSuccess.Load(),
				"error_requests":   r.requestsError.Load(),
			}).Info("progress")
		}
	}
}

func runMetricsServer(log *logrus.Entry, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", addr).Info("load generator metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("load generator metrics server failed")
	}
}

func (u *simulatedUser) addTask(id string) {
	if id == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tasks = append(u.tasks, id)
}

func (u *simulatedUser) randomTask(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.tasks) == 0 {
		return "", false
	}
	return u.tasks[rng.Intn(len(u.tasks))], true
}

func (u *simulatedUser) removeTask(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.tasks {
		if existing != id {
			continue
		}
		u.tasks[idx] = u.tasks[len(u.tasks)-1]
		u.tasks = u.tasks[:len(u.tasks)-1]
		return
	}
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
