package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/tasktracker/project/internal/app/api"
	"github.com/tasktracker/project/internal/app/identity"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/bootstrap"
	"github.com/tasktracker/project/internal/platform/auth"
	"github.com/tasktracker/project/internal/platform/env"
	"github.com/tasktracker/project/internal/platform/logger"
	"github.com/tasktracker/project/internal/platform/metrics"
	"github.com/tasktracker/project/internal/platform/natsutil"
	"github.com/tasktracker/project/internal/platform/ratelimit"
)

func main() {
	cfg, err := env.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New("task-api", cfg.LogLevel)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, cfg, log); err != nil {
		log.WithError(err).Fatal("task-api stopped")
	}
}

func run(ctx context.Context, cfg env.Config, log *logrus.Entry) error {
	stores, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry := metrics.NewRegistry()

	taskSvc := tasks.NewService(stores.Tasks, log.WithField("component", "tasks"))
	taskSvc.Metrics = metrics.NewTasks(registry)

	identitySvc := identity.NewService(
		stores.Identity,
		auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL),
		cfg.RefreshTokenTTL,
	)

	handler := api.NewHandler(taskSvc, identitySvc, log.WithField("component", "http"), cfg.CORSOrigin)
	handler.Metrics = metrics.NewHTTP(registry)
	handler.MetricsHandler = metrics.Handler(registry)
	handler.AuthLimit = cfg.AuthRateLimit
	handler.AuthWindow = cfg.AuthRateWindow
	for name, check := range stores.Checks {
		handler.ReadyChecks[name] = check
	}

	if cfg.NATSURL != "" {
		client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.NATSURL, 20*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		taskSvc.Publish = natsutil.JetStreamPublisher{JS: client.JS}.Publish
		handler.ReadyChecks["nats"] = func(context.Context) error { return client.Ready() }
		log.WithField("url", cfg.NATSURL).Info("publishing task events to jetstream")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		handler.Limiter = ratelimit.NewLimiter(rdb, "task-api:ratelimit")
		handler.ReadyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Warn("REDIS_ADDR not set, auth rate limiting disabled")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(context.Context) error {
		log.WithFields(logrus.Fields{"addr": server.Addr, "store": cfg.TaskStore}).Info("task-api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
		return nil
	})
	return p.Wait()
}
