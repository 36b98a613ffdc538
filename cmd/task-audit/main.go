package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/app/audit"
	"github.com/tasktracker/project/internal/messaging"
	"github.com/tasktracker/project/internal/platform/dbpool"
	"github.com/tasktracker/project/internal/platform/env"
	"github.com/tasktracker/project/internal/platform/logger"
	"github.com/tasktracker/project/internal/platform/natsutil"
)

func main() {
	cfg, err := env.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New("task-audit", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DBPool)
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	defer pool.Close()

	repository := audit.NewEventRepository(pool)
	if err := waitForSchema(ctx, log, repository, 30*time.Second); err != nil {
		log.WithError(err).Fatal("postgres not ready")
	}
	service := audit.NewService(repository)

	natsURL := cfg.NATSURL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	client, err := natsutil.ConnectJetStreamWithRetry(ctx, natsURL, 20*time.Second)
	if err != nil {
		log.WithError(err).Fatal("connect jetstream")
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe(messaging.TaskEventsSubjects, messaging.AuditDurable, func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			eventSeq = meta.Sequence.Stream
		}

		insertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := service.Handle(insertCtx, msg.Data, eventSeq)
		entry := log.WithFields(logrus.Fields{"subject": msg.Subject, "seq": eventSeq})
		switch audit.DispositionFor(err) {
		case audit.Ack:
			_ = msg.Ack()
		case audit.Term:
			entry.WithError(err).Warn("discarding task event")
			_ = msg.Term()
		default:
			entry.WithError(err).Error("task event persistence failed")
			_ = msg.Nak()
		}
	}, nats.Durable(messaging.AuditDurable), nats.ManualAck())
	if err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	defer func() { _ = sub.Drain() }()

	log.WithField("subject", sub.Subject).Info("task-audit listening")
	<-ctx.Done()
	log.Info("task-audit shutting down")
}

func waitForSchema(ctx context.Context, log *logrus.Entry, repository *audit.EventRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repository.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.WithError(lastErr).Warn("waiting for postgres readiness")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
