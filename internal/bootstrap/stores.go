// Package bootstrap opens the task and identity stores selected by
// TASK_STORE and hands back readiness probes for them.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/app/identity"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/platform/dbpool"
	"github.com/tasktracker/project/internal/platform/env"
	"github.com/tasktracker/project/internal/platform/mongodb"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const schemaTimeout = 30 * time.Second

type Stores struct {
	Tasks    tasks.Repository
	Identity identity.Repository
	Checks   map[string]func(ctx context.Context) error

	closers []func()
}

// Close releases the underlying connections in reverse open order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func Open(ctx context.Context, cfg env.Config, log *logrus.Entry) (*Stores, error) {
	switch cfg.TaskStore {
	case env.StorePostgres:
		return openPostgres(ctx, cfg, log)
	case env.StoreMongo:
		return openMongo(ctx, cfg, log)
	case env.StoreSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case env.StoreMemory:
		return OpenMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported TASK_STORE %q", cfg.TaskStore)
	}
}

func OpenMemory() *Stores {
	return &Stores{
		Tasks:    tasks.NewMemoryRepository(),
		Identity: identity.NewMemoryRepository(),
		Checks:   map[string]func(context.Context) error{},
	}
}

func OpenSQLite(path string) (*Stores, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	taskRepo := tasks.NewSQLiteRepository(db)
	if err := taskRepo.AutoMigrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	identityRepo := identity.NewGormRepository(db)
	if err := identityRepo.EnsureSchema(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate identity: %w", err)
	}

	return &Stores{
		Tasks:    taskRepo,
		Identity: identityRepo,
		Checks:   map[string]func(context.Context) error{"sqlite": taskRepo.Ping},
		closers:  []func(){func() { _ = sqlDB.Close() }},
	}, nil
}

func openPostgres(ctx context.Context, cfg env.Config, log *logrus.Entry) (*Stores, error) {
	pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DBPool)
	if err != nil {
		return nil, err
	}

	taskRepo := tasks.NewPostgresRepository(pool)
	identityRepo := identity.NewPostgresRepository(pool)
	err = waitFor(ctx, log, "postgres schema", schemaTimeout, func(attemptCtx context.Context) error {
		if err := identityRepo.EnsureSchema(attemptCtx); err != nil {
			return err
		}
		return taskRepo.EnsureSchema(attemptCtx)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Stores{
		Tasks:    taskRepo,
		Identity: identityRepo,
		Checks:   map[string]func(context.Context) error{"postgres": taskRepo.Ping},
		closers:  []func(){pool.Close},
	}, nil
}

func openMongo(ctx context.Context, cfg env.Config, log *logrus.Entry) (*Stores, error) {
	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.MongoDatabase)

	taskRepo := tasks.NewMongoRepository(db)
	identityRepo := identity.NewMongoRepository(db)
	err = waitFor(ctx, log, "mongo indexes", schemaTimeout, func(attemptCtx context.Context) error {
		if err := identityRepo.EnsureSchema(attemptCtx); err != nil {
			return err
		}
		return taskRepo.EnsureIndexes(attemptCtx)
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Stores{
		Tasks:    taskRepo,
		Identity: identityRepo,
		Checks: map[string]func(context.Context) error{
			"mongo": func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
		},
		closers: []func(){func() { _ = client.Disconnect(context.Background()) }},
	}, nil
}

// waitFor retries fn until it succeeds, ctx ends or timeout elapses.
func waitFor(ctx context.Context, log *logrus.Entry, what string, timeout time.Duration, fn func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.WithError(lastErr).Warnf("waiting for %s", what)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s not ready after %s: %w", what, timeout, lastErr)
}
