package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktracker/project/internal/app/identity"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/platform/env"
	"github.com/tasktracker/project/internal/platform/logger"
)

func TestOpen_Memory(t *testing.T) {
	stores, err := Open(context.Background(), env.Config{TaskStore: env.StoreMemory}, logger.Discard())
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &tasks.MemoryRepository{}, stores.Tasks)
	assert.IsType(t, &identity.MemoryRepository{}, stores.Identity)
	assert.Empty(t, stores.Checks)
}

func TestOpenSQLite_SharesDatabase(t *testing.T) {
	stores, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer stores.Close()

	ctx := context.Background()
	require.NoError(t, stores.Identity.CreateUser(ctx, identity.User{ID: "u1", Username: "alice", PasswordHash: "x"}))

	created, err := stores.Tasks.Insert(ctx, tasks.Task{
		Title:     "Write report",
		Priority:  tasks.PriorityLow,
		OwnerID:   "u1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	require.Contains(t, stores.Checks, "sqlite")
	assert.NoError(t, stores.Checks["sqlite"](ctx))
}

func TestOpen_UnknownStore(t *testing.T) {
	_, err := Open(context.Background(), env.Config{TaskStore: "cassandra"}, logger.Discard())
	assert.Error(t, err)
}

func TestWaitFor_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := waitFor(context.Background(), logger.Discard(), "thing", 5*time.Second, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWaitFor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitFor(ctx, logger.Discard(), "thing", 5*time.Second, func(context.Context) error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
