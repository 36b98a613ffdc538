package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5050", cfg.Port)
	assert.Equal(t, ":5050", cfg.Addr())
	assert.Equal(t, StorePostgres, cfg.TaskStore)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 20, cfg.MaxConns)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("TASK_STORE", " Mongo ")
	t.Setenv("DB_MAX_CONNS", "7")
	t.Setenv("AUTH_RATE_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, StoreMongo, cfg.TaskStore)
	assert.Equal(t, 7, cfg.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.AuthRateWindow)
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("TASK_STORE", "cassandra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}
