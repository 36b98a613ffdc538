package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/platform/auth"
	"github.com/tasktracker/project/internal/platform/env"
)

func TestMintToken(t *testing.T) {
	cfg := env.Config{JWTSecret: "cli-secret"}
	var out bytes.Buffer
	require.NoError(t, mintToken(&out, cfg, "u1", "alice", time.Hour))

	claims, err := auth.NewManager("cli-secret", time.Hour).Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
}

func TestFormatTask(t *testing.T) {
	color.NoColor = true
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	line := formatTask(tasks.Task{ID: "t1", Title: "Water plants", Priority: tasks.PriorityHigh, DueDate: &due})
	assert.Contains(t, line, "[ ] t1")
	assert.Contains(t, line, "due 2025-03-01")
	assert.Contains(t, line, "unclaimed")

	line = formatTask(tasks.Task{ID: "t2", Title: "Pay rent", Priority: tasks.PriorityLow, Completed: true, OwnerID: "u1"})
	assert.Contains(t, line, "[x] t2")
	assert.Contains(t, line, "due -")
	assert.Contains(t, line, "u1")
}
