package tasks

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOwnerClause(t *testing.T) {
	assert.Equal(t, "(owner_id = $2 OR owner_id IS NULL)", ownerClause(2))
}

func TestBuildUpdate_OnlySuppliedColumns(t *testing.T) {
	at := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	done := true

	query, args := buildUpdate("t1", OwnedBy("alice"), Changes{Completed: &done, UpdatedAt: at})

	assert.True(t, strings.HasPrefix(query, "UPDATE tasks SET updated_at = $1, completed = $2 WHERE id = $3 AND (owner_id = $4 OR owner_id IS NULL) RETURNING "))
	assert.Equal(t, []any{at, true, "t1", "alice"}, args)
	set := strings.SplitN(query, " WHERE ", 2)[0]
	assert.NotContains(t, set, "title")
	assert.NotContains(t, set, "due_date")
}

func TestBuildUpdate_ClaimAndClearDueDate(t *testing.T) {
	at := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	title := "Renamed"
	high := PriorityHigh

	query, args := buildUpdate("t1", OwnedBy("bob"), Changes{
		Title:        &title,
		Priority:     &high,
		ClearDueDate: true,
		OwnerID:      "bob",
		UpdatedAt:    at,
	})

	assert.Contains(t, query, "title = $2, priority = $3, due_date = NULL, owner_id = $4")
	assert.Contains(t, query, "WHERE id = $5 AND (owner_id = $6 OR owner_id IS NULL)")
	assert.Equal(t, []any{at, "Renamed", "High", "bob", "t1", "bob"}, args)
}
