package legacy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/platform/logger"
)

const sample = `
tasks:
  - title: Water plants
    priority: high
    dueDate: "2025-03-01"
  - title: "   "
  - title: Pay rent
    completed: true
  - title: Bad priority
    priority: Urgent
`

func TestParse(t *testing.T) {
	records, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Water plants", records[0].Title)
	assert.True(t, records[2].Completed)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("tasks:\n  - name: x\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	records, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestImport_OwnerlessAndVisibleToEveryone(t *testing.T) {
	records, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	repo := tasks.NewMemoryRepository()
	res, err := NewImporter(repo, logger.Discard()).Import(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, Result{Imported: 2, Skipped: 2}, res)

	for _, caller := range []string{"alice", "bob"} {
		visible, err := repo.List(context.Background(), tasks.OwnedBy(caller))
		require.NoError(t, err)
		require.Len(t, visible, 2)
		for _, task := range visible {
			assert.Empty(t, task.OwnerID)
		}
	}
}

func TestNormalize(t *testing.T) {
	task, err := Normalize(Record{Title: " Water plants ", Priority: "medium", DueDate: "2025-03-01"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "Water plants", task.Title)
	assert.Equal(t, tasks.PriorityMedium, task.Priority)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2025-03-01", task.DueDate.Format("2006-01-02"))

	_, err = Normalize(Record{Title: "x", DueDate: "soon"}, fixedNow)
	assert.ErrorIs(t, err, tasks.ErrValidation)
}

type failingRepo struct{ tasks.Repository }

func (failingRepo) Insert(context.Context, tasks.Task) (tasks.Task, error) {
	return tasks.Task{}, errors.New("disk full")
}

func TestImport_StopsOnStoreError(t *testing.T) {
	im := NewImporter(failingRepo{}, logger.Discard())
	_, err := im.Import(context.Background(), []Record{{Title: "a"}, {Title: "b"}})
	assert.ErrorContains(t, err, "disk full")
}

var fixedNow = mustTime("2025-01-01T00:00:00Z")

func mustTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		panic(err)
	}
	return t
}
