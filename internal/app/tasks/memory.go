package tasks

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryRepository keeps tasks in process memory. It backs tests and the
// "memory" store type for local development.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]Task
	NewID func() string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: map[string]Task{},
		NewID: func() string { return ulid.Make().String() },
	}
}

func (r *MemoryRepository) Insert(_ context.Context, task Task) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		task.ID = r.NewID()
	}
	r.tasks[task.ID] = cloneTask(task)
	return cloneTask(task), nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Matches(t) {
			result = append(result, cloneTask(t))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) Find(_ context.Context, id string, f Filter) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok || !f.Matches(t) {
		return Task{}, ErrNotFound
	}
	return cloneTask(t), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, f Filter, c Changes) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !f.Matches(t) {
		return Task{}, ErrNotFound
	}
	t = c.Apply(t)
	r.tasks[id] = cloneTask(t)
	return cloneTask(t), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string, f Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !f.Matches(t) {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

// cloneTask detaches the due date so callers never share it with the map.
func cloneTask(t Task) Task {
	if t.DueDate != nil {
		due := *t.DueDate
		t.DueDate = &due
	}
	return t
}
