package tasks

import (
	"context"
	"time"
)

// Repository is implemented by every task store. All reads and writes are
// scoped by a Filter, so a task hidden from the caller is reported exactly
// like a missing one: ErrNotFound.
type Repository interface {
	Insert(ctx context.Context, task Task) (Task, error)
	List(ctx context.Context, f Filter) ([]Task, error)
	Find(ctx context.Context, id string, f Filter) (Task, error)
	Update(ctx context.Context, id string, f Filter, c Changes) (Task, error)
	Delete(ctx context.Context, id string, f Filter) error
}

// Changes lists the fields an update writes. Nil pointers are left alone.
// OwnerID is written only when non-empty.
type Changes struct {
	Title        *string
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
	Completed    *bool
	OwnerID      string
	UpdatedAt    time.Time
}

func (c Changes) Apply(t Task) Task {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.ClearDueDate {
		t.DueDate = nil
	} else if c.DueDate != nil {
		d := *c.DueDate
		t.DueDate = &d
	}
	if c.Completed != nil {
		t.Completed = *c.Completed
	}
	if c.OwnerID != "" {
		t.OwnerID = c.OwnerID
	}
	if !c.UpdatedAt.IsZero() {
		t.UpdatedAt = c.UpdatedAt
	}
	return t
}
