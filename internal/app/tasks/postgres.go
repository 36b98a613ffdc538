package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  completed boolean NOT NULL DEFAULT false,
  priority text NOT NULL DEFAULT 'Low' CHECK (priority IN ('Low', 'Medium', 'High')),
  due_date timestamptz,
  owner_id text,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createTasksOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_owner_created
ON tasks (owner_id, created_at DESC)`

const taskColumns = `id, title, completed, priority, due_date, owner_id, created_at, updated_at`

const insertTaskSQL = `
INSERT INTO tasks (` + taskColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + taskColumns

type PostgresRepository struct {
	Pool  *pgxpool.Pool
	NewID func() string
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		Pool:  pool,
		NewID: func() string { return ulid.Make().String() },
	}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTasksTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createTasksOwnerIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.Pool.Ping(ctx)
}

func (r *PostgresRepository) Insert(ctx context.Context, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = r.NewID()
	}
	row := r.Pool.QueryRow(ctx, insertTaskSQL,
		task.ID,
		task.Title,
		task.Completed,
		string(task.Priority),
		task.DueDate,
		nullableOwner(task.OwnerID),
		task.CreatedAt,
		task.UpdatedAt,
	)
	return scanTask(row)
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Task, error) {
	if f.Empty() {
		return []Task{}, nil
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE `+ownerClause(1)+`
		 ORDER BY created_at DESC, id DESC`,
		f.CallerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Find(ctx context.Context, id string, f Filter) (Task, error) {
	if f.Empty() {
		return Task{}, ErrNotFound
	}
	row := r.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE id = $1 AND `+ownerClause(2),
		id, f.CallerID,
	)
	return scanTask(row)
}

func (r *PostgresRepository) Update(ctx context.Context, id string, f Filter, c Changes) (Task, error) {
	if f.Empty() {
		return Task{}, ErrNotFound
	}
	query, args := buildUpdate(id, f, c)
	return scanTask(r.Pool.QueryRow(ctx, query, args...))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string, f Filter) error {
	if f.Empty() {
		return ErrNotFound
	}
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND `+ownerClause(2),
		id, f.CallerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ownerClause renders the ownership filter with the caller bound to $n.
func ownerClause(n int) string {
	return fmt.Sprintf("(owner_id = $%d OR owner_id IS NULL)", n)
}

// buildUpdate renders a single conditional UPDATE. The ownership filter is
// part of the WHERE clause, so a task claimed by someone else between the
// read and this write is left untouched and reported as not found.
func buildUpdate(id string, f Filter, c Changes) (string, []any) {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	sets := []string{"updated_at = $1"}
	args := []any{updatedAt}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if c.Title != nil {
		add("title", *c.Title)
	}
	if c.Priority != nil {
		add("priority", string(*c.Priority))
	}
	if c.ClearDueDate {
		sets = append(sets, "due_date = NULL")
	} else if c.DueDate != nil {
		add("due_date", *c.DueDate)
	}
	if c.Completed != nil {
		add("completed", *c.Completed)
	}
	if c.OwnerID != "" {
		add("owner_id", c.OwnerID)
	}

	args = append(args, id, f.CallerID)
	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d AND %s RETURNING %s",
		strings.Join(sets, ", "), len(args)-1, ownerClause(len(args)), taskColumns,
	)
	return query, args
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t        Task
		priority string
		ownerID  *string
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Completed,
		&priority,
		&t.DueDate,
		&ownerID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	t.Priority = Priority(priority)
	if ownerID != nil {
		t.OwnerID = *ownerID
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}
	return t, nil
}

func nullableOwner(ownerID string) *string {
	if ownerID == "" {
		return nil
	}
	return &ownerID
}
