package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasktracker/project/internal/contracts"
)

const createTaskEventsSQL = `
CREATE TABLE IF NOT EXISTS task_events (
  event_id text PRIMARY KEY,
  event_type text NOT NULL,
  task_id text NOT NULL,
  owner_id text NOT NULL DEFAULT '',
  actor_id text NOT NULL,
  actor_name text NOT NULL DEFAULT '',
  title text NOT NULL DEFAULT '',
  priority text NOT NULL DEFAULT '',
  completed boolean NOT NULL DEFAULT false,
  shard_id integer NOT NULL,
  stream_seq bigint NOT NULL DEFAULT 0,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createTaskEventsTaskIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_task_events_task
ON task_events (task_id, occurred_at)`

const createTaskActivitySQL = `
CREATE TABLE IF NOT EXISTS task_activity (
  task_id text PRIMARY KEY,
  owner_id text NOT NULL DEFAULT '',
  last_event_type text NOT NULL,
  event_count bigint NOT NULL DEFAULT 0,
  claimed_by text NOT NULL DEFAULT '',
  deleted boolean NOT NULL DEFAULT false,
  last_event_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const insertEventSQL = `
INSERT INTO task_events (
  event_id, event_type, task_id, owner_id, actor_id, actor_name,
  title, priority, completed, shard_id, stream_seq, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (event_id) DO NOTHING
`

// upsertActivitySQL folds one event into the per-task summary. Redelivered
// events never reach it because the insert above reports zero rows.
const upsertActivitySQL = `
INSERT INTO task_activity (
  task_id, owner_id, last_event_type, event_count, claimed_by, deleted, last_event_seq, updated_at
)
VALUES ($1, $2, $3, 1, $4, $5, $6, now())
ON CONFLICT (task_id) DO UPDATE
SET owner_id = EXCLUDED.owner_id,
    last_event_type = EXCLUDED.last_event_type,
    event_count = task_activity.event_count + 1,
    claimed_by = CASE WHEN EXCLUDED.claimed_by <> '' THEN EXCLUDED.claimed_by ELSE task_activity.claimed_by END,
    deleted = task_activity.deleted OR EXCLUDED.deleted,
    last_event_seq = GREATEST(task_activity.last_event_seq, EXCLUDED.last_event_seq),
    updated_at = now()
`

type EventRepository struct {
	Pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{Pool: pool}
}

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTaskEventsSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createTaskEventsTaskIndexSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createTaskActivitySQL); err != nil {
		return err
	}
	return nil
}

func (r *EventRepository) InsertEvent(ctx context.Context, event contracts.TaskEvent, eventSeq uint64) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertEventSQL,
		event.EventID,
		event.EventType,
		event.TaskID,
		event.OwnerID,
		event.ActorID,
		event.ActorName,
		event.Title,
		event.Priority,
		event.Completed,
		event.ShardID,
		int64(eventSeq),
		event.OccurredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	claimedBy := ""
	if event.EventType == contracts.TaskClaimed {
		claimedBy = event.ActorID
	}
	if _, err := tx.Exec(ctx, upsertActivitySQL,
		event.TaskID,
		event.OwnerID,
		event.EventType,
		claimedBy,
		event.EventType == contracts.TaskDeleted,
		int64(eventSeq),
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
