package contracts

import "time"

const (
	TaskCreated = "task.created"
	TaskUpdated = "task.updated"
	TaskClaimed = "task.claimed"
	TaskDeleted = "task.deleted"
)

// TaskEvent is published by task-api after a successful mutation and
// consumed by task-audit.
type TaskEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TaskID     string    `json:"task_id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	Title      string    `json:"title,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Completed  bool      `json:"completed"`
	OccurredAt time.Time `json:"occurred_at"`
	ShardID    int       `json:"shard_id"`
}
