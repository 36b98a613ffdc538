package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const (
	TaskEventsStream   = "TASK_EVENTS"
	TaskEventsSubjects = "app.event.*.task.>"
	AuditDurable       = "task-audit"
)

// EnsureStreams creates the task event stream when it is missing.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(TaskEventsStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      TaskEventsStream,
		Subjects:  []string{TaskEventsSubjects},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
	return err
}
