package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/contracts"
	"github.com/tasktracker/project/internal/platform/metrics"
	"github.com/tasktracker/project/internal/sharding"
)

// Caller is the authenticated identity a request acts for. Every service
// operation receives it explicitly.
type Caller struct {
	ID       string
	Username string
}

type PublishFunc func(ctx context.Context, subject string, payload []byte) error

type Service struct {
	Repo    Repository
	Publish PublishFunc
	Metrics *metrics.Tasks
	Log     *logrus.Entry
	Now     func() time.Time
	NewID   func() string
}

func NewService(repo Repository, log *logrus.Entry) *Service {
	return &Service{
		Repo:  repo,
		Log:   log,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
	}
}

func (s *Service) Create(ctx context.Context, caller Caller, in CreateInput) (task Task, err error) {
	defer func() { s.Metrics.Observe("create", err) }()

	if caller.ID == "" {
		return Task{}, ErrCallerRequired
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return Task{}, err
	}
	due, err := ParseDueDate(in.DueDate)
	if err != nil {
		return Task{}, err
	}

	now := s.Now()
	task, err = s.Repo.Insert(ctx, Task{
		Title:     title,
		Completed: in.Completed,
		Priority:  priority,
		DueDate:   due,
		OwnerID:   caller.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Task{}, err
	}
	s.publish(ctx, contracts.TaskCreated, caller, task)
	return task, nil
}

func (s *Service) List(ctx context.Context, caller Caller) (result []Task, err error) {
	defer func() { s.Metrics.Observe("list", err) }()

	if caller.ID == "" {
		return nil, ErrCallerRequired
	}
	result, err = s.Repo.List(ctx, OwnedBy(caller.ID))
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []Task{}
	}
	return result, nil
}

// Update applies a partial update. An ownerless task becomes the caller's
// as part of the same write.
func (s *Service) Update(ctx context.Context, caller Caller, id string, patch Patch) (task Task, err error) {
	defer func() { s.Metrics.Observe("update", err) }()

	if caller.ID == "" {
		return Task{}, ErrCallerRequired
	}
	changes, err := s.changesFrom(patch)
	if err != nil {
		return Task{}, err
	}

	filter := OwnedBy(caller.ID)
	current, err := s.Repo.Find(ctx, id, filter)
	if err != nil {
		return Task{}, mapNotFound(err)
	}

	_, claimed := Claim(current, caller.ID)
	if claimed {
		changes.OwnerID = caller.ID
	}

	task, err = s.Repo.Update(ctx, id, filter, changes)
	if err != nil {
		return Task{}, mapNotFound(err)
	}

	if claimed {
		s.Metrics.Claimed()
		s.log().WithFields(logrus.Fields{
			"task_id":   task.ID,
			"caller_id": caller.ID,
		}).Info("ownerless task claimed")
		s.publish(ctx, contracts.TaskClaimed, caller, task)
	}
	s.publish(ctx, contracts.TaskUpdated, caller, task)
	return task, nil
}

func (s *Service) Delete(ctx context.Context, caller Caller, id string) (err error) {
	defer func() { s.Metrics.Observe("delete", err) }()

	if caller.ID == "" {
		return ErrCallerRequired
	}
	current, err := s.Repo.Find(ctx, id, OwnedBy(caller.ID))
	if err != nil {
		return mapNotFound(err)
	}
	if err := s.Repo.Delete(ctx, id, OwnedBy(caller.ID)); err != nil {
		return mapNotFound(err)
	}
	s.publish(ctx, contracts.TaskDeleted, caller, current)
	return nil
}

// changesFrom validates a patch before anything touches the store.
func (s *Service) changesFrom(p Patch) (Changes, error) {
	c := Changes{UpdatedAt: s.Now()}

	if p.Title.Set {
		if p.Title.Null {
			return Changes{}, nullField("title")
		}
		title := strings.TrimSpace(p.Title.Value)
		if title == "" {
			return Changes{}, ErrTitleRequired
		}
		c.Title = &title
	}
	if p.Priority.Set {
		if p.Priority.Null {
			return Changes{}, nullField("priority")
		}
		// An explicit empty string is not a priority.
		if strings.TrimSpace(p.Priority.Value) == "" {
			return Changes{}, ErrInvalidPriority
		}
		priority, err := ParsePriority(p.Priority.Value)
		if err != nil {
			return Changes{}, err
		}
		c.Priority = &priority
	}
	if p.DueDate.Set {
		due, err := ParseDueDate(p.DueDate.Value)
		if err != nil {
			return Changes{}, err
		}
		if due == nil {
			c.ClearDueDate = true
		} else {
			c.DueDate = due
		}
	}
	if p.Completed.Set {
		if p.Completed.Null {
			return Changes{}, nullField("completed")
		}
		completed := p.Completed.Value
		c.Completed = &completed
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, eventType string, caller Caller, task Task) {
	if s.Publish == nil {
		return
	}
	event := contracts.TaskEvent{
		EventID:    s.NewID(),
		EventType:  eventType,
		TaskID:     task.ID,
		OwnerID:    task.OwnerID,
		ActorID:    caller.ID,
		ActorName:  caller.Username,
		Title:      task.Title,
		Priority:   string(task.Priority),
		Completed:  task.Completed,
		OccurredAt: s.Now(),
		ShardID:    sharding.GetShardID(task.ID),
	}
	payload, err := json.Marshal(event)
	if err == nil {
		err = s.Publish(ctx, sharding.TaskSubject(task.ID), payload)
	}
	if err != nil {
		s.log().WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"task_id":    task.ID,
		}).Warn("publish task event failed")
	}
}

func (s *Service) log() *logrus.Entry {
	if s.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.Log
}

func mapNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFoundOrUnauthorized
	}
	return err
}

func nullField(name string) error {
	return fmt.Errorf("%w: %s", ErrNullField, name)
}
