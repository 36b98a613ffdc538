package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tasktracker/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnsupportedEventType = errors.New("unsupported event type")

type Repository interface {
	InsertEvent(ctx context.Context, event contracts.TaskEvent, eventSeq uint64) error
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, payload []byte, eventSeq uint64) error {
	var event contracts.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	if event.EventID == "" || event.TaskID == "" {
		return ErrInvalidEventPayload
	}
	switch event.EventType {
	case contracts.TaskCreated, contracts.TaskUpdated, contracts.TaskClaimed, contracts.TaskDeleted:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEventType, event.EventType)
	}
	return s.Repository.InsertEvent(ctx, event, eventSeq)
}

// Disposition says what the consumer does with a message after Handle.
type Disposition int

const (
	Ack Disposition = iota
	Term
	Nak
)

// DispositionFor maps a Handle error to a delivery outcome: bad messages are
// terminated, storage failures are redelivered.
func DispositionFor(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrInvalidEventPayload), errors.Is(err, ErrUnsupportedEventType):
		return Term
	default:
		return Nak
	}
}
