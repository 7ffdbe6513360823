package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/pkg/jobs"
)

// StatusChangedEventType is the job type and websocket message type of a transition.
const StatusChangedEventType = "demande.status_changed"

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type jobRegistrar interface {
	Handle(jobType string, handler jobs.Handler)
}

type eventBroadcaster interface {
	Broadcast(event models.StatusChangedEvent)
}

// DemandeEventPublisher hands status changes to the background queue so the
// request path never waits on websocket fan-out. Events are keyed by request
// so subscribers see the transitions of one request in order.
type DemandeEventPublisher struct {
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewDemandeEventPublisher constructs the publisher.
func NewDemandeEventPublisher(queue jobEnqueuer, logger *zap.Logger) *DemandeEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DemandeEventPublisher{queue: queue, logger: logger}
}

// PublishStatusChanged enqueues the event.
func (p *DemandeEventPublisher) PublishStatusChanged(_ context.Context, event models.StatusChangedEvent) error {
	if p.queue == nil {
		return nil
	}
	if event.Type == "" {
		event.Type = StatusChangedEventType
	}
	job := jobs.Job{ID: uuid.NewString(), Type: StatusChangedEventType, Key: event.DemandeID, Payload: event}
	if err := p.queue.Enqueue(job); err != nil {
		return fmt.Errorf("enqueue status change: %w", err)
	}
	return nil
}

// RegisterStatusChangedHandler wires the queue to broadcast each event.
func RegisterStatusChangedHandler(queue jobRegistrar, broadcaster eventBroadcaster, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue.Handle(StatusChangedEventType, func(_ context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.StatusChangedEvent)
		if !ok {
			// a malformed payload will not get better on retry
			logger.Error("unexpected status change payload", zap.String("job_id", job.ID))
			return nil
		}
		broadcaster.Broadcast(event)
		return nil
	})
}
