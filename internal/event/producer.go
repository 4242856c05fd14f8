// Package event publishes saga lifecycle events to Kafka for downstream
// consumers (analytics, notifications). Publishing is best-effort and
// never blocks or fails the saga pipeline.
package event

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	"github.com/utafrali/saga-orchestrator/pkg/kafka"
	"github.com/utafrali/saga-orchestrator/pkg/logger"
)

// Topic carrying saga lifecycle events.
const TopicSagaLifecycle = "saga.lifecycle"

// Event types emitted over the lifecycle topic.
const (
	TypeSagaStarted   = "saga.started"
	TypeSagaCompleted = "saga.completed"
	TypeSagaFailed    = "saga.failed"
)

// Publisher sends a serialized event to a topic. kafka.Producer
// implements it; tests substitute a recording stub.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// SagaEvents emits lifecycle events for sagas.
type SagaEvents struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewSagaEvents creates the emitter. A nil publisher disables emission.
func NewSagaEvents(publisher Publisher, log *slog.Logger) *SagaEvents {
	return &SagaEvents{publisher: publisher, logger: log}
}

type sagaLifecyclePayload struct {
	SagaID       int64  `json:"saga_id"`
	OrderID      int64  `json:"order_id"`
	CurrentState string `json:"current_state"`
	SagaStatus   string `json:"saga_status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SagaStarted emits a saga.started event.
func (e *SagaEvents) SagaStarted(ctx context.Context, saga *domain.SagaInstance) {
	e.emit(ctx, TypeSagaStarted, saga)
}

// SagaCompleted emits a saga.completed event.
func (e *SagaEvents) SagaCompleted(ctx context.Context, saga *domain.SagaInstance) {
	e.emit(ctx, TypeSagaCompleted, saga)
}

// SagaFailed emits a saga.failed event.
func (e *SagaEvents) SagaFailed(ctx context.Context, saga *domain.SagaInstance) {
	e.emit(ctx, TypeSagaFailed, saga)
}

func (e *SagaEvents) emit(ctx context.Context, eventType string, saga *domain.SagaInstance) {
	if e.publisher == nil {
		return
	}

	payload := sagaLifecyclePayload{
		SagaID:       saga.ID,
		OrderID:      saga.OrderID,
		CurrentState: string(saga.CurrentState),
		SagaStatus:   string(saga.Status),
	}
	if saga.ErrorMessage != nil {
		payload.ErrorMessage = *saga.ErrorMessage
	}

	ev, err := kafka.NewEvent(eventType, strconv.FormatInt(saga.ID, 10), "saga", "saga-orchestrator", payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build lifecycle event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		ev = ev.WithCorrelationID(cid)
	}

	if err := e.publisher.Publish(ctx, TopicSagaLifecycle, ev); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish lifecycle event",
			slog.String("event_type", eventType),
			slog.Int64("saga_id", saga.ID),
			slog.String("error", err.Error()),
		)
	}
}
