package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/saga-orchestrator/internal/domain"
)

// CollaboratorEvent is an asynchronous callback from a collaborator,
// an alternate entry point into the same state machine as the
// synchronous pipeline.
type CollaboratorEvent struct {
	EventID   string         `json:"event_id"`
	SagaID    int64          `json:"saga_id" validate:"required,gt=0"`
	EventType string         `json:"event_type" validate:"required"`
	Success   *bool          `json:"success"`
	Data      map[string]any `json:"data"`
	Service   string         `json:"service"`
}

// Succeeded reports the event outcome; an omitted success flag means
// success.
func (e CollaboratorEvent) Succeeded() bool {
	return e.Success == nil || *e.Success
}

// Collaborator event types mapped onto state transitions.
const (
	EventStockVerified    = "stock_verified"
	EventStockReserved    = "stock_reserved"
	EventPaymentProcessed = "payment_processed"
)

// HandleCollaboratorEvent applies an asynchronous collaborator event to
// the saga. Success events advance the state machine; failure events
// trigger compensation.
func (c *SagaCoordinator) HandleCollaboratorEvent(ctx context.Context, ev CollaboratorEvent) error {
	if _, err := c.sm.GetSaga(ctx, ev.SagaID); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "processing collaborator event",
		slog.Int64("saga_id", ev.SagaID),
		slog.String("event_type", ev.EventType),
		slog.String("service", ev.Service),
		slog.Bool("success", ev.Succeeded()),
	)

	if !ev.Succeeded() {
		errMsg, _ := ev.Data["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		stepName := fmt.Sprintf("%s_%s", ev.Service, ev.EventType)
		c.failStep(ctx, ev.SagaID, stepName, errMsg, ev.Data)
		c.startCompensation(ctx, ev.SagaID, errMsg)
		return nil
	}

	switch ev.EventType {
	case EventStockVerified:
		c.transition(ctx, ev.SagaID, domain.StateStockVerified, "")
		c.completeStep(ctx, ev.SagaID, "stock_verification", ev.Data)
	case EventStockReserved:
		c.transition(ctx, ev.SagaID, domain.StateStockReserved, "")
		c.completeStep(ctx, ev.SagaID, "stock_reservation", ev.Data)
	case EventPaymentProcessed:
		c.transition(ctx, ev.SagaID, domain.StatePaymentProcessed, "")
		c.completeStep(ctx, ev.SagaID, "payment_processing", ev.Data)
	default:
		c.logger.WarnContext(ctx, "ignoring unknown collaborator event type",
			slog.Int64("saga_id", ev.SagaID),
			slog.String("event_type", ev.EventType),
		)
	}

	return nil
}
