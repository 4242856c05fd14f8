// Package statemachine guards every saga state mutation. All transitions
// and step audit rows go through it so illegal moves are rejected before
// they reach storage.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	"github.com/utafrali/saga-orchestrator/internal/metrics"
	"github.com/utafrali/saga-orchestrator/internal/repository"
)

// StateMachine validates and persists saga transitions.
type StateMachine struct {
	repo    repository.SagaRepository
	metrics metrics.Recorder
	logger  *slog.Logger
}

// New creates a state machine over the given repository.
func New(repo repository.SagaRepository, rec metrics.Recorder, logger *slog.Logger) *StateMachine {
	return &StateMachine{repo: repo, metrics: rec, logger: logger}
}

// CreateSaga persists a new saga in the created state with started status.
func (sm *StateMachine) CreateSaga(ctx context.Context, orderID, customerID, productID, storeID, cartID int64, quantity int) (*domain.SagaInstance, error) {
	saga := &domain.SagaInstance{
		OrderID:      orderID,
		CustomerID:   customerID,
		ProductID:    productID,
		StoreID:      storeID,
		CartID:       cartID,
		Quantity:     quantity,
		CurrentState: domain.StateCreated,
		Status:       domain.StatusStarted,
	}

	created, err := sm.repo.CreateSaga(ctx, saga)
	if err != nil {
		return nil, err
	}

	sm.metrics.StateEntered(domain.StateCreated)
	sm.refreshStateGauges(ctx)

	sm.logger.InfoContext(ctx, "saga created",
		slog.Int64("saga_id", created.ID),
		slog.Int64("order_id", created.OrderID),
	)

	return created, nil
}

// GetSaga returns the saga by its internal ID.
func (sm *StateMachine) GetSaga(ctx context.Context, sagaID int64) (*domain.SagaInstance, error) {
	return sm.repo.GetSaga(ctx, sagaID)
}

// GetSagaByOrderID returns the saga orchestrating the given order.
func (sm *StateMachine) GetSagaByOrderID(ctx context.Context, orderID int64) (*domain.SagaInstance, error) {
	return sm.repo.GetSagaByOrderID(ctx, orderID)
}

// TransitionTo moves the saga to target if the transition is legal,
// storing errorMessage on the saga when non-empty. An illegal transition
// is logged and reported as false without touching storage.
func (sm *StateMachine) TransitionTo(ctx context.Context, sagaID int64, target domain.OrderState, errorMessage string) (bool, error) {
	saga, err := sm.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return false, err
	}

	if !saga.CurrentState.CanTransitionTo(target) {
		sm.logger.WarnContext(ctx, "invalid saga transition rejected",
			slog.Int64("saga_id", sagaID),
			slog.String("from", string(saga.CurrentState)),
			slog.String("to", string(target)),
		)
		return false, nil
	}

	status := domain.StatusForState(target)
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	if err := sm.repo.UpdateSagaState(ctx, sagaID, target, status, msg); err != nil {
		return false, err
	}

	sm.metrics.StateEntered(target)
	sm.refreshStateGauges(ctx)

	sm.logger.InfoContext(ctx, "saga transitioned",
		slog.Int64("saga_id", sagaID),
		slog.String("from", string(saga.CurrentState)),
		slog.String("to", string(target)),
		slog.String("status", string(status)),
	)

	return true, nil
}

// LogStepStarted records a step start row with a snapshot of the request.
func (sm *StateMachine) LogStepStarted(ctx context.Context, sagaID int64, stepName string, requestData any) error {
	req, err := marshalSnapshot(requestData)
	if err != nil {
		return err
	}

	_, err = sm.repo.CreateStep(ctx, &domain.SagaStep{
		SagaID:      sagaID,
		StepName:    stepName,
		Status:      domain.StepStarted,
		RequestData: req,
	})
	return err
}

// LogStepCompleted closes the most recent started row for the step with a
// snapshot of the response. A missing started row is logged and ignored.
func (sm *StateMachine) LogStepCompleted(ctx context.Context, sagaID int64, stepName string, responseData any) error {
	resp, err := marshalSnapshot(responseData)
	if err != nil {
		return err
	}
	return sm.finishStep(ctx, sagaID, stepName, domain.StepCompleted, nil, resp)
}

// LogStepFailed closes the most recent started row for the step with a
// failure outcome. A missing started row is logged and ignored.
func (sm *StateMachine) LogStepFailed(ctx context.Context, sagaID int64, stepName, errorMessage string, responseData any) error {
	resp, err := marshalSnapshot(responseData)
	if err != nil {
		return err
	}
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	return sm.finishStep(ctx, sagaID, stepName, domain.StepFailed, msg, resp)
}

func (sm *StateMachine) finishStep(ctx context.Context, sagaID int64, stepName string, status domain.StepStatus, errorMessage, responseData *string) error {
	found, err := sm.repo.FinishStep(ctx, sagaID, stepName, status, errorMessage, responseData)
	if err != nil {
		return err
	}
	if !found {
		sm.logger.WarnContext(ctx, "no started row for step, skipping update",
			slog.Int64("saga_id", sagaID),
			slog.String("step", stepName),
			slog.String("status", string(status)),
		)
	}
	return nil
}

func marshalSnapshot(data any) (*string, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal step snapshot: %w", err)
	}
	s := string(raw)
	return &s, nil
}

// AddCompensationAction appends one recorded undo action to the saga.
func (sm *StateMachine) AddCompensationAction(ctx context.Context, sagaID int64, action domain.CompensationAction) error {
	saga, err := sm.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}

	actions := append(saga.CompensationActions, action)
	if err := sm.repo.SetCompensationActions(ctx, sagaID, actions); err != nil {
		return err
	}

	sm.logger.InfoContext(ctx, "compensation action recorded",
		slog.Int64("saga_id", sagaID),
		slog.String("action", action.String()),
	)

	return nil
}

// CompensationActions returns the saga's recorded undo actions in the
// order they were appended.
func (sm *StateMachine) CompensationActions(ctx context.Context, sagaID int64) ([]domain.CompensationAction, error) {
	saga, err := sm.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return saga.CompensationActions, nil
}

// IsSagaComplete reports whether the saga reached a terminal state.
func (sm *StateMachine) IsSagaComplete(ctx context.Context, sagaID int64) (bool, error) {
	saga, err := sm.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return false, err
	}
	return saga.CurrentState.IsTerminal(), nil
}

// Summary returns the saga with aggregate step counts. It is a pure read.
func (sm *StateMachine) Summary(ctx context.Context, sagaID int64) (*domain.SagaSummary, error) {
	saga, err := sm.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return sm.buildSummary(ctx, saga)
}

// SummaryByOrderID returns the summary for the saga orchestrating orderID.
func (sm *StateMachine) SummaryByOrderID(ctx context.Context, orderID int64) (*domain.SagaSummary, error) {
	saga, err := sm.repo.GetSagaByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return sm.buildSummary(ctx, saga)
}

func (sm *StateMachine) buildSummary(ctx context.Context, saga *domain.SagaInstance) (*domain.SagaSummary, error) {
	steps, err := sm.repo.ListSteps(ctx, saga.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps for saga %d: %w", saga.ID, err)
	}

	var completed, failed int
	for _, s := range steps {
		switch s.Status {
		case domain.StepCompleted:
			completed++
		case domain.StepFailed:
			failed++
		}
	}

	return &domain.SagaSummary{
		SagaID:         saga.ID,
		OrderID:        saga.OrderID,
		CurrentState:   saga.CurrentState,
		SagaStatus:     saga.Status,
		CreatedAt:      saga.CreatedAt,
		UpdatedAt:      saga.UpdatedAt,
		ErrorMessage:   saga.ErrorMessage,
		StepsCount:     len(steps),
		CompletedSteps: completed,
		FailedSteps:    failed,
		IsComplete:     saga.CurrentState.IsTerminal(),
	}, nil
}

// RefreshStateGauges recomputes the per-state population gauge from
// storage. Also called once at startup so gauges survive restarts.
func (sm *StateMachine) RefreshStateGauges(ctx context.Context) error {
	counts, err := sm.repo.CountActiveByState(ctx)
	if err != nil {
		return err
	}
	sm.metrics.SetStatePopulation(counts)
	return nil
}

func (sm *StateMachine) refreshStateGauges(ctx context.Context) {
	if err := sm.RefreshStateGauges(ctx); err != nil {
		sm.logger.WarnContext(ctx, "failed to refresh state gauges",
			slog.String("error", err.Error()),
		)
	}
}
