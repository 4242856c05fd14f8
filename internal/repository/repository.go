// Package repository defines persistence contracts for saga state.
package repository

import (
	"context"

	"github.com/utafrali/saga-orchestrator/internal/domain"
)

// SagaRepository persists saga instances and their step audit rows.
type SagaRepository interface {
	// CreateSaga inserts a new saga and returns it with its assigned ID.
	CreateSaga(ctx context.Context, saga *domain.SagaInstance) (*domain.SagaInstance, error)

	// GetSaga returns a saga by its internal ID.
	GetSaga(ctx context.Context, sagaID int64) (*domain.SagaInstance, error)

	// GetSagaByOrderID returns a saga by the order it orchestrates.
	GetSagaByOrderID(ctx context.Context, orderID int64) (*domain.SagaInstance, error)

	// UpdateSagaState sets the current state and coarse status, and the
	// error message when one is given.
	UpdateSagaState(ctx context.Context, sagaID int64, state domain.OrderState, status domain.SagaStatus, errorMessage *string) error

	// SetCheckoutID records the collaborator checkout ID on the saga.
	SetCheckoutID(ctx context.Context, sagaID, checkoutID int64) error

	// SetAmount records the order total reported by checkout.
	SetAmount(ctx context.Context, sagaID int64, amount float64) error

	// SetCompensationActions replaces the saga's recorded undo actions.
	SetCompensationActions(ctx context.Context, sagaID int64, actions []domain.CompensationAction) error

	// CreateStep inserts a step audit row.
	CreateStep(ctx context.Context, step *domain.SagaStep) (*domain.SagaStep, error)

	// FinishStep closes the most recent "started" row for the named step
	// with the outcome, completion time, error and response snapshot. It
	// reports whether a started row was found.
	FinishStep(ctx context.Context, sagaID int64, stepName string, status domain.StepStatus, errorMessage, responseData *string) (bool, error)

	// ListSteps returns a saga's step rows in start order.
	ListSteps(ctx context.Context, sagaID int64) ([]domain.SagaStep, error)

	// ListRecentSagas returns the most recently created sagas, newest first.
	ListRecentSagas(ctx context.Context, limit int) ([]domain.SagaInstance, error)

	// ListActiveSagas returns sagas whose status is not terminal.
	ListActiveSagas(ctx context.Context) ([]domain.SagaInstance, error)

	// CountActiveByState groups in-flight sagas by their current state.
	CountActiveByState(ctx context.Context) (map[domain.OrderState]int, error)
}
