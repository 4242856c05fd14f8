// Package service contains the saga coordinator, the entry point that
// drives the four-step order pipeline against external collaborators and
// unwinds it on failure.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	"github.com/utafrali/saga-orchestrator/internal/event"
	"github.com/utafrali/saga-orchestrator/internal/metrics"
	"github.com/utafrali/saga-orchestrator/internal/repository"
	"github.com/utafrali/saga-orchestrator/internal/statemachine"
)

// Saga result statuses returned to the caller of StartOrderSaga.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultError     = "error"
)

// StartOrderInput carries the validated start-saga request.
type StartOrderInput struct {
	CustomerID int64
	ProductID  int64
	StoreID    int64
	CartID     int64
	Quantity   int
}

// SagaResult is the synchronous outcome of one pipeline run. SagaID and
// OrderID are nil only when the saga could not be created at all.
type SagaResult struct {
	SagaID       *int64    `json:"saga_id"`
	OrderID      *int64    `json:"order_id"`
	Status       string    `json:"status"`
	CurrentState string    `json:"current_state"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// SagaCoordinator runs order sagas end to end.
type SagaCoordinator struct {
	sm      *statemachine.StateMachine
	repo    repository.SagaRepository
	collab  *CollaboratorClient
	metrics metrics.Recorder
	events  *event.SagaEvents
	logger  *slog.Logger

	stepTimeout time.Duration
	nowFunc     func() time.Time
}

// NewSagaCoordinator wires the coordinator. stepTimeout bounds every
// outbound collaborator call.
func NewSagaCoordinator(
	sm *statemachine.StateMachine,
	repo repository.SagaRepository,
	collab *CollaboratorClient,
	rec metrics.Recorder,
	events *event.SagaEvents,
	logger *slog.Logger,
	stepTimeout time.Duration,
) *SagaCoordinator {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &SagaCoordinator{
		sm:          sm,
		repo:        repo,
		collab:      collab,
		metrics:     rec,
		events:      events,
		logger:      logger,
		stepTimeout: stepTimeout,
		nowFunc:     time.Now,
	}
}

// StartOrderSaga creates a saga and runs the four-step pipeline
// synchronously. It always returns a terminal result, never an error.
func (c *SagaCoordinator) StartOrderSaga(ctx context.Context, in StartOrderInput) *SagaResult {
	start := c.nowFunc()
	c.metrics.SagaStarted()

	orderID := start.UnixMilli() % 1_000_000

	saga, err := c.sm.CreateSaga(ctx, orderID, in.CustomerID, in.ProductID, in.StoreID, in.CartID, in.Quantity)
	if err != nil {
		c.metrics.SagaFinished(metrics.OutcomeError, c.since(start))
		c.logger.ErrorContext(ctx, "failed to create saga",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return &SagaResult{
			Status:    ResultError,
			Message:   fmt.Sprintf("failed to start saga: %v", err),
			CreatedAt: c.nowFunc().UTC(),
		}
	}

	c.events.SagaStarted(ctx, saga)
	c.logger.InfoContext(ctx, "starting saga",
		slog.Int64("saga_id", saga.ID),
		slog.Int64("order_id", orderID),
	)

	success := c.executeSteps(ctx, saga)
	duration := c.since(start)

	final, err := c.sm.GetSaga(ctx, saga.ID)
	if err != nil {
		final = saga
	}

	if success {
		c.metrics.SagaFinished(metrics.OutcomeCompleted, duration)
		c.events.SagaCompleted(ctx, final)
		return &SagaResult{
			SagaID:       &saga.ID,
			OrderID:      &orderID,
			Status:       ResultCompleted,
			CurrentState: string(domain.StateOrderConfirmed),
			Message:      "order processed successfully",
			CreatedAt:    c.nowFunc().UTC(),
		}
	}

	c.metrics.SagaFinished(metrics.OutcomeFailed, duration)
	c.events.SagaFailed(ctx, final)

	message := "order processing failed"
	if final.ErrorMessage != nil {
		message = *final.ErrorMessage
	}
	return &SagaResult{
		SagaID:       &saga.ID,
		OrderID:      &orderID,
		Status:       ResultFailed,
		CurrentState: string(final.CurrentState),
		Message:      message,
		CreatedAt:    c.nowFunc().UTC(),
	}
}

func (c *SagaCoordinator) executeSteps(ctx context.Context, saga *domain.SagaInstance) bool {
	if !c.verifyStock(ctx, saga) {
		return false
	}
	if !c.reserveStock(ctx, saga) {
		return false
	}
	if !c.processPayment(ctx, saga) {
		return false
	}
	return c.confirmOrder(ctx, saga)
}

// stepRequest is the audit snapshot stored with every step start row.
type stepRequest struct {
	SagaID     int64 `json:"saga_id"`
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	ProductID  int64 `json:"product_id"`
	StoreID    int64 `json:"store_id"`
	CartID     int64 `json:"cart_id"`
	Quantity   int   `json:"quantity"`
}

func requestSnapshot(saga *domain.SagaInstance) stepRequest {
	return stepRequest{
		SagaID:     saga.ID,
		OrderID:    saga.OrderID,
		CustomerID: saga.CustomerID,
		ProductID:  saga.ProductID,
		StoreID:    saga.StoreID,
		CartID:     saga.CartID,
		Quantity:   saga.Quantity,
	}
}

// verifyStock checks availability. Failure here cancels the saga directly
// with no compensation, nothing has been reserved yet.
func (c *SagaCoordinator) verifyStock(ctx context.Context, saga *domain.SagaInstance) bool {
	stepStart := c.nowFunc()
	c.logStepStarted(ctx, saga.ID, domain.StepVerifyStock, requestSnapshot(saga))

	cctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	available, raw, err := c.collab.CheckStock(cctx, saga.ProductID, saga.StoreID)
	cancel()
	c.metrics.StepObserved(domain.StepVerifyStock, c.since(stepStart))

	if err != nil {
		msg := fmt.Sprintf("stock check failed: %v", err)
		c.failStep(ctx, saga.ID, domain.StepVerifyStock, msg, nil)
		c.transition(ctx, saga.ID, domain.StateCancelled, msg)
		return false
	}

	if available < saga.Quantity {
		msg := fmt.Sprintf("insufficient stock: available=%d, required=%d", available, saga.Quantity)
		c.failStep(ctx, saga.ID, domain.StepVerifyStock, msg, raw)
		c.transition(ctx, saga.ID, domain.StateCancelled, msg)
		return false
	}

	c.completeStep(ctx, saga.ID, domain.StepVerifyStock, raw)
	return c.transition(ctx, saga.ID, domain.StateStockVerified, "")
}

// reserveStock adds the item to the cart. From here on, failure triggers
// compensation.
func (c *SagaCoordinator) reserveStock(ctx context.Context, saga *domain.SagaInstance) bool {
	stepStart := c.nowFunc()
	c.logStepStarted(ctx, saga.ID, domain.StepReserveStock, requestSnapshot(saga))

	cctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	raw, err := c.collab.AddCartItem(cctx, saga.CartID, saga.ProductID, saga.StoreID, saga.Quantity)
	cancel()
	c.metrics.StepObserved(domain.StepReserveStock, c.since(stepStart))

	if err != nil {
		msg := fmt.Sprintf("adding item to cart failed: %v", err)
		c.failStep(ctx, saga.ID, domain.StepReserveStock, msg, nil)
		c.startCompensation(ctx, saga.ID, msg)
		return false
	}

	c.completeStep(ctx, saga.ID, domain.StepReserveStock, raw)
	if !c.transition(ctx, saga.ID, domain.StateStockReserved, "") {
		c.startCompensation(ctx, saga.ID, "failed to record stock reservation")
		return false
	}

	if err := c.sm.AddCompensationAction(ctx, saga.ID, domain.RemoveCartItemAction(saga.CartID, saga.ProductID)); err != nil {
		c.logger.ErrorContext(ctx, "failed to record compensation action",
			slog.Int64("saga_id", saga.ID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// processPayment initiates and completes the checkout. The checkout ID is
// captured on the saga row between the two sub-calls.
func (c *SagaCoordinator) processPayment(ctx context.Context, saga *domain.SagaInstance) bool {
	stepStart := c.nowFunc()
	c.logStepStarted(ctx, saga.ID, domain.StepProcessPayment, requestSnapshot(saga))

	cctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	checkoutID, _, err := c.collab.InitiateCheckout(cctx, saga.CartID)
	cancel()

	if err != nil {
		c.metrics.StepObserved(domain.StepProcessPayment, c.since(stepStart))
		msg := fmt.Sprintf("checkout initiation failed: %v", err)
		c.failStep(ctx, saga.ID, domain.StepProcessPayment, msg, nil)
		c.startCompensation(ctx, saga.ID, msg)
		return false
	}

	if err := c.repo.SetCheckoutID(ctx, saga.ID, checkoutID); err != nil {
		c.logger.ErrorContext(ctx, "failed to record checkout id",
			slog.Int64("saga_id", saga.ID),
			slog.String("error", err.Error()),
		)
	}

	cctx, cancel = context.WithTimeout(ctx, c.stepTimeout)
	total, raw, err := c.collab.CompleteCheckout(cctx, checkoutID)
	cancel()
	c.metrics.StepObserved(domain.StepProcessPayment, c.since(stepStart))

	if err != nil {
		msg := fmt.Sprintf("payment processing failed: %v", err)
		c.failStep(ctx, saga.ID, domain.StepProcessPayment, msg, nil)
		c.startCompensation(ctx, saga.ID, msg)
		return false
	}

	if total != nil {
		if err := c.repo.SetAmount(ctx, saga.ID, *total); err != nil {
			c.logger.ErrorContext(ctx, "failed to record order amount",
				slog.Int64("saga_id", saga.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.completeStep(ctx, saga.ID, domain.StepProcessPayment, raw)
	if !c.transition(ctx, saga.ID, domain.StatePaymentProcessed, "") {
		c.startCompensation(ctx, saga.ID, "failed to record payment")
		return false
	}

	if err := c.sm.AddCompensationAction(ctx, saga.ID, domain.CancelCheckoutAction(checkoutID)); err != nil {
		c.logger.ErrorContext(ctx, "failed to record compensation action",
			slog.Int64("saga_id", saga.ID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// confirmOrder performs no external call; it closes the audit trail and
// moves the saga to its success terminal.
func (c *SagaCoordinator) confirmOrder(ctx context.Context, saga *domain.SagaInstance) bool {
	stepStart := c.nowFunc()
	c.logStepStarted(ctx, saga.ID, domain.StepConfirmOrder, requestSnapshot(saga))

	result := map[string]any{
		"order_confirmed": true,
		"saga_id":         saga.ID,
		"order_id":        saga.OrderID,
	}
	c.completeStep(ctx, saga.ID, domain.StepConfirmOrder, result)
	c.metrics.StepObserved(domain.StepConfirmOrder, c.since(stepStart))

	if !c.transition(ctx, saga.ID, domain.StateOrderConfirmed, "") {
		c.startCompensation(ctx, saga.ID, "failed to confirm order")
		return false
	}

	c.logger.InfoContext(ctx, "order confirmed",
		slog.Int64("saga_id", saga.ID),
		slog.Int64("order_id", saga.OrderID),
	)
	return true
}

// startCompensation unwinds the saga: it replays recorded actions in
// reverse order, tolerating per-action failures, and always forces the
// saga to cancelled.
func (c *SagaCoordinator) startCompensation(ctx context.Context, sagaID int64, errorMessage string) {
	c.logger.InfoContext(ctx, "starting compensation",
		slog.Int64("saga_id", sagaID),
		slog.String("reason", errorMessage),
	)

	c.transition(ctx, sagaID, domain.StateCompensationStarted, errorMessage)

	actions, err := c.sm.CompensationActions(ctx, sagaID)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to load compensation actions",
			slog.Int64("saga_id", sagaID),
			slog.String("error", err.Error()),
		)
	}

	for i := len(actions) - 1; i >= 0; i-- {
		if err := c.executeCompensationAction(ctx, actions[i]); err != nil {
			c.logger.ErrorContext(ctx, "compensation action failed",
				slog.Int64("saga_id", sagaID),
				slog.String("action", actions[i].String()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.transition(ctx, sagaID, domain.StateCancelled, "")
}

func (c *SagaCoordinator) executeCompensationAction(ctx context.Context, action domain.CompensationAction) error {
	cctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	c.logger.InfoContext(ctx, "executing compensation action",
		slog.String("action", action.String()),
	)

	switch action.Type {
	case domain.CompensationRemoveCartItem:
		return c.collab.ClearCart(cctx, action.CartID)
	case domain.CompensationCancelCheckout:
		return c.collab.CancelCheckout(cctx, action.CheckoutID)
	case domain.CompensationRestoreStock:
		// The warehouse collaborator has no restore endpoint yet.
		c.logger.InfoContext(ctx, "stock restore requested but not supported by warehouse",
			slog.Int64("product_id", action.ProductID),
			slog.Int64("store_id", action.StoreID),
			slog.Int("quantity", action.Quantity),
		)
		return nil
	default:
		return fmt.Errorf("unknown compensation action type %q", action.Type)
	}
}

// GetSagaStatus returns the summary for a saga.
func (c *SagaCoordinator) GetSagaStatus(ctx context.Context, sagaID int64) (*domain.SagaSummary, error) {
	return c.sm.Summary(ctx, sagaID)
}

// GetSagaByOrderID returns the summary for the saga orchestrating orderID.
func (c *SagaCoordinator) GetSagaByOrderID(ctx context.Context, orderID int64) (*domain.SagaSummary, error) {
	return c.sm.SummaryByOrderID(ctx, orderID)
}

// ListRecentSagas returns the monitoring view of the newest sagas.
func (c *SagaCoordinator) ListRecentSagas(ctx context.Context, limit int) ([]domain.SagaListing, error) {
	sagas, err := c.repo.ListRecentSagas(ctx, limit)
	if err != nil {
		return nil, err
	}
	return toListings(sagas), nil
}

// ListActiveSagas returns the monitoring view of in-flight sagas.
func (c *SagaCoordinator) ListActiveSagas(ctx context.Context) ([]domain.SagaListing, error) {
	sagas, err := c.repo.ListActiveSagas(ctx)
	if err != nil {
		return nil, err
	}
	return toListings(sagas), nil
}

func toListings(sagas []domain.SagaInstance) []domain.SagaListing {
	out := make([]domain.SagaListing, len(sagas))
	for i, s := range sagas {
		out[i] = domain.SagaListing{
			SagaID:       s.ID,
			OrderID:      s.OrderID,
			CurrentState: s.CurrentState,
			SagaStatus:   s.Status,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
			ErrorMessage: s.ErrorMessage,
		}
	}
	return out
}

// InitializeMetrics seeds the state population gauges from storage.
func (c *SagaCoordinator) InitializeMetrics(ctx context.Context) error {
	return c.sm.RefreshStateGauges(ctx)
}

func (c *SagaCoordinator) since(t time.Time) float64 {
	return c.nowFunc().Sub(t).Seconds()
}

// transition is a logging wrapper around the state machine; a rejected or
// failed transition is reported as false, never as a panic.
func (c *SagaCoordinator) transition(ctx context.Context, sagaID int64, target domain.OrderState, errorMessage string) bool {
	ok, err := c.sm.TransitionTo(ctx, sagaID, target, errorMessage)
	if err != nil {
		c.logger.ErrorContext(ctx, "transition failed",
			slog.Int64("saga_id", sagaID),
			slog.String("target", string(target)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (c *SagaCoordinator) logStepStarted(ctx context.Context, sagaID int64, step string, req any) {
	if err := c.sm.LogStepStarted(ctx, sagaID, step, req); err != nil {
		c.logger.ErrorContext(ctx, "failed to log step start",
			slog.Int64("saga_id", sagaID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
	}
}

func (c *SagaCoordinator) completeStep(ctx context.Context, sagaID int64, step string, resp any) {
	if raw, ok := resp.(json.RawMessage); ok && len(raw) == 0 {
		resp = nil
	}
	if err := c.sm.LogStepCompleted(ctx, sagaID, step, resp); err != nil {
		c.logger.ErrorContext(ctx, "failed to log step completion",
			slog.Int64("saga_id", sagaID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
	}
}

func (c *SagaCoordinator) failStep(ctx context.Context, sagaID int64, step, msg string, resp any) {
	if raw, ok := resp.(json.RawMessage); ok && len(raw) == 0 {
		resp = nil
	}
	if err := c.sm.LogStepFailed(ctx, sagaID, step, msg, resp); err != nil {
		c.logger.ErrorContext(ctx, "failed to log step failure",
			slog.Int64("saga_id", sagaID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
	}
}
