package statemachine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	"github.com/utafrali/saga-orchestrator/internal/metrics"
	"github.com/utafrali/saga-orchestrator/internal/repository/memory"
)

func newStateMachine() (*StateMachine, *memory.SagaRepository) {
	repo := memory.NewSagaRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, metrics.Noop{}, logger), repo
}

func mustCreate(t *testing.T, sm *StateMachine) *domain.SagaInstance {
	t.Helper()
	saga, err := sm.CreateSaga(context.Background(), 123456, 1, 42, 2, 5, 3)
	require.NoError(t, err)
	return saga
}

func TestCreateSaga_InitialState(t *testing.T) {
	sm, _ := newStateMachine()

	saga := mustCreate(t, sm)

	assert.Equal(t, domain.StateCreated, saga.CurrentState)
	assert.Equal(t, domain.StatusStarted, saga.Status)
	assert.Empty(t, saga.CompensationActions)
	assert.Equal(t, int64(2), saga.StoreID)
	assert.Equal(t, int64(5), saga.CartID)
}

func TestCreateSaga_DuplicateOrderRejected(t *testing.T) {
	sm, _ := newStateMachine()
	mustCreate(t, sm)

	_, err := sm.CreateSaga(context.Background(), 123456, 9, 9, 9, 9, 1)
	require.Error(t, err)
}

func TestTransitionTo_HappyPath(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	path := []domain.OrderState{
		domain.StateStockVerified,
		domain.StateStockReserved,
		domain.StatePaymentProcessed,
		domain.StateOrderConfirmed,
	}

	for _, state := range path {
		ok, err := sm.TransitionTo(ctx, saga.ID, state, "")
		require.NoError(t, err)
		assert.True(t, ok, "transition to %s", state)
	}

	got, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOrderConfirmed, got.CurrentState)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)
}

func TestTransitionTo_InvalidDoesNotMutate(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	// created cannot jump straight to payment_processed
	ok, err := sm.TransitionTo(ctx, saga.ID, domain.StatePaymentProcessed, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, got.CurrentState)
	assert.Equal(t, domain.StatusStarted, got.Status)
}

func TestTransitionTo_TerminalRejectsAll(t *testing.T) {
	sm, _ := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	ok, err := sm.TransitionTo(ctx, saga.ID, domain.StateCancelled, "stock check failed")
	require.NoError(t, err)
	require.True(t, ok)

	for _, target := range domain.AllStates() {
		ok, err := sm.TransitionTo(ctx, saga.ID, target, "")
		require.NoError(t, err)
		assert.False(t, ok, "cancelled -> %s should be rejected", target)
	}
}

func TestTransitionTo_StoresErrorMessage(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	ok, err := sm.TransitionTo(ctx, saga.ID, domain.StateCancelled, "insufficient stock: available=1, required=5")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "insufficient stock: available=1, required=5", *got.ErrorMessage)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestTransitionTo_CompensationPath(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	for _, state := range []domain.OrderState{
		domain.StateStockVerified,
		domain.StateStockReserved,
		domain.StateCompensationStarted,
		domain.StateCancelled,
	} {
		ok, err := sm.TransitionTo(ctx, saga.ID, state, "")
		require.NoError(t, err)
		require.True(t, ok, "transition to %s", state)
	}

	got, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestStepLogging(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	req := map[string]any{"product_id": 42, "store_id": 2}
	resp := map[string]any{"quantite": 10}

	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepVerifyStock, req))
	require.NoError(t, sm.LogStepCompleted(ctx, saga.ID, domain.StepVerifyStock, resp))

	steps, err := repo.ListSteps(ctx, saga.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, domain.StepCompleted, steps[0].Status)
	assert.NotNil(t, steps[0].CompletedAt)
	require.NotNil(t, steps[0].RequestData)
	assert.JSONEq(t, `{"product_id":42,"store_id":2}`, *steps[0].RequestData)
	require.NotNil(t, steps[0].ResponseData)
	assert.JSONEq(t, `{"quantite":10}`, *steps[0].ResponseData)
}

func TestStepCompleted_WithoutStartedRowIsNoop(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	// No started row exists; the update is skipped, not an error.
	err := sm.LogStepCompleted(ctx, saga.ID, domain.StepReserveStock, nil)
	require.NoError(t, err)

	steps, err := repo.ListSteps(ctx, saga.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestStepFailed_ClosesMostRecentStartedRow(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepProcessPayment, nil))
	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepProcessPayment, nil))
	require.NoError(t, sm.LogStepFailed(ctx, saga.ID, domain.StepProcessPayment, "card declined", nil))

	steps, err := repo.ListSteps(ctx, saga.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, domain.StepStarted, steps[0].Status)
	assert.Equal(t, domain.StepFailed, steps[1].Status)
	require.NotNil(t, steps[1].ErrorMessage)
	assert.Equal(t, "card declined", *steps[1].ErrorMessage)
}

func TestCompensationActions_AppendOrder(t *testing.T) {
	sm, _ := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	first := domain.RemoveCartItemAction(5, 42)
	second := domain.CancelCheckoutAction(99)

	require.NoError(t, sm.AddCompensationAction(ctx, saga.ID, first))
	require.NoError(t, sm.AddCompensationAction(ctx, saga.ID, second))

	actions, err := sm.CompensationActions(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.CompensationAction{first, second}, actions)
}

func TestIsSagaComplete(t *testing.T) {
	sm, _ := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	done, err := sm.IsSagaComplete(ctx, saga.ID)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = sm.TransitionTo(ctx, saga.ID, domain.StateCancelled, "")
	require.NoError(t, err)

	done, err = sm.IsSagaComplete(ctx, saga.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSummary_CountsSteps(t *testing.T) {
	sm, _ := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepVerifyStock, nil))
	require.NoError(t, sm.LogStepCompleted(ctx, saga.ID, domain.StepVerifyStock, nil))
	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepReserveStock, nil))
	require.NoError(t, sm.LogStepFailed(ctx, saga.ID, domain.StepReserveStock, "cart unavailable", nil))

	summary, err := sm.Summary(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.ID, summary.SagaID)
	assert.Equal(t, saga.OrderID, summary.OrderID)
	assert.Equal(t, 2, summary.StepsCount)
	assert.Equal(t, 1, summary.CompletedSteps)
	assert.Equal(t, 1, summary.FailedSteps)
	assert.False(t, summary.IsComplete)

	// Summary is a pure read, a second call yields identical output.
	again, err := sm.Summary(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, summary, again)

	byOrder, err := sm.SummaryByOrderID(ctx, saga.OrderID)
	require.NoError(t, err)
	assert.Equal(t, summary.SagaID, byOrder.SagaID)
}

func TestSummary_RepeatedCallsDoNotMutate(t *testing.T) {
	sm, repo := newStateMachine()
	ctx := context.Background()
	saga := mustCreate(t, sm)

	require.NoError(t, sm.LogStepStarted(ctx, saga.ID, domain.StepVerifyStock, nil))
	require.NoError(t, sm.LogStepCompleted(ctx, saga.ID, domain.StepVerifyStock, nil))
	_, err := sm.TransitionTo(ctx, saga.ID, domain.StateStockVerified, "")
	require.NoError(t, err)

	before, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	stepsBefore, err := repo.ListSteps(ctx, saga.ID)
	require.NoError(t, err)

	first, err := sm.Summary(ctx, saga.ID)
	require.NoError(t, err)
	second, err := sm.Summary(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := repo.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	stepsAfter, err := repo.ListSteps(ctx, saga.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, stepsBefore, stepsAfter)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}
