package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	apperrors "github.com/utafrali/saga-orchestrator/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sagaRows(mock pgxmock.PgxPoolIface, sagas ...domain.SagaInstance) *pgxmock.Rows {
	rows := mock.NewRows([]string{
		"id", "order_id", "customer_id", "product_id", "store_id", "cart_id", "quantity",
		"amount", "checkout_id", "current_state", "saga_status", "error_message",
		"compensation_actions", "created_at", "updated_at",
	})
	for _, s := range sagas {
		actions, _ := domain.MarshalActions(s.CompensationActions)
		rows.AddRow(s.ID, s.OrderID, s.CustomerID, s.ProductID, s.StoreID, s.CartID, s.Quantity,
			s.Amount, s.CheckoutID, string(s.CurrentState), string(s.Status), s.ErrorMessage,
			actions, s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func TestCreateSaga(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO saga_instances`).
		WithArgs(int64(123456), int64(1), int64(42), int64(2), int64(5), 3, "created", "started", []byte(`[]`)).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), now, now))

	saga := &domain.SagaInstance{
		OrderID:      123456,
		CustomerID:   1,
		ProductID:    42,
		StoreID:      2,
		CartID:       5,
		Quantity:     3,
		CurrentState: domain.StateCreated,
		Status:       domain.StatusStarted,
	}

	created, err := repo.CreateSaga(context.Background(), saga)
	require.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, now, created.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSaga(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	now := time.Now().UTC()
	want := domain.SagaInstance{
		ID: 7, OrderID: 123456, CustomerID: 1, ProductID: 42, StoreID: 2, CartID: 5, Quantity: 3,
		CurrentState: domain.StateStockReserved, Status: domain.StatusInProgress,
		CompensationActions: []domain.CompensationAction{
			domain.RemoveCartItemAction(5, 42),
		},
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery(`SELECT (.+) FROM saga_instances WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sagaRows(mock, want))

	got, err := repo.GetSaga(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSaga_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	mock.ExpectQuery(`SELECT (.+) FROM saga_instances WHERE id = \$1`).
		WithArgs(int64(999)).
		WillReturnRows(sagaRows(mock))

	_, err := repo.GetSaga(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetSagaByOrderID(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	now := time.Now().UTC()
	want := domain.SagaInstance{
		ID: 2, OrderID: 777, CustomerID: 5, ProductID: 9, StoreID: 1, CartID: 3, Quantity: 1,
		CurrentState: domain.StateOrderConfirmed, Status: domain.StatusCompleted,
		CompensationActions: []domain.CompensationAction{},
		CreatedAt:           now, UpdatedAt: now,
	}

	mock.ExpectQuery(`SELECT (.+) FROM saga_instances WHERE order_id = \$1`).
		WithArgs(int64(777)).
		WillReturnRows(sagaRows(mock, want))

	got, err := repo.GetSagaByOrderID(context.Background(), 777)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestUpdateSagaState(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	mock.ExpectExec(`UPDATE saga_instances SET current_state = \$1, saga_status = \$2`).
		WithArgs("stock_verified", "in_progress", (*string)(nil), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateSagaState(context.Background(), 7, domain.StateStockVerified, domain.StatusInProgress, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSagaState_WithErrorMessage(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	msg := "insufficient stock: available=1, required=5"
	mock.ExpectExec(`UPDATE saga_instances SET current_state = \$1, saga_status = \$2`).
		WithArgs("cancelled", "failed", &msg, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateSagaState(context.Background(), 7, domain.StateCancelled, domain.StatusFailed, &msg)
	require.NoError(t, err)
}

func TestUpdateSagaState_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	mock.ExpectExec(`UPDATE saga_instances SET current_state = \$1, saga_status = \$2`).
		WithArgs("cancelled", "failed", (*string)(nil), int64(999)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateSagaState(context.Background(), 999, domain.StateCancelled, domain.StatusFailed, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFinishStep(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	resp := `{"quantite": 10}`
	mock.ExpectExec(`UPDATE saga_steps SET step_status = \$1, completed_at = NOW\(\)`).
		WithArgs("completed", (*string)(nil), &resp, int64(7), "verify_stock").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	found, err := repo.FinishStep(context.Background(), 7, "verify_stock", domain.StepCompleted, nil, &resp)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFinishStep_NoStartedRow(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	msg := "cart service unreachable"
	mock.ExpectExec(`UPDATE saga_steps SET step_status = \$1, completed_at = NOW\(\)`).
		WithArgs("failed", &msg, (*string)(nil), int64(7), "reserve_stock").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	found, err := repo.FinishStep(context.Background(), 7, "reserve_stock", domain.StepFailed, &msg, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListSteps(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	now := time.Now().UTC()
	done := now.Add(50 * time.Millisecond)
	mock.ExpectQuery(`SELECT (.+) FROM saga_steps WHERE saga_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(mock.NewRows([]string{
			"id", "saga_id", "step_name", "step_status", "started_at", "completed_at",
			"error_message", "request_data", "response_data",
		}).
			AddRow(int64(1), int64(7), "verify_stock", "completed", now, &done, (*string)(nil), (*string)(nil), (*string)(nil)).
			AddRow(int64(2), int64(7), "reserve_stock", "started", now, (*time.Time)(nil), (*string)(nil), (*string)(nil), (*string)(nil)))

	steps, err := repo.ListSteps(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "verify_stock", steps[0].StepName)
	assert.Equal(t, domain.StepCompleted, steps[0].Status)
	assert.NotNil(t, steps[0].CompletedAt)
	assert.Equal(t, domain.StepStarted, steps[1].Status)
	assert.Nil(t, steps[1].CompletedAt)
}

func TestCountActiveByState(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock)

	mock.ExpectQuery(`SELECT current_state, COUNT\(\*\) FROM saga_instances`).
		WillReturnRows(mock.NewRows([]string{"current_state", "count"}).
			AddRow("created", 2).
			AddRow("stock_reserved", 1))

	counts, err := repo.CountActiveByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.OrderState]int{
		domain.StateCreated:       2,
		domain.StateStockReserved: 1,
	}, counts)
}
