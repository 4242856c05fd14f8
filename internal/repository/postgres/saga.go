// Package postgres implements the saga repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	apperrors "github.com/utafrali/saga-orchestrator/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SagaRepository is the PostgreSQL-backed saga store.
type SagaRepository struct {
	db DB
}

// NewSagaRepository creates a repository over the given pool or mock.
func NewSagaRepository(db DB) *SagaRepository {
	return &SagaRepository{db: db}
}

const sagaColumns = `id, order_id, customer_id, product_id, store_id, cart_id, quantity, amount, checkout_id,
		current_state, saga_status, error_message, compensation_actions, created_at, updated_at`

func (r *SagaRepository) CreateSaga(ctx context.Context, saga *domain.SagaInstance) (*domain.SagaInstance, error) {
	actions, err := domain.MarshalActions(saga.CompensationActions)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO saga_instances (order_id, customer_id, product_id, store_id, cart_id, quantity, current_state, saga_status, compensation_actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	created := *saga
	err = r.db.QueryRow(ctx, query,
		saga.OrderID, saga.CustomerID, saga.ProductID, saga.StoreID, saga.CartID, saga.Quantity,
		string(saga.CurrentState), string(saga.Status), actions,
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.AlreadyExists(fmt.Sprintf("saga for order %d already exists", saga.OrderID))
		}
		return nil, fmt.Errorf("create saga: %w", err)
	}

	return &created, nil
}

func (r *SagaRepository) GetSaga(ctx context.Context, sagaID int64) (*domain.SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE id = $1`
	return r.scanSaga(r.db.QueryRow(ctx, query, sagaID), fmt.Sprintf("saga %d not found", sagaID))
}

func (r *SagaRepository) GetSagaByOrderID(ctx context.Context, orderID int64) (*domain.SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE order_id = $1`
	return r.scanSaga(r.db.QueryRow(ctx, query, orderID), fmt.Sprintf("no saga for order %d", orderID))
}

func (r *SagaRepository) scanSaga(row pgx.Row, notFoundMsg string) (*domain.SagaInstance, error) {
	var (
		saga    domain.SagaInstance
		state   string
		status  string
		actions []byte
	)

	err := row.Scan(
		&saga.ID, &saga.OrderID, &saga.CustomerID, &saga.ProductID, &saga.StoreID, &saga.CartID,
		&saga.Quantity, &saga.Amount, &saga.CheckoutID, &state, &status, &saga.ErrorMessage,
		&actions, &saga.CreatedAt, &saga.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(notFoundMsg)
		}
		return nil, fmt.Errorf("scan saga: %w", err)
	}

	saga.CurrentState = domain.OrderState(state)
	saga.Status = domain.SagaStatus(status)
	saga.CompensationActions, err = domain.UnmarshalActions(actions)
	if err != nil {
		return nil, err
	}

	return &saga, nil
}

func (r *SagaRepository) UpdateSagaState(ctx context.Context, sagaID int64, state domain.OrderState, status domain.SagaStatus, errorMessage *string) error {
	query := `UPDATE saga_instances SET current_state = $1, saga_status = $2,
		error_message = COALESCE($3, error_message), updated_at = NOW()
		WHERE id = $4`

	tag, err := r.db.Exec(ctx, query, string(state), string(status), errorMessage, sagaID)
	if err != nil {
		return fmt.Errorf("update saga state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	return nil
}

func (r *SagaRepository) SetCheckoutID(ctx context.Context, sagaID, checkoutID int64) error {
	query := `UPDATE saga_instances SET checkout_id = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, checkoutID, sagaID)
	if err != nil {
		return fmt.Errorf("set checkout id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	return nil
}

func (r *SagaRepository) SetAmount(ctx context.Context, sagaID int64, amount float64) error {
	query := `UPDATE saga_instances SET amount = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, amount, sagaID)
	if err != nil {
		return fmt.Errorf("set amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	return nil
}

func (r *SagaRepository) SetCompensationActions(ctx context.Context, sagaID int64, actions []domain.CompensationAction) error {
	data, err := domain.MarshalActions(actions)
	if err != nil {
		return err
	}

	query := `UPDATE saga_instances SET compensation_actions = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, data, sagaID)
	if err != nil {
		return fmt.Errorf("set compensation actions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	return nil
}

func (r *SagaRepository) CreateStep(ctx context.Context, step *domain.SagaStep) (*domain.SagaStep, error) {
	query := `
		INSERT INTO saga_steps (saga_id, step_name, step_status, request_data)
		VALUES ($1, $2, $3, $4)
		RETURNING id, started_at`

	created := *step
	err := r.db.QueryRow(ctx, query,
		step.SagaID, step.StepName, string(step.Status), step.RequestData,
	).Scan(&created.ID, &created.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create saga step: %w", err)
	}

	return &created, nil
}

func (r *SagaRepository) FinishStep(ctx context.Context, sagaID int64, stepName string, status domain.StepStatus, errorMessage, responseData *string) (bool, error) {
	query := `
		UPDATE saga_steps SET step_status = $1, completed_at = NOW(), error_message = $2, response_data = $3
		WHERE id = (
			SELECT id FROM saga_steps
			WHERE saga_id = $4 AND step_name = $5 AND step_status = 'started'
			ORDER BY id DESC LIMIT 1
		)`

	tag, err := r.db.Exec(ctx, query, string(status), errorMessage, responseData, sagaID, stepName)
	if err != nil {
		return false, fmt.Errorf("finish saga step: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SagaRepository) ListSteps(ctx context.Context, sagaID int64) ([]domain.SagaStep, error) {
	query := `
		SELECT id, saga_id, step_name, step_status, started_at, completed_at, error_message, request_data, response_data
		FROM saga_steps WHERE saga_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, sagaID)
	if err != nil {
		return nil, fmt.Errorf("list saga steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.SagaStep
	for rows.Next() {
		var (
			step   domain.SagaStep
			status string
		)
		if err := rows.Scan(&step.ID, &step.SagaID, &step.StepName, &status,
			&step.StartedAt, &step.CompletedAt, &step.ErrorMessage,
			&step.RequestData, &step.ResponseData); err != nil {
			return nil, fmt.Errorf("scan saga step: %w", err)
		}
		step.Status = domain.StepStatus(status)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga steps: %w", err)
	}

	return steps, nil
}

func (r *SagaRepository) ListRecentSagas(ctx context.Context, limit int) ([]domain.SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sagas: %w", err)
	}
	defer rows.Close()

	return r.collectSagas(rows)
}

func (r *SagaRepository) ListActiveSagas(ctx context.Context) ([]domain.SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances
		WHERE saga_status IN ('started', 'in_progress', 'compensating')
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sagas: %w", err)
	}
	defer rows.Close()

	return r.collectSagas(rows)
}

func (r *SagaRepository) collectSagas(rows pgx.Rows) ([]domain.SagaInstance, error) {
	var sagas []domain.SagaInstance
	for rows.Next() {
		var (
			saga    domain.SagaInstance
			state   string
			status  string
			actions []byte
		)
		err := rows.Scan(
			&saga.ID, &saga.OrderID, &saga.CustomerID, &saga.ProductID, &saga.StoreID, &saga.CartID,
			&saga.Quantity, &saga.Amount, &saga.CheckoutID, &state, &status, &saga.ErrorMessage,
			&actions, &saga.CreatedAt, &saga.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		saga.CurrentState = domain.OrderState(state)
		saga.Status = domain.SagaStatus(status)
		saga.CompensationActions, err = domain.UnmarshalActions(actions)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sagas: %w", err)
	}

	return sagas, nil
}

func (r *SagaRepository) CountActiveByState(ctx context.Context) (map[domain.OrderState]int, error) {
	query := `SELECT current_state, COUNT(*) FROM saga_instances
		WHERE saga_status IN ('started', 'in_progress', 'compensating')
		GROUP BY current_state`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count active sagas: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[domain.OrderState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	return counts, nil
}
