// Package memory implements the saga repository in process memory. It
// backs local development without PostgreSQL and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	apperrors "github.com/utafrali/saga-orchestrator/pkg/errors"
)

// SagaRepository is an in-memory saga store safe for concurrent use.
type SagaRepository struct {
	mu         sync.RWMutex
	sagas      map[int64]*domain.SagaInstance
	steps      map[int64][]*domain.SagaStep
	nextSagaID int64
	nextStepID int64
	nowFunc    func() time.Time
}

// NewSagaRepository creates an empty in-memory repository.
func NewSagaRepository() *SagaRepository {
	return &SagaRepository{
		sagas:      make(map[int64]*domain.SagaInstance),
		steps:      make(map[int64][]*domain.SagaStep),
		nextSagaID: 1,
		nextStepID: 1,
		nowFunc:    time.Now,
	}
}

func (r *SagaRepository) CreateSaga(_ context.Context, saga *domain.SagaInstance) (*domain.SagaInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sagas {
		if existing.OrderID == saga.OrderID {
			return nil, apperrors.AlreadyExists(fmt.Sprintf("saga for order %d already exists", saga.OrderID))
		}
	}

	now := r.nowFunc().UTC()
	created := *saga
	created.ID = r.nextSagaID
	r.nextSagaID++
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.CompensationActions == nil {
		created.CompensationActions = []domain.CompensationAction{}
	}

	r.sagas[created.ID] = &created
	out := created
	return &out, nil
}

func (r *SagaRepository) GetSaga(_ context.Context, sagaID int64) (*domain.SagaInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	saga, ok := r.sagas[sagaID]
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	return copySaga(saga), nil
}

func (r *SagaRepository) GetSagaByOrderID(_ context.Context, orderID int64) (*domain.SagaInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, saga := range r.sagas {
		if saga.OrderID == orderID {
			return copySaga(saga), nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("no saga for order %d", orderID))
}

func (r *SagaRepository) UpdateSagaState(_ context.Context, sagaID int64, state domain.OrderState, status domain.SagaStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saga, ok := r.sagas[sagaID]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	saga.CurrentState = state
	saga.Status = status
	if errorMessage != nil {
		msg := *errorMessage
		saga.ErrorMessage = &msg
	}
	saga.UpdatedAt = r.nowFunc().UTC()
	return nil
}

func (r *SagaRepository) SetCheckoutID(_ context.Context, sagaID, checkoutID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saga, ok := r.sagas[sagaID]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	id := checkoutID
	saga.CheckoutID = &id
	saga.UpdatedAt = r.nowFunc().UTC()
	return nil
}

func (r *SagaRepository) SetAmount(_ context.Context, sagaID int64, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saga, ok := r.sagas[sagaID]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	a := amount
	saga.Amount = &a
	saga.UpdatedAt = r.nowFunc().UTC()
	return nil
}

func (r *SagaRepository) SetCompensationActions(_ context.Context, sagaID int64, actions []domain.CompensationAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saga, ok := r.sagas[sagaID]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("saga %d not found", sagaID))
	}
	saga.CompensationActions = append([]domain.CompensationAction(nil), actions...)
	saga.UpdatedAt = r.nowFunc().UTC()
	return nil
}

func (r *SagaRepository) CreateStep(_ context.Context, step *domain.SagaStep) (*domain.SagaStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := *step
	created.ID = r.nextStepID
	r.nextStepID++
	created.StartedAt = r.nowFunc().UTC()

	r.steps[created.SagaID] = append(r.steps[created.SagaID], &created)
	out := created
	return &out, nil
}

func (r *SagaRepository) FinishStep(_ context.Context, sagaID int64, stepName string, status domain.StepStatus, errorMessage, responseData *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := r.steps[sagaID]
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].StepName == stepName && steps[i].Status == domain.StepStarted {
			now := r.nowFunc().UTC()
			steps[i].Status = status
			steps[i].CompletedAt = &now
			steps[i].ErrorMessage = errorMessage
			steps[i].ResponseData = responseData
			return true, nil
		}
	}
	return false, nil
}

func (r *SagaRepository) ListSteps(_ context.Context, sagaID int64) ([]domain.SagaStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := r.steps[sagaID]
	out := make([]domain.SagaStep, len(steps))
	for i, s := range steps {
		out[i] = *s
	}
	return out, nil
}

func (r *SagaRepository) ListRecentSagas(_ context.Context, limit int) ([]domain.SagaInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sagas := r.snapshot()
	sortNewestFirst(sagas)
	if limit > 0 && len(sagas) > limit {
		sagas = sagas[:limit]
	}
	return sagas, nil
}

func (r *SagaRepository) ListActiveSagas(_ context.Context) ([]domain.SagaInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []domain.SagaInstance
	for _, saga := range r.snapshot() {
		if saga.Status.IsActive() {
			active = append(active, saga)
		}
	}
	sortNewestFirst(active)
	return active, nil
}

func (r *SagaRepository) CountActiveByState(_ context.Context) (map[domain.OrderState]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.OrderState]int)
	for _, saga := range r.sagas {
		if saga.Status.IsActive() {
			counts[saga.CurrentState]++
		}
	}
	return counts, nil
}

// snapshot copies all sagas. Callers must hold at least a read lock.
func (r *SagaRepository) snapshot() []domain.SagaInstance {
	out := make([]domain.SagaInstance, 0, len(r.sagas))
	for _, saga := range r.sagas {
		out = append(out, *copySaga(saga))
	}
	return out
}

func copySaga(saga *domain.SagaInstance) *domain.SagaInstance {
	c := *saga
	c.CompensationActions = append([]domain.CompensationAction(nil), saga.CompensationActions...)
	return &c
}

func sortNewestFirst(sagas []domain.SagaInstance) {
	sort.Slice(sagas, func(i, j int) bool {
		if sagas[i].CreatedAt.Equal(sagas[j].CreatedAt) {
			return sagas[i].ID > sagas[j].ID
		}
		return sagas[i].CreatedAt.After(sagas[j].CreatedAt)
	})
}
