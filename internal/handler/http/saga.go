// Package http exposes the saga orchestrator's inbound HTTP surface.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/saga-orchestrator/internal/domain"
	"github.com/utafrali/saga-orchestrator/internal/service"
	apperrors "github.com/utafrali/saga-orchestrator/pkg/errors"
	"github.com/utafrali/saga-orchestrator/pkg/httputil"
	"github.com/utafrali/saga-orchestrator/pkg/validator"
)

// listLimit caps the monitoring list endpoint.
const listLimit = 50

// Coordinator is the saga pipeline surface the handlers depend on.
type Coordinator interface {
	StartOrderSaga(ctx context.Context, in service.StartOrderInput) *service.SagaResult
	GetSagaStatus(ctx context.Context, sagaID int64) (*domain.SagaSummary, error)
	GetSagaByOrderID(ctx context.Context, orderID int64) (*domain.SagaSummary, error)
	ListRecentSagas(ctx context.Context, limit int) ([]domain.SagaListing, error)
	ListActiveSagas(ctx context.Context) ([]domain.SagaListing, error)
	HandleCollaboratorEvent(ctx context.Context, ev service.CollaboratorEvent) error
}

// SagaHandler serves the saga endpoints.
type SagaHandler struct {
	coordinator Coordinator
	logger      *slog.Logger
}

// NewSagaHandler creates the handler.
func NewSagaHandler(coordinator Coordinator, logger *slog.Logger) *SagaHandler {
	return &SagaHandler{coordinator: coordinator, logger: logger}
}

// startSagaRequest is the POST /start-saga body.
type startSagaRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,gt=0"`
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	StoreID    int64 `json:"store_id" validate:"required,gt=0"`
	Quantity   int   `json:"quantity" validate:"required,gt=0"`
	CartID     int64 `json:"cart_id" validate:"required,gt=0"`
}

// StartSaga runs the order pipeline synchronously. 200 on a completed
// saga, 400 on a controlled saga failure, 500 on unexpected error.
func (h *SagaHandler) StartSaga(w http.ResponseWriter, r *http.Request) {
	var req startSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result := h.coordinator.StartOrderSaga(r.Context(), service.StartOrderInput{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		StoreID:    req.StoreID,
		CartID:     req.CartID,
		Quantity:   req.Quantity,
	})

	switch result.Status {
	case service.ResultCompleted:
		httputil.WriteJSON(w, http.StatusOK, result)
	case service.ResultFailed:
		httputil.WriteJSON(w, http.StatusBadRequest, result)
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, result)
	}
}

// GetSaga returns the summary for one saga.
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID, err := pathID(r, "saga_id")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	summary, err := h.coordinator.GetSagaStatus(r.Context(), sagaID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// GetSagaByOrder returns the summary for the saga orchestrating an order.
func (h *SagaHandler) GetSagaByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "order_id")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	summary, err := h.coordinator.GetSagaByOrderID(r.Context(), orderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// ListSagas returns the 50 most recent sagas, newest first.
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	sagas, err := h.coordinator.ListRecentSagas(r.Context(), listLimit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if sagas == nil {
		sagas = []domain.SagaListing{}
	}
	httputil.WriteJSON(w, http.StatusOK, sagas)
}

// ListActiveSagas returns all in-flight sagas.
func (h *SagaHandler) ListActiveSagas(w http.ResponseWriter, r *http.Request) {
	sagas, err := h.coordinator.ListActiveSagas(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if sagas == nil {
		sagas = []domain.SagaListing{}
	}
	httputil.WriteJSON(w, http.StatusOK, sagas)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidInput(name + " must be a positive integer")
	}
	return id, nil
}
