package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/utafrali/saga-orchestrator/internal/service"
	apperrors "github.com/utafrali/saga-orchestrator/pkg/errors"
	"github.com/utafrali/saga-orchestrator/pkg/httputil"
	"github.com/utafrali/saga-orchestrator/pkg/kafka"
	"github.com/utafrali/saga-orchestrator/pkg/validator"
)

// EventsHandler ingests asynchronous collaborator callbacks.
type EventsHandler struct {
	coordinator Coordinator
	idempotency kafka.IdempotencyStore
	logger      *slog.Logger
}

// NewEventsHandler creates the handler. The idempotency store dedupes
// redelivered callbacks by event_id; a nil store disables deduplication.
func NewEventsHandler(coordinator Coordinator, idempotency kafka.IdempotencyStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{coordinator: coordinator, idempotency: idempotency, logger: logger}
}

type eventResponse struct {
	Status string `json:"status"`
	SagaID int64  `json:"saga_id"`
}

// HandleEvent applies one collaborator event to its saga.
func (h *EventsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev service.CollaboratorEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid event body"), h.logger)
		return
	}
	if err := validator.Validate(ev); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if h.idempotency != nil && ev.EventID != "" {
		fresh, err := h.idempotency.MarkProcessed(r.Context(), ev.EventID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "idempotency check failed, processing anyway",
				slog.String("event_id", ev.EventID),
				slog.String("error", err.Error()),
			)
		} else if !fresh {
			h.logger.InfoContext(r.Context(), "duplicate event skipped",
				slog.String("event_id", ev.EventID),
				slog.Int64("saga_id", ev.SagaID),
			)
			httputil.WriteJSON(w, http.StatusOK, eventResponse{Status: "duplicate_skipped", SagaID: ev.SagaID})
			return
		}
	}

	if err := h.coordinator.HandleCollaboratorEvent(r.Context(), ev); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, eventResponse{Status: "event_processed", SagaID: ev.SagaID})
}
