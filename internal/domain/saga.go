// Package domain defines the saga state machine entities and the legal
// transitions between order states.
package domain

import "time"

// OrderState is the fine-grained state of an order saga.
type OrderState string

const (
	StateCreated             OrderState = "created"
	StateStockVerified       OrderState = "stock_verified"
	StateStockReserved       OrderState = "stock_reserved"
	StatePaymentProcessed    OrderState = "payment_processed"
	StateOrderConfirmed      OrderState = "order_confirmed"
	StateCompensationStarted OrderState = "compensation_started"
	StateCancelled           OrderState = "cancelled"
)

// AllStates lists every order state, in progression order.
func AllStates() []OrderState {
	return []OrderState{
		StateCreated,
		StateStockVerified,
		StateStockReserved,
		StatePaymentProcessed,
		StateOrderConfirmed,
		StateCompensationStarted,
		StateCancelled,
	}
}

// NextStates returns the states legally reachable from s. Terminal states
// return nil.
func (s OrderState) NextStates() []OrderState {
	switch s {
	case StateCreated:
		return []OrderState{StateStockVerified, StateCancelled}
	case StateStockVerified:
		return []OrderState{StateStockReserved, StateCancelled}
	case StateStockReserved:
		return []OrderState{StatePaymentProcessed, StateCompensationStarted}
	case StatePaymentProcessed:
		return []OrderState{StateOrderConfirmed, StateCompensationStarted}
	case StateCompensationStarted:
		return []OrderState{StateCancelled}
	case StateOrderConfirmed, StateCancelled:
		return nil
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s OrderState) CanTransitionTo(target OrderState) bool {
	for _, next := range s.NextStates() {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s OrderState) IsTerminal() bool {
	return s == StateOrderConfirmed || s == StateCancelled
}

// Valid reports whether s is a known order state.
func (s OrderState) Valid() bool {
	switch s {
	case StateCreated, StateStockVerified, StateStockReserved,
		StatePaymentProcessed, StateOrderConfirmed,
		StateCompensationStarted, StateCancelled:
		return true
	}
	return false
}

// SagaStatus is the coarse lifecycle status derived from the current state.
type SagaStatus string

const (
	StatusStarted      SagaStatus = "started"
	StatusInProgress   SagaStatus = "in_progress"
	StatusCompleted    SagaStatus = "completed"
	StatusFailed       SagaStatus = "failed"
	StatusCompensating SagaStatus = "compensating"
	// StatusCompensated exists in the status vocabulary for operator use
	// but is never produced by StatusForState.
	StatusCompensated SagaStatus = "compensated"
)

// StatusForState derives the coarse status from a fine-grained state.
// The status column is never set independently of this mapping.
func StatusForState(s OrderState) SagaStatus {
	switch s {
	case StateOrderConfirmed:
		return StatusCompleted
	case StateCancelled:
		return StatusFailed
	case StateCompensationStarted:
		return StatusCompensating
	default:
		return StatusInProgress
	}
}

// IsActive reports whether st denotes a saga that has not reached a
// terminal outcome.
func (st SagaStatus) IsActive() bool {
	switch st {
	case StatusStarted, StatusInProgress, StatusCompensating:
		return true
	}
	return false
}

// SagaInstance is the persisted record of one order saga. Rows are never
// deleted, they are the permanent audit of the attempt.
type SagaInstance struct {
	ID                  int64
	OrderID             int64
	CustomerID          int64
	ProductID           int64
	StoreID             int64
	CartID              int64
	Quantity            int
	Amount              *float64
	CheckoutID          *int64
	CurrentState        OrderState
	Status              SagaStatus
	ErrorMessage        *string
	CompensationActions []CompensationAction
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// StepStatus is the outcome recorded for a saga step row.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step names, in execution order.
const (
	StepVerifyStock    = "verify_stock"
	StepReserveStock   = "reserve_stock"
	StepProcessPayment = "process_payment"
	StepConfirmOrder   = "confirm_order"
)

// StepNames lists the saga steps in the order they execute.
func StepNames() []string {
	return []string{StepVerifyStock, StepReserveStock, StepProcessPayment, StepConfirmOrder}
}

// SagaStep is one audit row of step execution. RequestData and
// ResponseData hold serialized snapshots of the collaborator exchange.
type SagaStep struct {
	ID           int64
	SagaID       int64
	StepName     string
	Status       StepStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	RequestData  *string
	ResponseData *string
}

// SagaSummary is the API-facing view of a saga with step counts.
type SagaSummary struct {
	SagaID         int64      `json:"saga_id"`
	OrderID        int64      `json:"order_id"`
	CurrentState   OrderState `json:"current_state"`
	SagaStatus     SagaStatus `json:"saga_status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ErrorMessage   *string    `json:"error_message"`
	StepsCount     int        `json:"steps_count"`
	CompletedSteps int        `json:"completed_steps"`
	FailedSteps    int        `json:"failed_steps"`
	IsComplete     bool       `json:"is_complete"`
}

// SagaListing is the monitoring view returned by the saga list endpoints.
type SagaListing struct {
	SagaID       int64      `json:"saga_id"`
	OrderID      int64      `json:"order_id"`
	CurrentState OrderState `json:"current_state"`
	SagaStatus   SagaStatus `json:"saga_status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ErrorMessage *string    `json:"error_message"`
}
