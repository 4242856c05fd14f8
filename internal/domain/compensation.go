package domain

import (
	"encoding/json"
	"fmt"
)

// CompensationType discriminates the recorded compensating actions.
type CompensationType string

const (
	CompensationRemoveCartItem CompensationType = "remove_cart_item"
	CompensationCancelCheckout CompensationType = "cancel_checkout"
	CompensationRestoreStock   CompensationType = "restore_stock"
)

// CompensationAction is a recorded undo operation. Type selects which of
// the payload fields are meaningful.
type CompensationAction struct {
	Type       CompensationType `json:"type"`
	CartID     int64            `json:"cart_id,omitempty"`
	ProductID  int64            `json:"product_id,omitempty"`
	StoreID    int64            `json:"store_id,omitempty"`
	Quantity   int              `json:"quantity,omitempty"`
	CheckoutID int64            `json:"checkout_id,omitempty"`
}

// RemoveCartItemAction records that the cart built for the order must be
// cleared if the saga unwinds.
func RemoveCartItemAction(cartID, productID int64) CompensationAction {
	return CompensationAction{
		Type:      CompensationRemoveCartItem,
		CartID:    cartID,
		ProductID: productID,
	}
}

// CancelCheckoutAction records that an initiated checkout must be
// cancelled if the saga unwinds.
func CancelCheckoutAction(checkoutID int64) CompensationAction {
	return CompensationAction{
		Type:       CompensationCancelCheckout,
		CheckoutID: checkoutID,
	}
}

// RestoreStockAction records reserved stock to give back if the saga
// unwinds. The warehouse collaborator has no restore endpoint yet, so
// executing this action only logs.
func RestoreStockAction(productID, storeID int64, quantity int) CompensationAction {
	return CompensationAction{
		Type:      CompensationRestoreStock,
		ProductID: productID,
		StoreID:   storeID,
		Quantity:  quantity,
	}
}

func (a CompensationAction) String() string {
	switch a.Type {
	case CompensationRemoveCartItem:
		return fmt.Sprintf("remove_cart_item(cart=%d, product=%d)", a.CartID, a.ProductID)
	case CompensationCancelCheckout:
		return fmt.Sprintf("cancel_checkout(checkout=%d)", a.CheckoutID)
	case CompensationRestoreStock:
		return fmt.Sprintf("restore_stock(product=%d, store=%d, qty=%d)", a.ProductID, a.StoreID, a.Quantity)
	default:
		return fmt.Sprintf("unknown(%s)", a.Type)
	}
}

// MarshalActions serializes actions for JSONB storage. A nil slice
// serializes as an empty array.
func MarshalActions(actions []CompensationAction) ([]byte, error) {
	if actions == nil {
		actions = []CompensationAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal compensation actions: %w", err)
	}
	return data, nil
}

// UnmarshalActions deserializes actions from JSONB storage.
func UnmarshalActions(data []byte) ([]CompensationAction, error) {
	if len(data) == 0 {
		return []CompensationAction{}, nil
	}
	var actions []CompensationAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("unmarshal compensation actions: %w", err)
	}
	if actions == nil {
		actions = []CompensationAction{}
	}
	return actions, nil
}
