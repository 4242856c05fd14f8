package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/utafrali/saga-orchestrator/pkg/httpclient"
)

// Doer executes HTTP requests. Both httpclient.Client and the circuit
// breaker wrapper satisfy it, as do test fakes.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CollaboratorClient is the single outbound HTTP capability of the
// pipeline. Base URLs are configured once so tests can point every
// collaborator at a local fake.
type CollaboratorClient struct {
	warehouse Doer
	ecommerce Doer

	warehouseURL string
	ecommerceURL string
}

// NewCollaboratorClient creates the collaborator client. The warehouse
// and ecommerce services get independent Doers so a tripped breaker on
// one does not block calls to the other.
func NewCollaboratorClient(warehouse, ecommerce Doer, warehouseURL, ecommerceURL string) *CollaboratorClient {
	return &CollaboratorClient{
		warehouse:    warehouse,
		ecommerce:    ecommerce,
		warehouseURL: warehouseURL,
		ecommerceURL: ecommerceURL,
	}
}

// stockResponse is the warehouse stock check payload. The quantite field
// name is a wire contract and must not be renamed.
type stockResponse struct {
	Quantite int `json:"quantite"`
}

// CheckStock returns the available quantity for a product at a store.
func (c *CollaboratorClient) CheckStock(ctx context.Context, productID, storeID int64) (int, json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/v1/stocks/product/%d/store/%d", c.warehouseURL, productID, storeID)

	raw, err := c.get(ctx, c.warehouse, url, "warehouse")
	if err != nil {
		return 0, nil, err
	}

	var stock stockResponse
	if err := json.Unmarshal(raw, &stock); err != nil {
		return 0, nil, fmt.Errorf("decode stock response: %w", err)
	}
	return stock.Quantite, raw, nil
}

// addCartItemRequest is the cart reservation payload. Field names are a
// wire contract with the ecommerce collaborator.
type addCartItemRequest struct {
	Cart     int64 `json:"cart"`
	Product  int64 `json:"product"`
	Quantite int   `json:"quantite"`
	StoreID  int64 `json:"store_id"`
}

// AddCartItem reserves stock by adding the item to the designated cart.
func (c *CollaboratorClient) AddCartItem(ctx context.Context, cartID, productID, storeID int64, quantity int) (json.RawMessage, error) {
	url := c.ecommerceURL + "/api/v1/cart/add-item"
	body := addCartItemRequest{Cart: cartID, Product: productID, Quantite: quantity, StoreID: storeID}
	return c.post(ctx, c.ecommerce, url, body, "ecommerce")
}

type initiateCheckoutRequest struct {
	CartID int64 `json:"cart_id"`
}

// checkoutResponse is the subset of the checkout record the pipeline
// consumes.
type checkoutResponse struct {
	ID    int64    `json:"id"`
	Total *float64 `json:"total"`
}

// InitiateCheckout opens a checkout for the cart and returns its ID.
func (c *CollaboratorClient) InitiateCheckout(ctx context.Context, cartID int64) (int64, json.RawMessage, error) {
	url := c.ecommerceURL + "/api/v1/checkout/initiate"

	raw, err := c.post(ctx, c.ecommerce, url, initiateCheckoutRequest{CartID: cartID}, "ecommerce")
	if err != nil {
		return 0, nil, err
	}

	var checkout checkoutResponse
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return 0, nil, fmt.Errorf("decode checkout response: %w", err)
	}
	return checkout.ID, raw, nil
}

// CompleteCheckout captures payment for the checkout. The returned total
// is nil when the collaborator omits it.
func (c *CollaboratorClient) CompleteCheckout(ctx context.Context, checkoutID int64) (*float64, json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/v1/checkout/%d/complete", c.ecommerceURL, checkoutID)

	raw, err := c.post(ctx, c.ecommerce, url, nil, "ecommerce")
	if err != nil {
		return nil, nil, err
	}

	var checkout checkoutResponse
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return nil, nil, fmt.Errorf("decode checkout response: %w", err)
	}
	return checkout.Total, raw, nil
}

// CancelCheckout undoes an initiated checkout. Compensation only.
func (c *CollaboratorClient) CancelCheckout(ctx context.Context, checkoutID int64) error {
	url := fmt.Sprintf("%s/api/v1/checkout/%d/cancel", c.ecommerceURL, checkoutID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create cancel checkout request: %w", err)
	}
	_, err = c.roundTrip(ctx, c.ecommerce, req, "ecommerce")
	return err
}

// ClearCart removes the reserved items from the cart. Compensation only.
func (c *CollaboratorClient) ClearCart(ctx context.Context, cartID int64) error {
	url := fmt.Sprintf("%s/api/v1/cart/%d/clear", c.ecommerceURL, cartID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create clear cart request: %w", err)
	}
	_, err = c.roundTrip(ctx, c.ecommerce, req, "ecommerce")
	return err
}

func (c *CollaboratorClient) get(ctx context.Context, doer Doer, url, service string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.roundTrip(ctx, doer, req, service)
}

func (c *CollaboratorClient) post(ctx context.Context, doer Doer, url string, body any, service string) (json.RawMessage, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(ctx, doer, req, service)
}

func (c *CollaboratorClient) roundTrip(ctx context.Context, doer Doer, req *http.Request, service string) (json.RawMessage, error) {
	resp, err := doer.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s service: %w", service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpclient.ParseResponseError(resp, service)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", service, err)
	}

	return data, nil
}
