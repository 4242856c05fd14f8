package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderRequest struct {
	CustomerID int64 `validate:"required,gt=0"`
	Quantity   int   `validate:"required,gt=0"`
	State      string `validate:"omitempty,oneof=created cancelled"`
}

func TestValidate_OK(t *testing.T) {
	err := Validate(orderRequest{CustomerID: 1, Quantity: 3})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(orderRequest{})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	fields := valErr.Fields()
	assert.Contains(t, fields, "CustomerID")
	assert.Contains(t, fields, "Quantity")
	assert.Equal(t, "is required", fields["Quantity"])
}

func TestValidate_GreaterThan(t *testing.T) {
	err := Validate(orderRequest{CustomerID: 1, Quantity: -2})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "must be greater than 0", valErr.Fields()["Quantity"])
}

func TestValidate_OneOf(t *testing.T) {
	err := Validate(orderRequest{CustomerID: 1, Quantity: 1, State: "bogus"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, valErr.Error(), "must be one of")
}
