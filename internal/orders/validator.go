package orders

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/models"
)

//go:embed schema/order_paid.v1.json
var orderPaidSchema string

const orderPaidSchemaID = "https://engagehub.dev/schemas/order_paid.v1"

// Validator checks OrderPaid payloads against the embedded schema before
// they are decoded.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(orderPaidSchemaID, bytes.NewReader([]byte(orderPaidSchema))); err != nil {
		return nil, fmt.Errorf("add order schema: %w", err)
	}
	schema, err := c.Compile(orderPaidSchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile order schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Parse validates raw and decodes it. Every failure wraps models.ErrInvalidOrder.
func (v *Validator) Parse(raw []byte) (*models.OrderPaid, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", models.ErrInvalidOrder, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidOrder, err)
	}
	var ev models.OrderPaid
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidOrder, err)
	}
	if !ev.UnitPrice.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: unit_price must be positive", models.ErrInvalidOrder)
	}
	// pattern only binds string prices; numeric ones are checked here.
	if !ev.UnitPrice.Equal(ev.UnitPrice.Round(2)) {
		return nil, fmt.Errorf("%w: unit_price has more than 2 decimal places", models.ErrInvalidOrder)
	}
	return &ev, nil
}
