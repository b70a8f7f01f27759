package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	TIFPostOnly TimeInForce = "POST_ONLY"
	TIFGTC      TimeInForce = "GTC"
	TIFIOC      TimeInForce = "IOC"
	TIFFOK      TimeInForce = "FOK"
)

// Valid reports whether s is a known order side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Valid reports whether t is a known time-in-force value.
func (t TimeInForce) Valid() bool {
	switch t {
	case TIFPostOnly, TIFGTC, TIFIOC, TIFFOK:
		return true
	}
	return false
}

// OrderRequest is an order submission as accepted at the HTTP boundary and
// from the quote engine. Price and size stay strings end to end; the exchange
// owns their precision.
type OrderRequest struct {
	Market      string      `json:"market"`
	Side        Side        `json:"side"`
	Price       string      `json:"price"`
	Size        string      `json:"size"`
	TimeInForce TimeInForce `json:"timeInForce"`
	ReduceOnly  bool        `json:"reduceOnly"`
}

// Normalize fills defaults for optional fields.
func (r *OrderRequest) Normalize() {
	if r.TimeInForce == "" {
		r.TimeInForce = TIFPostOnly
	}
}

// Validate checks the request fields before they reach the gateway.
func (r *OrderRequest) Validate() error {
	if r.Market == "" {
		return &ValidationError{Field: "market", Err: fmt.Errorf("must not be empty")}
	}
	if !r.Side.Valid() {
		return &ValidationError{Field: "side", Err: fmt.Errorf("must be BUY or SELL, got %q", r.Side)}
	}
	if !r.TimeInForce.Valid() {
		return &ValidationError{Field: "timeInForce", Err: fmt.Errorf("unknown value %q", r.TimeInForce)}
	}
	if _, err := decimal.NewFromString(r.Price); err != nil {
		return &ValidationError{Field: "price", Err: fmt.Errorf("not a decimal: %q", r.Price)}
	}
	if _, err := decimal.NewFromString(r.Size); err != nil {
		return &ValidationError{Field: "size", Err: fmt.Errorf("not a decimal: %q", r.Size)}
	}
	return nil
}

// Result is the uniform outcome of a gateway operation. Callers branch on
// Success only; transport and signing failures never surface as Go errors.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  int             `json:"status,omitempty"`
}

// BotOrder is an order the quote engine placed and still tracks. It is
// independent of the cached orders topic, which reflects exchange-confirmed
// state with polling latency.
type BotOrder struct {
	OrderID string          `json:"order_id"`
	Side    Side            `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    string          `json:"size"`
}
