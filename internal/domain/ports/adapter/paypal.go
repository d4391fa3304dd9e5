package adapter

import (
	"context"
	"encoding/json"
)

// OrderResult is the outcome of an order fetch or capture call.
//
// OK is false when the provider answered with a non-2xx business response
// (order not found, capture rejected). That is not an error: only a network
// failure or provider 5xx comes back as a non-nil error, and only that case
// may propagate to the outermost handler.
type OrderResult struct {
	OK        bool
	Status    string          // raw provider status string
	CaptureID string          // capture id nested in the order, if any
	Raw       json.RawMessage // full provider payload for the response layer
}

// CaptureResult is the outcome of a direct payment-capture lookup.
type CaptureResult struct {
	OK     bool
	Status string
	Raw    json.RawMessage
}

// PaymentGateway wraps the provider's REST surface. Implementations are
// stateless: the access token is fetched per call, never cached across
// invocations.
type PaymentGateway interface {
	Name() string
	GetAccessToken(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (orderID, approveURL string, err error)
	FetchOrder(ctx context.Context, orderID string) (*OrderResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*OrderResult, error)
	FetchPaymentCapture(ctx context.Context, paymentID string) (*CaptureResult, error)
}
