package mock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/payflow/internal/provider"
)

// Gateway is a mock payment gateway that always succeeds.
// It is intended for development and testing purposes.
type Gateway struct{}

// NewGateway creates a new mock payment gateway.
func NewGateway() *Gateway {
	return &Gateway{}
}

// Name returns the gateway provider name.
func (g *Gateway) Name() string {
	return "mock"
}

// Authorize simulates a hold that always succeeds.
func (g *Gateway) Authorize(_ context.Context, input *provider.AuthorizeInput) (*provider.Result, error) {
	// Simulate a small processing delay.
	time.Sleep(50 * time.Millisecond)

	return &provider.Result{
		ExternalID: "mock_auth_" + uuid.New().String(),
		Status:     provider.ResultSucceeded,
		Response: map[string]any{
			"provider": "mock",
			"amount":   input.Amount,
			"currency": input.Currency,
		},
	}, nil
}

// Capture simulates a capture that always succeeds.
func (g *Gateway) Capture(_ context.Context, input *provider.CaptureInput) (*provider.Result, error) {
	time.Sleep(50 * time.Millisecond)

	return &provider.Result{
		ExternalID: input.ExternalID,
		Status:     provider.ResultSucceeded,
		Response: map[string]any{
			"provider": "mock",
			"captured": input.Amount,
		},
	}, nil
}

// Refund simulates a refund that always succeeds.
func (g *Gateway) Refund(_ context.Context, input *provider.RefundInput) (*provider.Result, error) {
	time.Sleep(50 * time.Millisecond)

	return &provider.Result{
		ExternalID: "mock_ref_" + uuid.New().String(),
		Status:     provider.ResultSucceeded,
		Response: map[string]any{
			"provider": "mock",
			"refunded": input.Amount,
		},
	}, nil
}

// Void simulates releasing a hold, always succeeding.
func (g *Gateway) Void(_ context.Context, input *provider.VoidInput) (*provider.Result, error) {
	time.Sleep(50 * time.Millisecond)

	return &provider.Result{
		ExternalID: input.ExternalID,
		Status:     provider.ResultSucceeded,
		Response: map[string]any{
			"provider": "mock",
			"voided":   true,
		},
	}, nil
}
