package provider

import (
	"context"
)

// Result statuses reported by a gateway.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

// AuthorizeInput holds the parameters for placing a hold on funds.
type AuthorizeInput struct {
	TransactionID string
	Amount        int64
	Currency      string
	MethodDetails map[string]any
	Metadata      map[string]any
}

// CaptureInput holds the parameters for capturing an authorized hold.
type CaptureInput struct {
	TransactionID string
	ExternalID    string
	Amount        int64
	Currency      string
}

// RefundInput holds the parameters for returning captured funds.
type RefundInput struct {
	TransactionID string
	ExternalID    string
	Amount        int64
	Currency      string
	Reason        string
}

// VoidInput holds the parameters for releasing an uncaptured hold.
type VoidInput struct {
	TransactionID string
	ExternalID    string
}

// Result holds the gateway's answer to any operation. ExternalID carries the
// gateway's own reference for the operation; Response carries the raw gateway
// payload for audit storage. ErrorCode and ErrorMessage are only set when
// Status is "failed".
type Result struct {
	ExternalID   string
	Status       string
	Response     map[string]any
	ErrorCode    string
	ErrorMessage string
}

// Succeeded reports whether the gateway accepted the operation. A declined
// operation is a Result, not an error: errors are reserved for transport
// failures where the outcome is unknown.
func (r *Result) Succeeded() bool {
	return r.Status == ResultSucceeded
}

// Gateway defines the interface for payment gateway integrations.
type Gateway interface {
	// Name returns the gateway provider name (e.g., "mock", "stripe").
	Name() string

	// Authorize places a hold on funds without capturing them.
	Authorize(ctx context.Context, input *AuthorizeInput) (*Result, error)

	// Capture settles a previously authorized hold.
	Capture(ctx context.Context, input *CaptureInput) (*Result, error)

	// Refund returns captured funds, fully or partially.
	Refund(ctx context.Context, input *RefundInput) (*Result, error)

	// Void releases an uncaptured hold.
	Void(ctx context.Context, input *VoidInput) (*Result, error)
}
