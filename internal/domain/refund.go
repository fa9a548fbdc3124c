package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/payflow/pkg/errors"
)

// RefundStatus is the lifecycle status of a refund.
type RefundStatus string

// Refund status values.
const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// ValidRefundStatuses returns all valid refund statuses.
func ValidRefundStatuses() []RefundStatus {
	return []RefundStatus{RefundStatusPending, RefundStatusSucceeded, RefundStatusFailed}
}

// IsValidRefundStatus checks whether the given status belongs to the known set.
func IsValidRefundStatus(s RefundStatus) bool {
	for _, v := range ValidRefundStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// Refund represents one refund attempt against exactly one transaction.
// The refund never reaches into its transaction: after a refund succeeds,
// the orchestrating service records the amount on the transaction exactly
// once.
type Refund struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        RefundStatus   `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	ExternalID    string         `json:"external_refund_id,omitempty"`
	GatewayRes    map[string]any `json:"gateway_response,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewRefund creates a pending refund against the given transaction. The
// currency is inherited from the transaction, so a refund can never disagree
// with its transaction's currency.
func NewRefund(tx *Transaction, amount int64, reason string) (*Refund, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("refund amount must be greater than zero")
	}
	if !tx.CanBeRefunded() {
		return nil, apperrors.InvalidTransition(string(tx.Status), string(StatusPartiallyRefunded))
	}
	if amount > tx.RefundableAmount() {
		return nil, apperrors.RefundExceedsBalance(amount, tx.RefundableAmount())
	}

	now := time.Now().UTC()
	return &Refund{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		Amount:        amount,
		Currency:      tx.Currency,
		Status:        RefundStatusPending,
		Reason:        reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ReconstituteRefund restores a refund from persisted state, rejecting
// unknown statuses.
func ReconstituteRefund(r Refund) (*Refund, error) {
	if !IsValidRefundStatus(r.Status) {
		return nil, apperrors.InvalidInput("unknown refund status " + string(r.Status))
	}
	return &r, nil
}

// IsTerminal returns true once the refund has succeeded or failed.
func (r *Refund) IsTerminal() bool {
	return r.Status == RefundStatusSucceeded || r.Status == RefundStatusFailed
}

// MarkSucceeded moves PENDING → SUCCEEDED, recording the gateway's reference
// and the processing time.
func (r *Refund) MarkSucceeded(externalID string, response map[string]any) error {
	if r.Status != RefundStatusPending {
		return apperrors.InvalidTransition(string(r.Status), string(RefundStatusSucceeded))
	}
	r.Status = RefundStatusSucceeded
	r.ExternalID = externalID
	if response != nil {
		r.GatewayRes = response
	}
	now := time.Now().UTC()
	r.ProcessedAt = &now
	r.UpdatedAt = now
	return nil
}

// MarkFailed moves PENDING → FAILED, recording the gateway's error. A failed
// refund never touches the transaction's refund ledger.
func (r *Refund) MarkFailed(errorCode, errorMessage string, response map[string]any) error {
	if r.Status != RefundStatusPending {
		return apperrors.InvalidTransition(string(r.Status), string(RefundStatusFailed))
	}
	r.Status = RefundStatusFailed
	r.ErrorCode = errorCode
	r.ErrorMessage = errorMessage
	if response != nil {
		r.GatewayRes = response
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}
