package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/payflow/pkg/errors"
)

// Status is the lifecycle status of a payment transaction.
type Status string

// Transaction status values.
const (
	StatusPending           Status = "pending"
	StatusAuthorized        Status = "authorized"
	StatusPaid              Status = "paid"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusVoided            Status = "voided"
	StatusFailed            Status = "failed"
	StatusExpired           Status = "expired"
	StatusCancelled         Status = "cancelled"
)

// transitions is the legal edge set of the transaction state machine.
// A status missing from the map is terminal. PARTIALLY_REFUNDED accumulates
// further partial refunds through RecordRefund, not through a generic edge.
var transitions = map[Status][]Status{
	StatusPending:           {StatusAuthorized, StatusPaid, StatusFailed, StatusExpired, StatusCancelled},
	StatusAuthorized:        {StatusPaid, StatusVoided, StatusFailed, StatusExpired},
	StatusPaid:              {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
}

// ValidStatuses returns all valid transaction statuses.
func ValidStatuses() []Status {
	return []Status{
		StatusPending, StatusAuthorized, StatusPaid,
		StatusPartiallyRefunded, StatusRefunded,
		StatusVoided, StatusFailed, StatusExpired, StatusCancelled,
	}
}

// IsValidStatus checks whether the given status belongs to the known set.
func IsValidStatus(s Status) bool {
	for _, v := range ValidStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransitionTo returns true if the status can legally move to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is legal from the status.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && IsValidStatus(s)
}

// Transaction represents one attempt to collect money for an order through a
// configured payment method and gateway. All monetary amounts are in the
// currency's minor unit (cents).
type Transaction struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	MethodConfigID string         `json:"method_config_id"`
	GatewayID      string         `json:"gateway_id"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	RefundedAmount int64          `json:"refunded_amount"`
	Status         Status         `json:"status"`
	ExternalID     string         `json:"external_transaction_id,omitempty"`
	GatewayRes     map[string]any `json:"gateway_response,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	MethodDetails  map[string]any `json:"method_details,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CustomerIP     string         `json:"customer_ip,omitempty"`
	AuthorizedAt   *time.Time     `json:"authorized_at,omitempty"`
	CapturedAt     *time.Time     `json:"captured_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Version is the optimistic concurrency token maintained by the
	// persistence layer. Zero for a transaction that has never been saved.
	Version int64 `json:"-"`
}

// NewTransactionInput holds the parameters for creating a transaction.
type NewTransactionInput struct {
	OrderID        string
	CustomerID     string
	MethodConfigID string
	GatewayID      string
	Amount         int64
	Currency       string
	CustomerIP     string
	Metadata       map[string]any
}

// NewTransaction creates a transaction in PENDING with a zero refund ledger.
// The currency is normalized to uppercase. Amounts must be positive.
func NewTransaction(in NewTransactionInput) (*Transaction, error) {
	if in.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if in.MethodConfigID == "" {
		return nil, apperrors.InvalidInput("method_config_id is required")
	}
	if in.GatewayID == "" {
		return nil, apperrors.InvalidInput("gateway_id is required")
	}
	if in.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount must be greater than zero")
	}
	if len(in.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:             uuid.New().String(),
		OrderID:        in.OrderID,
		CustomerID:     in.CustomerID,
		MethodConfigID: in.MethodConfigID,
		GatewayID:      in.GatewayID,
		Amount:         in.Amount,
		Currency:       strings.ToUpper(in.Currency),
		RefundedAmount: 0,
		Status:         StatusPending,
		Metadata:       metadata,
		CustomerIP:     in.CustomerIP,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ReconstituteTransaction restores a transaction from persisted state. Stored
// values are trusted as-is except the status, which must belong to the known
// set: a row carrying an unknown status never becomes an aggregate.
func ReconstituteTransaction(t Transaction) (*Transaction, error) {
	if !IsValidStatus(t.Status) {
		return nil, apperrors.InvalidInput("unknown transaction status " + string(t.Status))
	}
	return &t, nil
}

// IsPending returns true if the transaction awaits gateway processing.
func (t *Transaction) IsPending() bool { return t.Status == StatusPending }

// IsAuthorized returns true if funds are authorized but not yet captured.
func (t *Transaction) IsAuthorized() bool { return t.Status == StatusAuthorized }

// IsPaid returns true if the transaction has been captured.
func (t *Transaction) IsPaid() bool { return t.Status == StatusPaid }

// IsFailed returns true if the transaction failed.
func (t *Transaction) IsFailed() bool { return t.Status == StatusFailed }

// IsRefunded returns true if the captured amount has been fully refunded.
func (t *Transaction) IsRefunded() bool { return t.Status == StatusRefunded }

// CanBeRefunded returns true if a refund may be recorded against the transaction.
func (t *Transaction) CanBeRefunded() bool {
	return t.Status == StatusPaid || t.Status == StatusPartiallyRefunded
}

// RefundableAmount returns the ceiling for any new refund.
func (t *Transaction) RefundableAmount() int64 {
	return t.Amount - t.RefundedAmount
}

// transition validates and applies a status change. The aggregate is left
// unchanged when the edge is illegal.
func (t *Transaction) transition(target Status) error {
	if !t.Status.CanTransitionTo(target) {
		return apperrors.InvalidTransition(string(t.Status), string(target))
	}
	t.Status = target
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Authorize moves PENDING → AUTHORIZED, recording the gateway's reference.
// AuthorizedAt is first-write only.
func (t *Transaction) Authorize(externalID string, response map[string]any) error {
	if err := t.transition(StatusAuthorized); err != nil {
		return err
	}
	t.ExternalID = externalID
	if response != nil {
		t.GatewayRes = response
	}
	if t.AuthorizedAt == nil {
		now := time.Now().UTC()
		t.AuthorizedAt = &now
	}
	return nil
}

// Capture moves AUTHORIZED → PAID. CapturedAt is first-write only.
func (t *Transaction) Capture(response map[string]any) error {
	if err := t.transition(StatusPaid); err != nil {
		return err
	}
	if response != nil {
		t.GatewayRes = response
	}
	if t.CapturedAt == nil {
		now := time.Now().UTC()
		t.CapturedAt = &now
	}
	return nil
}

// MarkAsPaid moves PENDING → PAID for gateways that authorize and capture in
// a single step.
func (t *Transaction) MarkAsPaid(externalID string, response map[string]any) error {
	if t.Status != StatusPending {
		return apperrors.InvalidTransition(string(t.Status), string(StatusPaid))
	}
	if err := t.transition(StatusPaid); err != nil {
		return err
	}
	t.ExternalID = externalID
	if response != nil {
		t.GatewayRes = response
	}
	if t.CapturedAt == nil {
		now := time.Now().UTC()
		t.CapturedAt = &now
	}
	return nil
}

// Void moves AUTHORIZED → VOIDED, releasing an uncaptured authorization.
func (t *Transaction) Void(response map[string]any) error {
	if err := t.transition(StatusVoided); err != nil {
		return err
	}
	if response != nil {
		t.GatewayRes = response
	}
	return nil
}

// Fail moves the transaction to FAILED, recording the gateway's error.
func (t *Transaction) Fail(errorCode, errorMessage string, response map[string]any) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.ErrorCode = errorCode
	t.ErrorMessage = errorMessage
	if response != nil {
		t.GatewayRes = response
	}
	return nil
}

// Expire moves the transaction to EXPIRED.
func (t *Transaction) Expire() error {
	return t.transition(StatusExpired)
}

// Cancel moves the transaction to CANCELLED.
func (t *Transaction) Cancel() error {
	return t.transition(StatusCancelled)
}

// RecordRefund adds amount to the refund ledger. The target status is derived
// from the monetary invariant: REFUNDED when the ledger reaches the original
// amount, PARTIALLY_REFUNDED otherwise. The transaction must be refundable
// and the amount must not exceed the refundable balance.
func (t *Transaction) RecordRefund(amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidInput("refund amount must be greater than zero")
	}
	if !t.CanBeRefunded() {
		target := StatusPartiallyRefunded
		if amount == t.RefundableAmount() {
			target = StatusRefunded
		}
		return apperrors.InvalidTransition(string(t.Status), string(target))
	}
	if amount > t.RefundableAmount() {
		return apperrors.RefundExceedsBalance(amount, t.RefundableAmount())
	}

	t.RefundedAmount += amount
	if t.RefundedAmount == t.Amount {
		t.Status = StatusRefunded
	} else {
		t.Status = StatusPartiallyRefunded
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMethodDetails replaces the stored payment method details. Legal in any
// status.
func (t *Transaction) SetMethodDetails(details map[string]any) {
	t.MethodDetails = details
	t.UpdatedAt = time.Now().UTC()
}

// UpdateMetadata shallow-merges the given keys over the existing metadata.
// Legal in any status.
func (t *Transaction) UpdateMetadata(partial map[string]any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		t.Metadata[k] = v
	}
	t.UpdatedAt = time.Now().UTC()
}
