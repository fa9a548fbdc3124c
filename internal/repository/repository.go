package repository

import (
	"context"
	"time"

	"github.com/utafrali/payflow/internal/domain"
)

// TransactionFilter narrows a transaction listing. Zero-valued fields are
// ignored; set fields combine with AND.
type TransactionFilter struct {
	OrderID     string
	CustomerID  string
	Statuses    []domain.Status
	GatewayID   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ListOptions controls pagination and ordering of a transaction listing.
type ListOptions struct {
	Limit   int
	Offset  int
	OrderBy string
	Desc    bool
}

// DefaultListOptions returns the listing defaults: newest first, 50 per page.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, OrderBy: "created_at", Desc: true}
}

// PaymentRepository defines the interface for payment persistence operations.
type PaymentRepository interface {
	// SaveTransaction upserts a transaction by ID. On conflict the stored row
	// is replaced only when the caller holds the current version; a stale
	// version yields a concurrent modification error. The transaction's
	// Version field is advanced on success.
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransactionByID retrieves a transaction by its unique identifier.
	GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetTransactionByExternalID retrieves a transaction by the gateway's
	// reference.
	GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)

	// GetLatestTransactionByOrderID retrieves the most recently created
	// transaction for an order.
	GetLatestTransactionByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)

	// ListTransactions returns transactions matching the filter with
	// pagination. Returns the slice, the total count before pagination, and
	// any error.
	ListTransactions(ctx context.Context, filter TransactionFilter, opts ListOptions) ([]domain.Transaction, int, error)

	// ListTransactionsByOrderID returns all transactions for an order,
	// newest first.
	ListTransactionsByOrderID(ctx context.Context, orderID string) ([]domain.Transaction, error)

	// ListTransactionsByCustomerID returns a customer's transactions with
	// pagination, plus the total count before pagination.
	ListTransactionsByCustomerID(ctx context.Context, customerID string, opts ListOptions) ([]domain.Transaction, int, error)

	// CountTransactions returns the number of transactions matching the filter.
	CountTransactions(ctx context.Context, filter TransactionFilter) (int, error)

	// SaveRefund upserts a refund by ID.
	SaveRefund(ctx context.Context, refund *domain.Refund) error

	// GetRefundByID retrieves a refund by its unique identifier.
	GetRefundByID(ctx context.Context, id string) (*domain.Refund, error)

	// ListRefundsByTransactionID returns all refunds for a transaction,
	// newest first.
	ListRefundsByTransactionID(ctx context.Context, transactionID string) ([]domain.Refund, error)

	// GetEnabledPaymentMethods returns enabled method configs visible to the
	// merchant, ordered for display. A non-empty currency restricts the
	// result to methods that support it.
	GetEnabledPaymentMethods(ctx context.Context, merchantID, currency string) ([]domain.MethodConfig, error)

	// GetDefaultGateway resolves the gateway a merchant's transactions should
	// use: the merchant default when configured, otherwise the oldest active
	// gateway platform-wide. Returns (nil, nil) when no active gateway exists
	// anywhere.
	GetDefaultGateway(ctx context.Context, merchantID string) (*domain.GatewayConfig, error)
}
