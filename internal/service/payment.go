package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/payflow/internal/domain"
	"github.com/utafrali/payflow/internal/event"
	"github.com/utafrali/payflow/internal/provider"
	"github.com/utafrali/payflow/internal/repository"
	apperrors "github.com/utafrali/payflow/pkg/errors"
)

// maxSaveRetries bounds the reload-and-retry loop on optimistic concurrency
// conflicts.
const maxSaveRetries = 3

// PaymentService implements the business logic for payment transaction
// operations.
type PaymentService struct {
	repo     repository.PaymentRepository
	gateway  provider.Gateway
	producer *event.Producer
	logger   *slog.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	repo repository.PaymentRepository,
	gateway provider.Gateway,
	producer *event.Producer,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:     repo,
		gateway:  gateway,
		producer: producer,
		logger:   logger,
	}
}

// CreateTransactionInput holds the parameters for creating a transaction.
// GatewayID may be left empty, in which case the merchant's default gateway
// is resolved.
type CreateTransactionInput struct {
	OrderID        string         `json:"order_id" validate:"required"`
	CustomerID     string         `json:"customer_id"`
	MerchantID     string         `json:"merchant_id"`
	MethodConfigID string         `json:"method_config_id" validate:"required"`
	GatewayID      string         `json:"gateway_id"`
	Amount         int64          `json:"amount" validate:"required,gt=0"`
	Currency       string         `json:"currency" validate:"required,len=3"`
	CustomerIP     string         `json:"customer_ip"`
	Metadata       map[string]any `json:"metadata"`
}

// RefundTransactionInput holds the parameters for refunding a transaction.
type RefundTransactionInput struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

// ListTransactionsInput narrows and paginates a transaction listing.
type ListTransactionsInput struct {
	OrderID     string
	CustomerID  string
	Statuses    []domain.Status
	GatewayID   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PerPage     int
}

// CreateTransaction creates a new transaction in the pending state.
func (s *PaymentService) CreateTransaction(ctx context.Context, input *CreateTransactionInput) (*domain.Transaction, error) {
	gatewayID := input.GatewayID
	if gatewayID == "" {
		gw, err := s.repo.GetDefaultGateway(ctx, input.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("resolve default gateway: %w", err)
		}
		if gw == nil {
			return nil, apperrors.InvalidInput("no active payment gateway is configured")
		}
		gatewayID = gw.GatewayID
	}

	tx, err := domain.NewTransaction(domain.NewTransactionInput{
		OrderID:        input.OrderID,
		CustomerID:     input.CustomerID,
		MethodConfigID: input.MethodConfigID,
		GatewayID:      gatewayID,
		Amount:         input.Amount,
		Currency:       input.Currency,
		CustomerIP:     input.CustomerIP,
		Metadata:       input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save new transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction created",
		slog.String("transaction_id", tx.ID),
		slog.String("order_id", tx.OrderID),
		slog.String("gateway_id", tx.GatewayID),
		slog.Int64("amount", tx.Amount),
	)

	return tx, nil
}

// AuthorizeTransaction places a hold on funds for a pending transaction.
func (s *PaymentService) AuthorizeTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for authorize: %w", err)
	}
	if !tx.IsPending() {
		return nil, apperrors.InvalidTransition(string(tx.Status), string(domain.StatusAuthorized))
	}

	result, err := s.gateway.Authorize(ctx, &provider.AuthorizeInput{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		MethodDetails: tx.MethodDetails,
		Metadata:      tx.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway authorize: %w", err)
	}

	if !result.Succeeded() {
		return nil, s.failTransaction(ctx, tx, result)
	}

	if err := tx.Authorize(result.ExternalID, result.Response); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save authorized transaction: %w", err)
	}

	if s.producer != nil {
		if pubErr := s.producer.PublishTransactionAuthorized(ctx, tx); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish transaction.authorized event",
				slog.String("transaction_id", tx.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "transaction authorized",
		slog.String("transaction_id", tx.ID),
		slog.String("external_id", tx.ExternalID),
	)

	return tx, nil
}

// CaptureTransaction settles the hold on an authorized transaction.
func (s *PaymentService) CaptureTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for capture: %w", err)
	}
	if !tx.IsAuthorized() {
		return nil, apperrors.InvalidTransition(string(tx.Status), string(domain.StatusPaid))
	}

	result, err := s.gateway.Capture(ctx, &provider.CaptureInput{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway capture: %w", err)
	}

	if !result.Succeeded() {
		return nil, s.failTransaction(ctx, tx, result)
	}

	if err := tx.Capture(result.Response); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save captured transaction: %w", err)
	}

	s.publishPaid(ctx, tx)

	s.logger.InfoContext(ctx, "transaction captured",
		slog.String("transaction_id", tx.ID),
	)

	return tx, nil
}

// ProcessTransaction charges a pending transaction in a single step for
// gateways that authorize and capture together.
func (s *PaymentService) ProcessTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for processing: %w", err)
	}
	if !tx.IsPending() {
		return nil, apperrors.InvalidTransition(string(tx.Status), string(domain.StatusPaid))
	}

	// A single-step charge is an authorize in sale mode.
	result, err := s.gateway.Authorize(ctx, &provider.AuthorizeInput{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		MethodDetails: tx.MethodDetails,
		Metadata:      tx.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway charge: %w", err)
	}

	if !result.Succeeded() {
		return nil, s.failTransaction(ctx, tx, result)
	}

	if err := tx.MarkAsPaid(result.ExternalID, result.Response); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save paid transaction: %w", err)
	}

	s.publishPaid(ctx, tx)

	s.logger.InfoContext(ctx, "transaction processed",
		slog.String("transaction_id", tx.ID),
		slog.String("external_id", tx.ExternalID),
	)

	return tx, nil
}

// VoidTransaction releases the hold on an authorized transaction.
func (s *PaymentService) VoidTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for void: %w", err)
	}
	if !tx.IsAuthorized() {
		return nil, apperrors.InvalidTransition(string(tx.Status), string(domain.StatusVoided))
	}

	result, err := s.gateway.Void(ctx, &provider.VoidInput{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalID,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway void: %w", err)
	}

	if !result.Succeeded() {
		return nil, apperrors.PaymentFailed(fmt.Sprintf("gateway void declined: %s", result.ErrorMessage))
	}

	if err := tx.Void(result.Response); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save voided transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction voided",
		slog.String("transaction_id", tx.ID),
	)

	return tx, nil
}

// CancelTransaction abandons a pending transaction before it reached the
// gateway. No gateway call is made.
func (s *PaymentService) CancelTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for cancel: %w", err)
	}

	if err := tx.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save cancelled transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction cancelled",
		slog.String("transaction_id", tx.ID),
	)

	return tx, nil
}

// ExpireTransaction times out a transaction that never completed.
func (s *PaymentService) ExpireTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for expire: %w", err)
	}

	if err := tx.Expire(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save expired transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction expired",
		slog.String("transaction_id", tx.ID),
	)

	return tx, nil
}

// RefundTransaction returns captured funds. The refund is recorded as its own
// aggregate first, then sent to the gateway, and only a gateway-confirmed
// refund touches the transaction's ledger. The ledger write retries on
// version conflicts so concurrent refunds serialize instead of overwriting
// each other.
func (s *PaymentService) RefundTransaction(ctx context.Context, transactionID string, input *RefundTransactionInput) (*domain.Refund, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for refund: %w", err)
	}

	refund, err := domain.NewRefund(tx, input.Amount, input.Reason)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("save pending refund: %w", err)
	}

	result, err := s.gateway.Refund(ctx, &provider.RefundInput{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalID,
		Amount:        refund.Amount,
		Currency:      refund.Currency,
		Reason:        refund.Reason,
	})
	if err != nil {
		// Outcome unknown: record the failure but surface the transport error.
		if markErr := refund.MarkFailed("provider_error", err.Error(), nil); markErr == nil {
			if saveErr := s.repo.SaveRefund(ctx, refund); saveErr != nil {
				s.logger.ErrorContext(ctx, "failed to save refund after gateway error",
					slog.String("refund_id", refund.ID),
					slog.String("error", saveErr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	if !result.Succeeded() {
		if err := refund.MarkFailed(result.ErrorCode, result.ErrorMessage, result.Response); err != nil {
			return nil, err
		}
		if err := s.repo.SaveRefund(ctx, refund); err != nil {
			return nil, fmt.Errorf("save failed refund: %w", err)
		}

		s.logger.InfoContext(ctx, "refund declined by gateway",
			slog.String("transaction_id", tx.ID),
			slog.String("refund_id", refund.ID),
			slog.String("error_code", refund.ErrorCode),
		)

		return refund, nil
	}

	if err := refund.MarkSucceeded(result.ExternalID, result.Response); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("save succeeded refund: %w", err)
	}

	if err := s.recordRefundOnTransaction(ctx, tx, refund); err != nil {
		s.logger.ErrorContext(ctx, "refund succeeded at gateway but could not be recorded",
			slog.String("transaction_id", tx.ID),
			slog.String("refund_id", refund.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if s.producer != nil {
		if pubErr := s.producer.PublishTransactionRefunded(ctx, tx, refund); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish transaction.refunded event",
				slog.String("transaction_id", tx.ID),
				slog.String("refund_id", refund.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "transaction refunded",
		slog.String("transaction_id", tx.ID),
		slog.String("refund_id", refund.ID),
		slog.Int64("refund_amount", refund.Amount),
		slog.String("status", string(tx.Status)),
	)

	return refund, nil
}

// recordRefundOnTransaction applies the refund amount to the transaction's
// ledger under optimistic concurrency. On a version conflict the transaction
// is reloaded and the amount re-validated against the fresh ledger, so two
// racing refunds can never push the total past the original amount.
func (s *PaymentService) recordRefundOnTransaction(ctx context.Context, tx *domain.Transaction, refund *domain.Refund) error {
	for attempt := 1; ; attempt++ {
		if err := tx.RecordRefund(refund.Amount); err != nil {
			return err
		}

		err := s.repo.SaveTransaction(ctx, tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperrors.ErrConcurrentModification) || attempt >= maxSaveRetries {
			return fmt.Errorf("record refund on transaction: %w", err)
		}

		s.logger.WarnContext(ctx, "transaction version conflict, retrying refund ledger write",
			slog.String("transaction_id", tx.ID),
			slog.Int("attempt", attempt),
		)

		fresh, err := s.repo.GetTransactionByID(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("reload transaction after version conflict: %w", err)
		}
		*tx = *fresh
	}
}

// failTransaction records a gateway decline, persists it, publishes the
// failed event, and returns the decline as a payment failure.
func (s *PaymentService) failTransaction(ctx context.Context, tx *domain.Transaction, result *provider.Result) error {
	if err := tx.Fail(result.ErrorCode, result.ErrorMessage, result.Response); err != nil {
		return err
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("save failed transaction: %w", err)
	}

	if s.producer != nil {
		if pubErr := s.producer.PublishTransactionFailed(ctx, tx); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish transaction.failed event",
				slog.String("transaction_id", tx.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "transaction declined by gateway",
		slog.String("transaction_id", tx.ID),
		slog.String("error_code", tx.ErrorCode),
	)

	return apperrors.PaymentFailed(fmt.Sprintf("gateway declined: %s", result.ErrorMessage))
}

func (s *PaymentService) publishPaid(ctx context.Context, tx *domain.Transaction) {
	if s.producer == nil {
		return
	}
	if pubErr := s.producer.PublishTransactionPaid(ctx, tx); pubErr != nil {
		s.logger.ErrorContext(ctx, "failed to publish transaction.paid event",
			slog.String("transaction_id", tx.ID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// GetTransaction retrieves a transaction by its ID.
func (s *PaymentService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return tx, nil
}

// GetTransactionByExternalID retrieves a transaction by the gateway's reference.
func (s *PaymentService) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("get transaction by external id: %w", err)
	}
	return tx, nil
}

// GetLatestTransactionByOrder retrieves the most recent transaction for an order.
func (s *PaymentService) GetLatestTransactionByOrder(ctx context.Context, orderID string) (*domain.Transaction, error) {
	tx, err := s.repo.GetLatestTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get latest transaction by order: %w", err)
	}
	return tx, nil
}

// ListTransactionsByOrder returns all transactions for an order, newest first.
func (s *PaymentService) ListTransactionsByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	transactions, err := s.repo.ListTransactionsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by order: %w", err)
	}
	return transactions, nil
}

// ListTransactions returns a filtered, paginated transaction listing.
func (s *PaymentService) ListTransactions(ctx context.Context, input *ListTransactionsInput) ([]domain.Transaction, int, error) {
	page := input.Page
	if page <= 0 {
		page = 1
	}
	perPage := input.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	filter := repository.TransactionFilter{
		OrderID:     input.OrderID,
		CustomerID:  input.CustomerID,
		Statuses:    input.Statuses,
		GatewayID:   input.GatewayID,
		CreatedFrom: input.CreatedFrom,
		CreatedTo:   input.CreatedTo,
	}
	opts := repository.ListOptions{
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
		OrderBy: "created_at",
		Desc:    true,
	}

	transactions, total, err := s.repo.ListTransactions(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	return transactions, total, nil
}

// GetRefund retrieves a refund by its ID.
func (s *PaymentService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	refund, err := s.repo.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund by id: %w", err)
	}
	return refund, nil
}

// ListRefunds returns all refunds for a transaction, newest first. The
// transaction must exist.
func (s *PaymentService) ListRefunds(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	if _, err := s.repo.GetTransactionByID(ctx, transactionID); err != nil {
		return nil, fmt.Errorf("get transaction for refund listing: %w", err)
	}

	refunds, err := s.repo.ListRefundsByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list refunds by transaction: %w", err)
	}
	return refunds, nil
}

// GetEnabledPaymentMethods returns the payment methods available to a
// merchant's customers, optionally restricted to one currency.
func (s *PaymentService) GetEnabledPaymentMethods(ctx context.Context, merchantID, currency string) ([]domain.MethodConfig, error) {
	methods, err := s.repo.GetEnabledPaymentMethods(ctx, merchantID, currency)
	if err != nil {
		return nil, fmt.Errorf("get enabled payment methods: %w", err)
	}
	return methods, nil
}

// GetDefaultGateway resolves the gateway a merchant's transactions should
// use. Returns (nil, nil) when no active gateway exists.
func (s *PaymentService) GetDefaultGateway(ctx context.Context, merchantID string) (*domain.GatewayConfig, error) {
	gw, err := s.repo.GetDefaultGateway(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("get default gateway: %w", err)
	}
	return gw, nil
}
