package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/payflow/internal/domain"
	pkgkafka "github.com/utafrali/payflow/pkg/kafka"
)

// Kafka topic constants for payment transaction domain events.
const (
	TopicTransactionAuthorized = "payment.transaction.authorized"
	TopicTransactionPaid       = "payment.transaction.paid"
	TopicTransactionFailed     = "payment.transaction.failed"
	TopicTransactionRefunded   = "payment.transaction.refunded"
)

// Aggregate type constant.
const AggregateTypeTransaction = "payment_transaction"

// Source identifier for events originating from the payment service.
const SourcePaymentService = "payment-service"

// TransactionEventData is the payload for authorized and paid events.
type TransactionEventData struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id,omitempty"`
	GatewayID  string `json:"gateway_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	ExternalID string `json:"external_transaction_id,omitempty"`
}

// TransactionFailedData is the payload for a transaction failed event.
type TransactionFailedData struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	CustomerID   string `json:"customer_id,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TransactionRefundedData is the payload for a transaction refunded event.
type TransactionRefundedData struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	RefundID      string `json:"refund_id"`
	RefundAmount  int64  `json:"refund_amount"`
	RefundedTotal int64  `json:"refunded_total"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
	Status        string `json:"status"`
}

// Producer publishes payment transaction domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the payment service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishTransactionAuthorized publishes a transaction authorized event.
func (p *Producer) PublishTransactionAuthorized(ctx context.Context, tx *domain.Transaction) error {
	return p.publishTransaction(ctx, TopicTransactionAuthorized, tx)
}

// PublishTransactionPaid publishes a transaction paid event.
func (p *Producer) PublishTransactionPaid(ctx context.Context, tx *domain.Transaction) error {
	return p.publishTransaction(ctx, TopicTransactionPaid, tx)
}

func (p *Producer) publishTransaction(ctx context.Context, topic string, tx *domain.Transaction) error {
	data := TransactionEventData{
		ID:         tx.ID,
		OrderID:    tx.OrderID,
		CustomerID: tx.CustomerID,
		GatewayID:  tx.GatewayID,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Status:     string(tx.Status),
		ExternalID: tx.ExternalID,
	}

	event, err := pkgkafka.NewEvent(topic, tx.ID, AggregateTypeTransaction, SourcePaymentService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published transaction event",
		slog.String("topic", topic),
		slog.String("transaction_id", tx.ID),
		slog.String("order_id", tx.OrderID),
		slog.String("status", string(tx.Status)),
	)

	return nil
}

// PublishTransactionFailed publishes a transaction failed event.
func (p *Producer) PublishTransactionFailed(ctx context.Context, tx *domain.Transaction) error {
	data := TransactionFailedData{
		ID:           tx.ID,
		OrderID:      tx.OrderID,
		CustomerID:   tx.CustomerID,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		ErrorCode:    tx.ErrorCode,
		ErrorMessage: tx.ErrorMessage,
	}

	event, err := pkgkafka.NewEvent(TopicTransactionFailed, tx.ID, AggregateTypeTransaction, SourcePaymentService, data)
	if err != nil {
		return fmt.Errorf("create transaction.failed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicTransactionFailed, event); err != nil {
		return fmt.Errorf("publish transaction.failed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published transaction.failed event",
		slog.String("transaction_id", tx.ID),
		slog.String("error_code", tx.ErrorCode),
	)

	return nil
}

// PublishTransactionRefunded publishes a transaction refunded event.
func (p *Producer) PublishTransactionRefunded(ctx context.Context, tx *domain.Transaction, refund *domain.Refund) error {
	data := TransactionRefundedData{
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		RefundID:      refund.ID,
		RefundAmount:  refund.Amount,
		RefundedTotal: tx.RefundedAmount,
		Currency:      refund.Currency,
		Reason:        refund.Reason,
		Status:        string(tx.Status),
	}

	event, err := pkgkafka.NewEvent(TopicTransactionRefunded, tx.ID, AggregateTypeTransaction, SourcePaymentService, data)
	if err != nil {
		return fmt.Errorf("create transaction.refunded event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicTransactionRefunded, event); err != nil {
		return fmt.Errorf("publish transaction.refunded event: %w", err)
	}

	p.logger.DebugContext(ctx, "published transaction.refunded event",
		slog.String("transaction_id", tx.ID),
		slog.String("refund_id", refund.ID),
		slog.Int64("refund_amount", refund.Amount),
	)

	return nil
}
