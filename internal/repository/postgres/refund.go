package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/payflow/internal/domain"
	apperrors "github.com/utafrali/payflow/pkg/errors"
)

const refundColumns = `id, transaction_id, amount, currency, status, reason, external_refund_id, gateway_response, error_code, error_message, processed_at, created_at, updated_at`

// SaveRefund upserts a refund by ID. Refunds are only ever written by the
// service that created them, so unlike transactions they carry no version
// guard; identity columns are never rewritten on conflict.
func (r *PaymentRepository) SaveRefund(ctx context.Context, ref *domain.Refund) error {
	gatewayRes, err := marshalJSON(ref.GatewayRes)
	if err != nil {
		return fmt.Errorf("marshal gateway response: %w", err)
	}

	query := `
		INSERT INTO payment_refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			external_refund_id = EXCLUDED.external_refund_id,
			gateway_response = EXCLUDED.gateway_response,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			processed_at = EXCLUDED.processed_at,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		ref.ID,
		ref.TransactionID,
		ref.Amount,
		ref.Currency,
		ref.Status,
		ref.Reason,
		ref.ExternalID,
		gatewayRes,
		ref.ErrorCode,
		ref.ErrorMessage,
		ref.ProcessedAt,
		ref.CreatedAt,
		ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save refund: %w", err)
	}

	return nil
}

// GetRefundByID retrieves a refund by its ID.
func (r *PaymentRepository) GetRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM payment_refunds
		WHERE id = $1`

	ref, err := scanRefund(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("refund", id)
		}
		return nil, fmt.Errorf("get refund by id: %w", err)
	}
	return ref, nil
}

// ListRefundsByTransactionID returns all refunds for a transaction, newest first.
func (r *PaymentRepository) ListRefundsByTransactionID(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM payment_refunds
		WHERE transaction_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list refunds by transaction: %w", err)
	}
	defer rows.Close()

	refunds := []domain.Refund{}
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		refunds = append(refunds, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	return refunds, nil
}

func scanRefund(row rowScanner) (*domain.Refund, error) {
	var (
		ref            domain.Refund
		gatewayResJSON []byte
	)

	if err := row.Scan(
		&ref.ID,
		&ref.TransactionID,
		&ref.Amount,
		&ref.Currency,
		&ref.Status,
		&ref.Reason,
		&ref.ExternalID,
		&gatewayResJSON,
		&ref.ErrorCode,
		&ref.ErrorMessage,
		&ref.ProcessedAt,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if gatewayResJSON != nil {
		if err := json.Unmarshal(gatewayResJSON, &ref.GatewayRes); err != nil {
			return nil, fmt.Errorf("unmarshal gateway response: %w", err)
		}
	}

	return domain.ReconstituteRefund(ref)
}
