package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/payflow/internal/domain"
	"github.com/utafrali/payflow/internal/repository"
	"github.com/utafrali/payflow/pkg/database"
	apperrors "github.com/utafrali/payflow/pkg/errors"
)

const transactionColumns = `id, order_id, customer_id, method_config_id, gateway_id, amount, currency, refunded_amount, status, external_transaction_id, gateway_response, error_code, error_message, method_details, metadata, customer_ip, authorized_at, captured_at, created_at, updated_at, version`

// orderableColumns is the whitelist for ListOptions.OrderBy.
var orderableColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"amount":     true,
	"status":     true,
}

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(db database.DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// SaveTransaction upserts a transaction guarded by its version. A fresh
// aggregate (version 0) inserts at version 1; a loaded aggregate replaces the
// stored row only while its version still matches, so two writers racing on
// the same row cannot silently overwrite each other. Identity columns are
// never rewritten on conflict.
func (r *PaymentRepository) SaveTransaction(ctx context.Context, t *domain.Transaction) (err error) {
	gatewayRes, err := marshalJSON(t.GatewayRes)
	if err != nil {
		return fmt.Errorf("marshal gateway response: %w", err)
	}
	methodDetails, err := marshalJSON(t.MethodDetails)
	if err != nil {
		return fmt.Errorf("marshal method details: %w", err)
	}
	metadata, err := marshalJSON(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)
		ON CONFLICT (id) DO UPDATE SET
			refunded_amount = EXCLUDED.refunded_amount,
			status = EXCLUDED.status,
			external_transaction_id = EXCLUDED.external_transaction_id,
			gateway_response = EXCLUDED.gateway_response,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			method_details = EXCLUDED.method_details,
			metadata = EXCLUDED.metadata,
			authorized_at = EXCLUDED.authorized_at,
			captured_at = EXCLUDED.captured_at,
			updated_at = EXCLUDED.updated_at,
			version = payment_transactions.version + 1
		WHERE payment_transactions.version = $21
		RETURNING version`

	ctx, end := database.TraceQuery(ctx, "SaveTransaction", query)
	defer func() { end(err) }()

	var version int64
	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.OrderID,
		t.CustomerID,
		t.MethodConfigID,
		t.GatewayID,
		t.Amount,
		t.Currency,
		t.RefundedAmount,
		t.Status,
		t.ExternalID,
		gatewayRes,
		t.ErrorCode,
		t.ErrorMessage,
		methodDetails,
		metadata,
		t.CustomerIP,
		t.AuthorizedAt,
		t.CapturedAt,
		t.CreatedAt,
		t.UpdatedAt,
		t.Version,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ConcurrentModification("transaction", t.ID)
		}
		return fmt.Errorf("save transaction: %w", err)
	}

	t.Version = version
	return nil
}

// GetTransactionByID retrieves a transaction by its ID.
func (r *PaymentRepository) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("transaction", id)
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return tx, nil
}

// GetTransactionByExternalID retrieves a transaction by the gateway's reference.
func (r *PaymentRepository) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE external_transaction_id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("transaction", externalID)
		}
		return nil, fmt.Errorf("get transaction by external id: %w", err)
	}
	return tx, nil
}

// GetLatestTransactionByOrderID retrieves the most recently created
// transaction for an order.
func (r *PaymentRepository) GetLatestTransactionByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("transaction for order", orderID)
		}
		return nil, fmt.Errorf("get latest transaction by order: %w", err)
	}
	return tx, nil
}

// buildTransactionWhere renders the filter as a WHERE clause with positional
// arguments. An empty filter yields an empty clause.
func buildTransactionWhere(filter repository.TransactionFilter) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	addCond := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if filter.OrderID != "" {
		addCond("order_id = $%d", filter.OrderID)
	}
	if filter.CustomerID != "" {
		addCond("customer_id = $%d", filter.CustomerID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			if !domain.IsValidStatus(s) {
				return "", nil, apperrors.InvalidInput("unknown transaction status " + string(s))
			}
			statuses[i] = string(s)
		}
		addCond("status = ANY($%d)", statuses)
	}
	if filter.GatewayID != "" {
		addCond("gateway_id = $%d", filter.GatewayID)
	}
	if filter.CreatedFrom != nil {
		addCond("created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		addCond("created_at < $%d", *filter.CreatedTo)
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListTransactions returns transactions matching the filter with pagination.
func (r *PaymentRepository) ListTransactions(ctx context.Context, filter repository.TransactionFilter, opts repository.ListOptions) (_ []domain.Transaction, _ int, err error) {
	where, args, err := buildTransactionWhere(filter)
	if err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = repository.DefaultListOptions().Limit
	}
	if !orderableColumns[opts.OrderBy] {
		opts.OrderBy = "created_at"
	}
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT `+transactionColumns+`,
		       count(*) OVER() AS total_count
		FROM payment_transactions
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`,
		where, opts.OrderBy, direction, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	ctx, end := database.TraceQuery(ctx, "ListTransactions", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	totalCount := 0

	for rows.Next() {
		tx, count, err := scanTransactionWithCount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		totalCount = count
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return transactions, totalCount, nil
}

// ListTransactionsByCustomerID returns a customer's transactions with
// pagination, plus the total count before pagination.
func (r *PaymentRepository) ListTransactionsByCustomerID(ctx context.Context, customerID string, opts repository.ListOptions) ([]domain.Transaction, int, error) {
	return r.ListTransactions(ctx, repository.TransactionFilter{CustomerID: customerID}, opts)
}

// CountTransactions returns the number of transactions matching the filter.
func (r *PaymentRepository) CountTransactions(ctx context.Context, filter repository.TransactionFilter) (int, error) {
	where, args, err := buildTransactionWhere(filter)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT count(*) FROM payment_transactions %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// ListTransactionsByOrderID returns all transactions for an order, newest first.
func (r *PaymentRepository) ListTransactionsByOrderID(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by order: %w", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return transactions, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t                 domain.Transaction
		gatewayResJSON    []byte
		methodDetailsJSON []byte
		metadataJSON      []byte
	)

	if err := row.Scan(
		&t.ID,
		&t.OrderID,
		&t.CustomerID,
		&t.MethodConfigID,
		&t.GatewayID,
		&t.Amount,
		&t.Currency,
		&t.RefundedAmount,
		&t.Status,
		&t.ExternalID,
		&gatewayResJSON,
		&t.ErrorCode,
		&t.ErrorMessage,
		&methodDetailsJSON,
		&metadataJSON,
		&t.CustomerIP,
		&t.AuthorizedAt,
		&t.CapturedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
	); err != nil {
		return nil, err
	}

	if err := unmarshalTransactionJSON(&t, gatewayResJSON, methodDetailsJSON, metadataJSON); err != nil {
		return nil, err
	}

	return domain.ReconstituteTransaction(t)
}

func scanTransactionWithCount(rows pgx.Rows) (*domain.Transaction, int, error) {
	var (
		t                 domain.Transaction
		gatewayResJSON    []byte
		methodDetailsJSON []byte
		metadataJSON      []byte
		totalCount        int
	)

	if err := rows.Scan(
		&t.ID,
		&t.OrderID,
		&t.CustomerID,
		&t.MethodConfigID,
		&t.GatewayID,
		&t.Amount,
		&t.Currency,
		&t.RefundedAmount,
		&t.Status,
		&t.ExternalID,
		&gatewayResJSON,
		&t.ErrorCode,
		&t.ErrorMessage,
		&methodDetailsJSON,
		&metadataJSON,
		&t.CustomerIP,
		&t.AuthorizedAt,
		&t.CapturedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
		&totalCount,
	); err != nil {
		return nil, 0, err
	}

	if err := unmarshalTransactionJSON(&t, gatewayResJSON, methodDetailsJSON, metadataJSON); err != nil {
		return nil, 0, err
	}

	tx, err := domain.ReconstituteTransaction(t)
	if err != nil {
		return nil, 0, err
	}
	return tx, totalCount, nil
}

func unmarshalTransactionJSON(t *domain.Transaction, gatewayRes, methodDetails, metadata []byte) error {
	if gatewayRes != nil {
		if err := json.Unmarshal(gatewayRes, &t.GatewayRes); err != nil {
			return fmt.Errorf("unmarshal gateway response: %w", err)
		}
	}
	if methodDetails != nil {
		if err := json.Unmarshal(methodDetails, &t.MethodDetails); err != nil {
			return fmt.Errorf("unmarshal method details: %w", err)
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return nil
}

// marshalJSON serializes a map column, keeping NULL for absent maps.
func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
