package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/payflow/internal/domain"
)

// GetEnabledPaymentMethods returns enabled, non-deleted method configs ordered
// for display. Merchant-scoped configs and platform-wide ones (empty
// merchant_id) are both visible to the merchant. A non-empty currency
// restricts the result to methods that list it among their supported
// currencies.
func (r *PaymentRepository) GetEnabledPaymentMethods(ctx context.Context, merchantID, currency string) ([]domain.MethodConfig, error) {
	query := `
		SELECT id, method_type, display_name, description, icon, processing_fee, display_order
		FROM payment_method_configs
		WHERE enabled = true
		  AND deleted_at IS NULL
		  AND (merchant_id = $1 OR merchant_id = '')
		  AND ($2 = '' OR $2 = ANY(supported_currencies))
		ORDER BY display_order ASC, display_name ASC`

	rows, err := r.db.Query(ctx, query, merchantID, currency)
	if err != nil {
		return nil, fmt.Errorf("list enabled payment methods: %w", err)
	}
	defer rows.Close()

	methods := []domain.MethodConfig{}
	for rows.Next() {
		var m domain.MethodConfig
		if err := rows.Scan(
			&m.ID,
			&m.Type,
			&m.DisplayName,
			&m.Description,
			&m.Icon,
			&m.ProcessingFee,
			&m.DisplayOrder,
		); err != nil {
			return nil, fmt.Errorf("scan payment method row: %w", err)
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment method rows: %w", err)
	}

	return methods, nil
}

// GetDefaultGateway resolves the gateway a merchant's transactions should use.
// The merchant's explicit default wins; otherwise the oldest active gateway on
// the platform is used, regardless of owner. Returns (nil, nil) only when no
// active gateway exists anywhere — absence here is an answer, not an error.
func (r *PaymentRepository) GetDefaultGateway(ctx context.Context, merchantID string) (*domain.GatewayConfig, error) {
	defaultQuery := `
		SELECT gateway_id, provider, is_test_mode
		FROM payment_gateways
		WHERE merchant_id = $1
		  AND is_default = true
		  AND is_active = true
		  AND deleted_at IS NULL
		LIMIT 1`

	gw, err := scanGateway(r.db.QueryRow(ctx, defaultQuery, merchantID))
	if err == nil {
		return gw, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get default gateway: %w", err)
	}

	fallbackQuery := `
		SELECT gateway_id, provider, is_test_mode
		FROM payment_gateways
		WHERE is_active = true
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1`

	gw, err = scanGateway(r.db.QueryRow(ctx, fallbackQuery))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fallback gateway: %w", err)
	}
	return gw, nil
}

func scanGateway(row pgx.Row) (*domain.GatewayConfig, error) {
	var gw domain.GatewayConfig
	if err := row.Scan(&gw.GatewayID, &gw.Provider, &gw.IsTestMode); err != nil {
		return nil, err
	}
	return &gw, nil
}
