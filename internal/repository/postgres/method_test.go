package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/payflow/pkg/database"
)

var methodCols = []string{
	"id", "method_type", "display_name", "description", "icon",
	"processing_fee", "display_order",
}

var gatewayCols = []string{"gateway_id", "provider", "is_test_mode"}

// ─── GetEnabledPaymentMethods ────────────────────────────────────────────────

func TestPaymentRepository_GetEnabledPaymentMethods(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_method_configs").
		WithArgs("mer-001", "USD").
		WillReturnRows(
			pgxmock.NewRows(methodCols).
				AddRow("mcfg-001", "card", "Credit Card", "Visa, Mastercard, Amex", "card.svg", int64(30), 1).
				AddRow("mcfg-002", "wallet", "PayPal", "", "paypal.svg", int64(0), 2),
		)

	methods, err := repo.GetEnabledPaymentMethods(context.Background(), "mer-001", "USD")
	require.NoError(t, err)
	require.Len(t, methods, 2)

	assert.Equal(t, "mcfg-001", methods[0].ID)
	assert.Equal(t, "card", methods[0].Type)
	assert.Equal(t, "Credit Card", methods[0].DisplayName)
	assert.Equal(t, int64(30), methods[0].ProcessingFee)
	assert.Equal(t, 1, methods[0].DisplayOrder)

	assert.Equal(t, "PayPal", methods[1].DisplayName)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetEnabledPaymentMethods_NoCurrencyFilter(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_method_configs").
		WithArgs("", "").
		WillReturnRows(pgxmock.NewRows(methodCols))

	methods, err := repo.GetEnabledPaymentMethods(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotNil(t, methods)
	assert.Empty(t, methods)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── GetDefaultGateway ───────────────────────────────────────────────────────

func TestPaymentRepository_GetDefaultGateway_ExplicitDefault(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_gateways").
		WithArgs("mer-001").
		WillReturnRows(
			pgxmock.NewRows(gatewayCols).AddRow("gw-001", "stripe", false),
		)

	gw, err := repo.GetDefaultGateway(context.Background(), "mer-001")
	require.NoError(t, err)
	require.NotNil(t, gw)
	assert.Equal(t, "gw-001", gw.GatewayID)
	assert.Equal(t, "stripe", gw.Provider)
	assert.False(t, gw.IsTestMode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetDefaultGateway_FallsBackToOldestActiveGlobally(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(mock)

	// No explicit default configured for this merchant. The fallback scans
	// all active gateways, so it must not carry a merchant filter: the
	// oldest active gateway is returned even when another merchant owns it.
	mock.ExpectQuery("SELECT .+ FROM payment_gateways WHERE merchant_id").
		WithArgs("mer-001").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM payment_gateways WHERE is_active").
		WillReturnRows(
			pgxmock.NewRows(gatewayCols).AddRow("gw-002", "adyen", true),
		)

	gw, err := repo.GetDefaultGateway(context.Background(), "mer-001")
	require.NoError(t, err)
	require.NotNil(t, gw)
	assert.Equal(t, "gw-002", gw.GatewayID)
	assert.Equal(t, "adyen", gw.Provider)
	assert.True(t, gw.IsTestMode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetDefaultGateway_NoneConfigured(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_gateways WHERE merchant_id").
		WithArgs("mer-empty").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM payment_gateways WHERE is_active").
		WillReturnError(pgx.ErrNoRows)

	gw, err := repo.GetDefaultGateway(context.Background(), "mer-empty")
	require.NoError(t, err)
	assert.Nil(t, gw, "absence of a gateway is an answer, not an error")

	assert.NoError(t, mock.ExpectationsWereMet())
}
