package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/payflow/internal/domain"
	"github.com/utafrali/payflow/internal/provider"
	"github.com/utafrali/payflow/internal/repository"
	apperrors "github.com/utafrali/payflow/pkg/errors"
)

// --- Mock Repository ---

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockRepository) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *mockRepository) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *mockRepository) GetLatestTransactionByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *mockRepository) ListTransactions(ctx context.Context, filter repository.TransactionFilter, opts repository.ListOptions) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, filter, opts)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

func (m *mockRepository) ListTransactionsByOrderID(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *mockRepository) ListTransactionsByCustomerID(ctx context.Context, customerID string, opts repository.ListOptions) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, customerID, opts)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

func (m *mockRepository) CountTransactions(ctx context.Context, filter repository.TransactionFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) SaveRefund(ctx context.Context, refund *domain.Refund) error {
	args := m.Called(ctx, refund)
	return args.Error(0)
}

func (m *mockRepository) GetRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Refund), args.Error(1)
}

func (m *mockRepository) ListRefundsByTransactionID(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	args := m.Called(ctx, transactionID)
	return args.Get(0).([]domain.Refund), args.Error(1)
}

func (m *mockRepository) GetEnabledPaymentMethods(ctx context.Context, merchantID, currency string) ([]domain.MethodConfig, error) {
	args := m.Called(ctx, merchantID, currency)
	return args.Get(0).([]domain.MethodConfig), args.Error(1)
}

func (m *mockRepository) GetDefaultGateway(ctx context.Context, merchantID string) (*domain.GatewayConfig, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayConfig), args.Error(1)
}

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockGateway) Authorize(ctx context.Context, input *provider.AuthorizeInput) (*provider.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Result), args.Error(1)
}

func (m *mockGateway) Capture(ctx context.Context, input *provider.CaptureInput) (*provider.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Result), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, input *provider.RefundInput) (*provider.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Result), args.Error(1)
}

func (m *mockGateway) Void(ctx context.Context, input *provider.VoidInput) (*provider.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Result), args.Error(1)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(repo *mockRepository, gw *mockGateway) *PaymentService {
	// The producer is nil since tests have no real Kafka broker.
	return &PaymentService{
		repo:    repo,
		gateway: gw,
		logger:  newTestLogger(),
	}
}

func newTestTransaction(status domain.Status) *domain.Transaction {
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:             uuid.New().String(),
		OrderID:        uuid.New().String(),
		CustomerID:     uuid.New().String(),
		MethodConfigID: uuid.New().String(),
		GatewayID:      uuid.New().String(),
		Amount:         10000,
		Currency:       "USD",
		Status:         status,
		Metadata:       make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	switch status {
	case domain.StatusAuthorized:
		tx.ExternalID = "ext_auth_1"
		tx.AuthorizedAt = &now
	case domain.StatusPaid, domain.StatusPartiallyRefunded, domain.StatusRefunded:
		tx.ExternalID = "ext_pay_1"
		tx.CapturedAt = &now
	}
	return tx
}

func succeededResult(externalID string) *provider.Result {
	return &provider.Result{
		ExternalID: externalID,
		Status:     provider.ResultSucceeded,
		Response:   map[string]any{"provider": "mock"},
	}
}

func declinedResult(code, msg string) *provider.Result {
	return &provider.Result{
		Status:       provider.ResultFailed,
		ErrorCode:    code,
		ErrorMessage: msg,
		Response:     map[string]any{"decline": code},
	}
}

// --- CreateTransaction ---

func TestCreateTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	repo.On("SaveTransaction", mock.Anything, mock.AnythingOfType("*domain.Transaction")).Return(nil).Once()

	tx, err := svc.CreateTransaction(context.Background(), &CreateTransactionInput{
		OrderID:        "ord-001",
		CustomerID:     "cus-001",
		MethodConfigID: "mcfg-001",
		GatewayID:      "gw-001",
		Amount:         10000,
		Currency:       "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, "gw-001", tx.GatewayID)
	assert.Equal(t, "USD", tx.Currency)

	repo.AssertExpectations(t)
}

func TestCreateTransaction_ResolvesDefaultGateway(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	repo.On("GetDefaultGateway", mock.Anything, "mer-001").
		Return(&domain.GatewayConfig{GatewayID: "gw-default", Provider: "stripe"}, nil).Once()
	repo.On("SaveTransaction", mock.Anything, mock.AnythingOfType("*domain.Transaction")).Return(nil).Once()

	tx, err := svc.CreateTransaction(context.Background(), &CreateTransactionInput{
		OrderID:        "ord-001",
		MerchantID:     "mer-001",
		MethodConfigID: "mcfg-001",
		Amount:         10000,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "gw-default", tx.GatewayID)

	repo.AssertExpectations(t)
}

func TestCreateTransaction_NoGatewayConfigured(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	repo.On("GetDefaultGateway", mock.Anything, "mer-empty").Return(nil, nil).Once()

	tx, err := svc.CreateTransaction(context.Background(), &CreateTransactionInput{
		OrderID:        "ord-001",
		MerchantID:     "mer-empty",
		MethodConfigID: "mcfg-001",
		Amount:         10000,
		Currency:       "USD",
	})
	assert.Nil(t, tx)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	repo.AssertNotCalled(t, "SaveTransaction", mock.Anything, mock.Anything)
}

func TestCreateTransaction_InvalidAmount(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx, err := svc.CreateTransaction(context.Background(), &CreateTransactionInput{
		OrderID:        "ord-001",
		MethodConfigID: "mcfg-001",
		GatewayID:      "gw-001",
		Amount:         0,
		Currency:       "USD",
	})
	assert.Nil(t, tx)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	repo.AssertNotCalled(t, "SaveTransaction", mock.Anything, mock.Anything)
}

// --- AuthorizeTransaction ---

func TestAuthorizeTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Authorize", mock.Anything, mock.AnythingOfType("*provider.AuthorizeInput")).
		Return(succeededResult("ext_auth_9"), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.AuthorizeTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, result.Status)
	assert.Equal(t, "ext_auth_9", result.ExternalID)
	require.NotNil(t, result.AuthorizedAt)

	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestAuthorizeTransaction_Declined(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Authorize", mock.Anything, mock.Anything).
		Return(declinedResult("card_declined", "insufficient funds"), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.AuthorizeTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrPaymentFailed)

	// The decline is persisted on the transaction.
	assert.Equal(t, domain.StatusFailed, tx.Status)
	assert.Equal(t, "card_declined", tx.ErrorCode)

	repo.AssertExpectations(t)
}

func TestAuthorizeTransaction_NotPending(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	result, err := svc.AuthorizeTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	gw.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
}

func TestAuthorizeTransaction_GatewayTransportError(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Authorize", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()

	result, err := svc.AuthorizeTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.Error(t, err)

	// The outcome is unknown, so the transaction is not failed.
	assert.Equal(t, domain.StatusPending, tx.Status)
	repo.AssertNotCalled(t, "SaveTransaction", mock.Anything, mock.Anything)
}

// --- CaptureTransaction ---

func TestCaptureTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusAuthorized)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Capture", mock.Anything, mock.AnythingOfType("*provider.CaptureInput")).
		Return(succeededResult(tx.ExternalID), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.CaptureTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, result.Status)
	require.NotNil(t, result.CapturedAt)

	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestCaptureTransaction_NotAuthorized(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	result, err := svc.CaptureTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
}

// --- ProcessTransaction ---

func TestProcessTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Authorize", mock.Anything, mock.Anything).Return(succeededResult("ext_sale_1"), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, result.Status)
	assert.Equal(t, "ext_sale_1", result.ExternalID)
	assert.Nil(t, result.AuthorizedAt, "single-step charge never had a standing authorization")
	require.NotNil(t, result.CapturedAt)

	repo.AssertExpectations(t)
}

// --- VoidTransaction ---

func TestVoidTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusAuthorized)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	gw.On("Void", mock.Anything, mock.AnythingOfType("*provider.VoidInput")).
		Return(succeededResult(tx.ExternalID), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.VoidTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVoided, result.Status)

	repo.AssertExpectations(t)
}

func TestVoidTransaction_NotAuthorized(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	result, err := svc.VoidTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	gw.AssertNotCalled(t, "Void", mock.Anything, mock.Anything)
}

// --- CancelTransaction ---

func TestCancelTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.CancelTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, result.Status)

	repo.AssertExpectations(t)
}

func TestCancelTransaction_AlreadyPaid(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	result, err := svc.CancelTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, domain.StatusPaid, tx.Status)
}

// --- ExpireTransaction ---

func TestExpireTransaction_Success(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusAuthorized)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	result, err := svc.ExpireTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)

	repo.AssertExpectations(t)
}

func TestExpireTransaction_TerminalState(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusRefunded)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	result, err := svc.ExpireTransaction(context.Background(), tx.ID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
}

// --- RefundTransaction ---

func TestRefundTransaction_Partial(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveRefund", mock.Anything, mock.AnythingOfType("*domain.Refund")).Return(nil).Twice()
	gw.On("Refund", mock.Anything, mock.AnythingOfType("*provider.RefundInput")).
		Return(succeededResult("ext_ref_1"), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 4000,
		Reason: "requested_by_customer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusSucceeded, refund.Status)
	assert.Equal(t, "ext_ref_1", refund.ExternalID)
	assert.Equal(t, "USD", refund.Currency)

	assert.Equal(t, domain.StatusPartiallyRefunded, tx.Status)
	assert.Equal(t, int64(4000), tx.RefundedAmount)

	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestRefundTransaction_FullRefund(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveRefund", mock.Anything, mock.Anything).Return(nil).Twice()
	gw.On("Refund", mock.Anything, mock.Anything).Return(succeededResult("ext_ref_2"), nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 10000,
		Reason: "order returned",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusSucceeded, refund.Status)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.Equal(t, int64(10000), tx.RefundedAmount)
}

func TestRefundTransaction_DeclinedByGateway(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveRefund", mock.Anything, mock.Anything).Return(nil).Twice()
	gw.On("Refund", mock.Anything, mock.Anything).
		Return(declinedResult("refund_declined", "balance too low"), nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 4000,
		Reason: "requested_by_customer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusFailed, refund.Status)
	assert.Equal(t, "refund_declined", refund.ErrorCode)

	// A failed refund never touches the transaction's ledger.
	assert.Equal(t, domain.StatusPaid, tx.Status)
	assert.Equal(t, int64(0), tx.RefundedAmount)
	repo.AssertNotCalled(t, "SaveTransaction", mock.Anything, mock.Anything)
}

func TestRefundTransaction_ExceedsBalance(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPartiallyRefunded)
	tx.RefundedAmount = 9000
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 2000,
		Reason: "too much",
	})
	assert.Nil(t, refund)
	assert.ErrorIs(t, err, apperrors.ErrRefundExceedsBalance)

	repo.AssertNotCalled(t, "SaveRefund", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestRefundTransaction_NotRefundable(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPending)
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 1000,
		Reason: "nope",
	})
	assert.Nil(t, refund)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

// Two refunds race on the same transaction. The loser's save hits a version
// conflict, reloads, and succeeds against the fresh ledger.
func TestRefundTransaction_VersionConflictRetries(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)

	// The other refund has already landed by the time we retry.
	fresh := newTestTransaction(domain.StatusPartiallyRefunded)
	fresh.ID = tx.ID
	fresh.RefundedAmount = 1000
	fresh.Version = 2

	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveRefund", mock.Anything, mock.Anything).Return(nil).Twice()
	gw.On("Refund", mock.Anything, mock.Anything).Return(succeededResult("ext_ref_3"), nil).Once()

	repo.On("SaveTransaction", mock.Anything, tx).
		Return(apperrors.ConcurrentModification("transaction", tx.ID)).Once()
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(fresh, nil).Once()
	repo.On("SaveTransaction", mock.Anything, tx).Return(nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 2000,
		Reason: "requested_by_customer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusSucceeded, refund.Status)

	// The retry applied 2000 on top of the concurrent 1000.
	assert.Equal(t, int64(3000), tx.RefundedAmount)
	assert.Equal(t, domain.StatusPartiallyRefunded, tx.Status)

	repo.AssertExpectations(t)
}

// Two refunds race and together they would exceed the original amount. The
// loser reloads, re-validates against the fresh ledger, and is rejected
// instead of pushing the total past the transaction amount.
func TestRefundTransaction_VersionConflictExceedsFreshBalance(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	tx := newTestTransaction(domain.StatusPaid)
	tx.Amount = 100
	tx.RefundedAmount = 0

	fresh := newTestTransaction(domain.StatusPartiallyRefunded)
	fresh.ID = tx.ID
	fresh.Amount = 100
	fresh.RefundedAmount = 60
	fresh.Version = 2

	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	repo.On("SaveRefund", mock.Anything, mock.Anything).Return(nil).Twice()
	gw.On("Refund", mock.Anything, mock.Anything).Return(succeededResult("ext_ref_4"), nil).Once()

	repo.On("SaveTransaction", mock.Anything, tx).
		Return(apperrors.ConcurrentModification("transaction", tx.ID)).Once()
	repo.On("GetTransactionByID", mock.Anything, tx.ID).Return(fresh, nil).Once()

	refund, err := svc.RefundTransaction(context.Background(), tx.ID, &RefundTransactionInput{
		Amount: 60,
		Reason: "requested_by_customer",
	})
	assert.Nil(t, refund)
	assert.ErrorIs(t, err, apperrors.ErrRefundExceedsBalance)

	// The ledger never exceeds the original amount.
	assert.Equal(t, int64(60), tx.RefundedAmount)

	repo.AssertExpectations(t)
}

// --- Listing and lookups ---

func TestListTransactions_PaginationDefaults(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	expectedOpts := repository.ListOptions{Limit: 50, Offset: 0, OrderBy: "created_at", Desc: true}
	repo.On("ListTransactions", mock.Anything, repository.TransactionFilter{}, expectedOpts).
		Return([]domain.Transaction{}, 0, nil).Once()

	_, total, err := svc.ListTransactions(context.Background(), &ListTransactionsInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	repo.AssertExpectations(t)
}

func TestListTransactions_PerPageCapped(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	expectedOpts := repository.ListOptions{Limit: 100, Offset: 200, OrderBy: "created_at", Desc: true}
	repo.On("ListTransactions", mock.Anything, mock.Anything, expectedOpts).
		Return([]domain.Transaction{}, 0, nil).Once()

	_, _, err := svc.ListTransactions(context.Background(), &ListTransactionsInput{Page: 3, PerPage: 5000})
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestListRefunds_TransactionMustExist(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	repo.On("GetTransactionByID", mock.Anything, "txn-missing").
		Return(nil, apperrors.NotFound("transaction", "txn-missing")).Once()

	refunds, err := svc.ListRefunds(context.Background(), "txn-missing")
	assert.Nil(t, refunds)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	repo.AssertNotCalled(t, "ListRefundsByTransactionID", mock.Anything, mock.Anything)
}

func TestGetEnabledPaymentMethods(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	methods := []domain.MethodConfig{{ID: "mcfg-001", Type: "card", DisplayName: "Credit Card"}}
	repo.On("GetEnabledPaymentMethods", mock.Anything, "mer-001", "USD").Return(methods, nil).Once()

	result, err := svc.GetEnabledPaymentMethods(context.Background(), "mer-001", "USD")
	require.NoError(t, err)
	assert.Equal(t, methods, result)
}

func TestGetDefaultGateway_NoneConfigured(t *testing.T) {
	repo := new(mockRepository)
	gw := new(mockGateway)
	svc := newTestService(repo, gw)

	repo.On("GetDefaultGateway", mock.Anything, "mer-empty").Return(nil, nil).Once()

	result, err := svc.GetDefaultGateway(context.Background(), "mer-empty")
	require.NoError(t, err)
	assert.Nil(t, result)
}
