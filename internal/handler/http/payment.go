package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/payflow/internal/domain"
	"github.com/utafrali/payflow/internal/service"
	"github.com/utafrali/payflow/pkg/httputil"
	"github.com/utafrali/payflow/pkg/validator"
)

// PaymentHandler handles HTTP requests for payment transaction endpoints.
type PaymentHandler struct {
	service *service.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment HTTP handler.
func NewPaymentHandler(svc *service.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateTransactionRequest is the JSON request body for creating a transaction.
type CreateTransactionRequest struct {
	OrderID        string         `json:"order_id" validate:"required"`
	CustomerID     string         `json:"customer_id"`
	MerchantID     string         `json:"merchant_id"`
	MethodConfigID string         `json:"method_config_id" validate:"required"`
	GatewayID      string         `json:"gateway_id"`
	Amount         int64          `json:"amount" validate:"required,gt=0"`
	Currency       string         `json:"currency" validate:"required,len=3"`
	Metadata       map[string]any `json:"metadata"`
}

// RefundTransactionRequest is the JSON request body for refunding a transaction.
type RefundTransactionRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

// --- Handlers ---

// CreateTransaction handles POST /api/v1/transactions
// @Summary Initialize a payment transaction
// @Description Creates a new transaction in pending status. Use /authorize or /process to charge.
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body CreateTransactionRequest true "Transaction creation data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/transactions/ [post]
func (h *PaymentHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.CreateTransactionInput{
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		MerchantID:     req.MerchantID,
		MethodConfigID: req.MethodConfigID,
		GatewayID:      req.GatewayID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerIP:     clientIP(r),
		Metadata:       req.Metadata,
	}

	tx, err := h.service.CreateTransaction(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: tx})
}

// GetTransaction handles GET /api/v1/transactions/{id}
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/transactions/{id} [get]
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tx})
}

// ListTransactions handles GET /api/v1/transactions
// @Summary List transactions
// @Description Returns a filtered, paginated list of transactions, newest first.
// @Tags transactions
// @Produce json
// @Param order_id query string false "Filter by order ID"
// @Param customer_id query string false "Filter by customer ID"
// @Param status query string false "Comma-separated status filter"
// @Param gateway_id query string false "Filter by gateway ID"
// @Param created_from query string false "Inclusive RFC3339 lower bound on creation time"
// @Param created_to query string false "Exclusive RFC3339 upper bound on creation time"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page (max 100)" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/transactions [get]
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	input := &service.ListTransactionsInput{
		OrderID:    q.Get("order_id"),
		CustomerID: q.Get("customer_id"),
		GatewayID:  q.Get("gateway_id"),
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.Status(strings.TrimSpace(s))
			if !domain.IsValidStatus(status) {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "unknown status " + string(status)},
				})
				return
			}
			input.Statuses = append(input.Statuses, status)
		}
	}

	for param, dest := range map[string]**time.Time{
		"created_from": &input.CreatedFrom,
		"created_to":   &input.CreatedTo,
	} {
		if raw := q.Get(param); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: param + " must be an RFC3339 timestamp"},
				})
				return
			}
			*dest = &ts
		}
	}

	page, perPage, ok := parsePagination(w, q.Get("page"), q.Get("per_page"))
	if !ok {
		return
	}
	input.Page = page
	input.PerPage = perPage

	transactions, total, err := h.service.ListTransactions(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse[domain.Transaction](transactions, total, page, perPage))
}

// AuthorizeTransaction handles POST /api/v1/transactions/{id}/authorize
// @Summary Authorize a transaction
// @Description Places a hold on funds through the configured gateway.
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/authorize [post]
func (h *PaymentHandler) AuthorizeTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.AuthorizeTransaction)
}

// CaptureTransaction handles POST /api/v1/transactions/{id}/capture
// @Summary Capture an authorized transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/capture [post]
func (h *PaymentHandler) CaptureTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.CaptureTransaction)
}

// ProcessTransaction handles POST /api/v1/transactions/{id}/process
// @Summary Charge a transaction in a single step
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/process [post]
func (h *PaymentHandler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.ProcessTransaction)
}

// VoidTransaction handles POST /api/v1/transactions/{id}/void
// @Summary Void an authorized transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/void [post]
func (h *PaymentHandler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.VoidTransaction)
}

// CancelTransaction handles POST /api/v1/transactions/{id}/cancel
// @Summary Cancel a pending transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/cancel [post]
func (h *PaymentHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.CancelTransaction)
}

// ExpireTransaction handles POST /api/v1/transactions/{id}/expire
// @Summary Expire a stale transaction
// @Description Times out a pending or authorized transaction that never completed.
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/expire [post]
func (h *PaymentHandler) ExpireTransaction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.ExpireTransaction)
}

// lifecycle runs a parameterless lifecycle operation against the transaction
// in the id path parameter.
func (h *PaymentHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*domain.Transaction, error)) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	tx, err := op(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tx})
}

// RefundTransaction handles POST /api/v1/transactions/{id}/refund
// @Summary Refund a transaction
// @Description Issues a full or partial refund for a paid transaction.
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction UUID"
// @Param request body RefundTransactionRequest true "Refund data"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/refund [post]
func (h *PaymentHandler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req RefundTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	refund, err := h.service.RefundTransaction(r.Context(), id.String(), &service.RefundTransactionInput{
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// ListTransactionRefunds handles GET /api/v1/transactions/{id}/refunds
// @Summary List refunds for a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/refunds [get]
func (h *PaymentHandler) ListTransactionRefunds(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	refunds, err := h.service.ListRefunds(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refunds})
}

// GetTransactionByExternalID handles GET /api/v1/transactions/external/{externalId}
// @Summary Get transaction by gateway reference
// @Tags transactions
// @Produce json
// @Param externalId path string true "Gateway transaction reference"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/transactions/external/{externalId} [get]
func (h *PaymentHandler) GetTransactionByExternalID(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalId")
	if externalID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "externalId is required"},
		})
		return
	}

	tx, err := h.service.GetTransactionByExternalID(r.Context(), externalID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tx})
}

// ListTransactionsByOrder handles GET /api/v1/transactions/order/{orderId}
// @Summary List transactions for an order
// @Tags transactions
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/transactions/order/{orderId} [get]
func (h *PaymentHandler) ListTransactionsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	transactions, err := h.service.ListTransactionsByOrder(r.Context(), orderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: transactions})
}

// GetLatestTransactionByOrder handles GET /api/v1/transactions/order/{orderId}/latest
// @Summary Get the most recent transaction for an order
// @Tags transactions
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/transactions/order/{orderId}/latest [get]
func (h *PaymentHandler) GetLatestTransactionByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	tx, err := h.service.GetLatestTransactionByOrder(r.Context(), orderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tx})
}

// GetRefund handles GET /api/v1/refunds/{id}
// @Summary Get refund by ID
// @Tags refunds
// @Produce json
// @Param id path string true "Refund UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/refunds/{id} [get]
func (h *PaymentHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	refund, err := h.service.GetRefund(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// ListPaymentMethods handles GET /api/v1/payment-methods
// @Summary List enabled payment methods
// @Description Returns the customer-facing payment methods, optionally restricted to one currency.
// @Tags payment-methods
// @Produce json
// @Param merchant_id query string false "Merchant ID"
// @Param currency query string false "3-letter ISO currency code"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/payment-methods [get]
func (h *PaymentHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	if currency != "" && len(currency) != 3 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "currency must be a 3-letter ISO code"},
		})
		return
	}

	methods, err := h.service.GetEnabledPaymentMethods(r.Context(), merchantID, currency)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: methods})
}

// GetDefaultGateway handles GET /api/v1/gateways/default
// @Summary Resolve the default payment gateway
// @Description Returns the merchant's default gateway, or the oldest active gateway on the platform. 404 when none exists.
// @Tags gateways
// @Produce json
// @Param merchant_id query string false "Merchant ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/gateways/default [get]
func (h *PaymentHandler) GetDefaultGateway(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")

	gw, err := h.service.GetDefaultGateway(r.Context(), merchantID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if gw == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "no active payment gateway is configured"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: gw})
}

// --- Helpers ---

func parsePagination(w http.ResponseWriter, rawPage, rawPerPage string) (page, perPage int, ok bool) {
	page = 1
	perPage = 50

	if rawPage != "" {
		p, err := strconv.Atoi(rawPage)
		if err != nil || p < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return 0, 0, false
		}
		page = p
	}
	if rawPerPage != "" {
		pp, err := strconv.Atoi(rawPerPage)
		if err != nil || pp < 1 || pp > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return 0, 0, false
		}
		perPage = pp
	}

	return page, perPage, true
}

// clientIP extracts the originating client address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
