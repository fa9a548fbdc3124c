package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/payflow/internal/service"
	"github.com/utafrali/payflow/pkg/health"
	"github.com/utafrali/payflow/pkg/middleware"
)

// NewRouter creates a chi router with all payment service routes registered.
func NewRouter(
	paymentService *service.PaymentService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("payment"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Payment API endpoints
	paymentHandler := NewPaymentHandler(paymentService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", paymentHandler.CreateTransaction)
			r.Get("/", paymentHandler.ListTransactions)
			r.Get("/{id}", paymentHandler.GetTransaction)
			r.Post("/{id}/authorize", paymentHandler.AuthorizeTransaction)
			r.Post("/{id}/capture", paymentHandler.CaptureTransaction)
			r.Post("/{id}/process", paymentHandler.ProcessTransaction)
			r.Post("/{id}/void", paymentHandler.VoidTransaction)
			r.Post("/{id}/cancel", paymentHandler.CancelTransaction)
			r.Post("/{id}/expire", paymentHandler.ExpireTransaction)
			r.Post("/{id}/refund", paymentHandler.RefundTransaction)
			r.Get("/{id}/refunds", paymentHandler.ListTransactionRefunds)
			r.Get("/external/{externalId}", paymentHandler.GetTransactionByExternalID)
			r.Get("/order/{orderId}", paymentHandler.ListTransactionsByOrder)
			r.Get("/order/{orderId}/latest", paymentHandler.GetLatestTransactionByOrder)
		})

		r.Get("/refunds/{id}", paymentHandler.GetRefund)
		r.Get("/payment-methods", paymentHandler.ListPaymentMethods)
		r.Get("/gateways/default", paymentHandler.GetDefaultGateway)
	})

	return r
}
