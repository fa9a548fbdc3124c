package domain

// MethodConfig is the customer-facing projection of a configured payment
// method: enabled, non-deleted configs only, ordered by display order.
type MethodConfig struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	Icon          string `json:"icon,omitempty"`
	ProcessingFee int64  `json:"processing_fee,omitempty"`
	DisplayOrder  int    `json:"-"`
}

// GatewayConfig identifies the gateway that should process a merchant's
// transactions.
type GatewayConfig struct {
	GatewayID  string `json:"gateway_id"`
	Provider   string `json:"provider"`
	IsTestMode bool   `json:"is_test_mode"`
}
