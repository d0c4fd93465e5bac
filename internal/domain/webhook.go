/**
 * @description
 * Wire types for payment-gateway webhook notifications. The gateway posts a
 * JSON body describing a charge outcome; signature verification happens on the
 * raw bytes before this struct is ever populated.
 */
package domain

// Gateway charge outcomes as reported in webhook payloads and verify responses.
const (
	ChargeStatusSuccessful = "successful"
	ChargeStatusFailed     = "failed"
)

// GatewayEventChargeCompleted is the only event type that drives business
// logic; every other event is acknowledged and ignored.
const GatewayEventChargeCompleted = "charge.completed"

// GatewayWebhookEvent is the decoded webhook payload.
type GatewayWebhookEvent struct {
	Event string           `json:"event"`
	Data  GatewayChargeData `json:"data"`
}

// GatewayChargeData describes one charge attempt at the provider.
type GatewayChargeData struct {
	ID       int64  `json:"id"`
	TxRef    string `json:"tx_ref"`
	FlwRef   string `json:"flw_ref"`
	Amount   int64  `json:"amount"` // minor currency units
	Currency string `json:"currency"`
	Status   string `json:"status"`
	// ProcessorResponse carries the provider's human-readable outcome, used as
	// the failure reason on declined charges.
	ProcessorResponse string `json:"processor_response"`
}
