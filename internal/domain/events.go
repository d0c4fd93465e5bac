/**
 * @description
 * Domain events published by the billing core to the skillswap.events exchange.
 * The realtime socket broker and the email/SMS notification dispatcher are
 * downstream consumers; business logic only knows the routing keys below.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for the skillswap.events topic exchange.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionPastDue   = "subscription.past_due"
	EventSubscriptionExpired   = "subscription.expired"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventWalletCredited        = "wallet.credited"
	EventWalletDeducted        = "wallet.deducted"
	EventPaymentFailed         = "payment.failed"
	EventReconciliationFlagged = "reconciliation.flagged"
	EventNotificationRequested = "notification.requested"
)

// SubscriptionEvent is published on subscription lifecycle transitions.
type SubscriptionEvent struct {
	UserID    uuid.UUID  `json:"user_id"`
	PlanID    *uuid.UUID `json:"plan_id,omitempty"`
	Status    string     `json:"status"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// WalletEvent is published when a balance changes, for realtime fan-out.
type WalletEvent struct {
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	Balance     int64     `json:"balance"`
	TxRef       string    `json:"tx_ref"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReconciliationFlag marks a money movement that needs manual correction, such
// as an instructor credit that failed after the buyer was already debited.
type ReconciliationFlag struct {
	TxRef     string    `json:"tx_ref"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationRequest asks the notification dispatcher to fan a message out to
// the user's channels (email, SMS, in-app, socket). Delivery is best-effort.
type NotificationRequest struct {
	UserID    uuid.UUID      `json:"user_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
