/**
 * @description
 * This file defines the subscription- and wallet-relevant projection of a
 * marketplace user. The wider user profile (bio, skills, avatar) lives with the
 * profile service; billing only reads and writes the fields below.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus enumerates the lifecycle states of a Pro subscription.
type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Wallet is the ledger projection of a user's balance. All amounts are
// non-negative integers in minor currency units; Balance never goes below zero.
type Wallet struct {
	Balance       int64 `json:"balance"`
	TotalEarnings int64 `json:"total_earnings"`
	TotalSpent    int64 `json:"total_spent"`
}

// User holds the billing-relevant fields of a marketplace user.
//
// Invariant: IsPro implies SubscriptionEndDate is set and SubscriptionStatus is
// one of active, past_due or cancelled (cancelled keeps the paid period alive
// until the expiry sweep reaches the end date).
type User struct {
	ID                 uuid.UUID          `json:"id"`
	Email              string             `json:"email"`
	FullName           string             `json:"full_name"`
	Wallet             Wallet             `json:"wallet"`
	IsPro              bool               `json:"is_pro"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlanID *uuid.UUID         `json:"subscription_plan_id,omitempty"`
	SubscriptionStart  *time.Time         `json:"subscription_start_date,omitempty"`
	SubscriptionEnd    *time.Time         `json:"subscription_end_date,omitempty"`
	AutoRenewal        bool               `json:"auto_renewal"`
	// PendingSubscriptionTxRef is set while a subscription charge is in flight
	// and cleared when the webhook confirms or fails it.
	PendingSubscriptionTxRef *string `json:"pending_subscription_tx_ref,omitempty"`
	// PaymentMethodToken is the gateway token of the card designated for
	// auto-renewal charges. Nil means renewal requires user action.
	PaymentMethodToken *string   `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
