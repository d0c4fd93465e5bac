/**
 * @description
 * This file defines the Transaction ledger record and the request/filter types
 * used by the wallet and subscription flows. A transaction is created `pending`
 * and transitions exactly once to a terminal status; the unique tx_ref is the
 * primary idempotency key for webhook-driven confirmation.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies what a ledger entry paid for.
type TransactionType string

const (
	TxTypeTopUp            TransactionType = "topup"
	TxTypeDeduction        TransactionType = "deduction"
	TxTypeEarnings         TransactionType = "earnings"
	TxTypeRefund           TransactionType = "refund"
	TxTypeWithdrawal       TransactionType = "withdrawal"
	TxTypeSubscription     TransactionType = "subscription"
	TxTypeCourseEnrollment TransactionType = "course_enrollment"
)

// TransactionStatus is the settlement state of a ledger entry.
type TransactionStatus string

const (
	TxStatusPending    TransactionStatus = "pending"
	TxStatusSuccessful TransactionStatus = "successful"
	TxStatusFailed     TransactionStatus = "failed"
	TxStatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TxStatusSuccessful || s == TxStatusFailed || s == TxStatusCancelled
}

// Transaction is one entry in the wallet ledger.
type Transaction struct {
	ID       uuid.UUID       `json:"id"`
	UserID   uuid.UUID       `json:"user_id"`
	Type     TransactionType `json:"type"`
	Amount   int64           `json:"amount"` // minor currency units, >= 0
	Currency string          `json:"currency"`
	// TxRef is globally unique and generated at initiation time. Webhook
	// deliveries are matched and deduplicated against it.
	TxRef                 string            `json:"tx_ref"`
	Status                TransactionStatus `json:"status"`
	ProviderTransactionID *string           `json:"provider_transaction_id,omitempty"`
	FailureReason         *string           `json:"failure_reason,omitempty"`
	Description           string            `json:"description"`
	// PlanID and CourseID snapshot what the charge was for at initiation time.
	PlanID      *uuid.UUID `json:"plan_id,omitempty"`
	CourseID    *uuid.UUID `json:"course_id,omitempty"`
	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// TopUpRequest is the payload for initiating a wallet top-up.
type TopUpRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// DeductRequest is the payload for a service-triggered wallet deduction.
type DeductRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
}

// CoursePurchaseRequest is the payload for a wallet-funded course enrollment.
// The buyer is debited and the instructor credited as one conceptual transfer.
type CoursePurchaseRequest struct {
	BuyerID      uuid.UUID `json:"buyer_id"`
	InstructorID uuid.UUID `json:"instructor_id"`
	CourseID     uuid.UUID `json:"course_id"`
	Amount       int64     `json:"amount"`
	Description  string    `json:"description"`
}

// SubscribeRequest is the payload for initiating a subscription purchase.
type SubscribeRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

// VerifyRequest is the payload for the client-driven verification fallback.
type VerifyRequest struct {
	TxRef string `json:"tx_ref"`
}

// TransactionFilter narrows and pages a transaction history query.
type TransactionFilter struct {
	Type   TransactionType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
