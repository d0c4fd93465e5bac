/**
 * @description
 * This file defines the repository contract for the billing data layer and the
 * sentinel errors the service layer branches on. The Postgres implementation
 * lives in postgres_repository.go; tests stub this interface.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPlanNotFound        = errors.New("subscription plan not found")
	ErrPlanNameTaken       = errors.New("subscription plan name already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateTxRef      = errors.New("transaction reference already exists")
)

// InsufficientFundsError reports a rejected debit together with the amounts
// involved, so callers can surface "required vs available" without a second
// round-trip.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

// Repository defines all database operations the billing core needs.
type Repository interface {
	// Users and wallets. Wallet mutations are serialized per user with row
	// locks inside the implementation; callers never read-modify-write.
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error)
	DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error)
	CreditEarnings(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error)

	// Transactions.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByTxRef(ctx context.Context, txRef string) (*domain.Transaction, error)
	MarkTransactionSuccessful(ctx context.Context, txID uuid.UUID, providerTransactionID string, completedAt time.Time) error
	MarkTransactionFailed(ctx context.Context, txID uuid.UUID, failureReason string, failedAt time.Time) error
	DeleteTransaction(ctx context.Context, txID uuid.UUID) error
	ListTransactions(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error)

	// Subscription state.
	ActivateSubscription(ctx context.Context, userID, planID uuid.UUID, start, end time.Time) error
	ExtendSubscription(ctx context.Context, userID uuid.UUID, newEnd time.Time) error
	SetSubscriptionPastDue(ctx context.Context, userID uuid.UUID) error
	MarkSubscriptionExpired(ctx context.Context, userID uuid.UUID) error
	CancelSubscription(ctx context.Context, userID uuid.UUID) error
	SetAutoRenewal(ctx context.Context, userID uuid.UUID, autoRenew bool) error
	SetPendingSubscriptionTxRef(ctx context.Context, userID uuid.UUID, txRef *string) error
	ListExpiredSubscribers(ctx context.Context, now time.Time) ([]domain.User, error)
	ListRenewalCandidates(ctx context.Context, now time.Time, window time.Duration) ([]domain.User, error)

	// Course enrollment. Returns false when the user was already enrolled.
	EnrollUserInCourse(ctx context.Context, userID, courseID uuid.UUID) (bool, error)

	// Plan catalog.
	GetPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, plan *domain.SubscriptionPlan) error
	UpdatePlan(ctx context.Context, plan *domain.SubscriptionPlan) error
}
