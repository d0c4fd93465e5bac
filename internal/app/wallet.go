/**
 * @description
 * This file contains the wallet business logic: top-up initiation, guarded
 * balance deduction, course-purchase transfers and transaction history.
 *
 * Key invariants:
 * - The balance never goes below zero; a deduction that exceeds it is rejected
 *   with the required and available amounts.
 * - Top-up initiation never credits the wallet. The credit happens only when
 *   the webhook reconciler (or the verify fallback) confirms the charge.
 * - A course purchase debits the buyer and credits the instructor as one
 *   conceptual transfer; a failed instructor credit after a successful debit
 *   is flagged for manual reconciliation, never dropped silently.
 *
 * @dependencies
 * - github.com/google/uuid: For transaction ids and payment references.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/gatewayclient: Payment link creation for top-ups.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidDescription = errors.New("description is required")
)

const defaultCurrency = "NGN"

// WalletService manages balance mutations and top-up initiation.
type WalletService struct {
	repo      store.Repository
	gateway   PaymentGateway
	publisher EventPublisher
	// redirectURL is where the hosted checkout sends the user afterwards.
	redirectURL string
}

// NewWalletService creates a new wallet service instance.
func NewWalletService(repo store.Repository, gateway PaymentGateway, publisher EventPublisher, redirectURL string) *WalletService {
	return &WalletService{
		repo:        repo,
		gateway:     gateway,
		publisher:   publisher,
		redirectURL: redirectURL,
	}
}

// GetBalance returns the wallet projection for a user.
func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

// TopUpInitiation is returned to the caller after a top-up has been initiated.
type TopUpInitiation struct {
	TxRef       string `json:"tx_ref"`
	PaymentLink string `json:"payment_link"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// InitiateTopUp creates a pending top-up transaction and requests a hosted
// payment link from the gateway. If the gateway rejects the request the
// pending record is deleted so no orphan is left behind.
func (s *WalletService) InitiateTopUp(ctx context.Context, userID uuid.UUID, req domain.TopUpRequest) (*TopUpInitiation, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	txRef := "TOPUP_" + uuid.NewString()
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      user.ID,
		Type:        domain.TxTypeTopUp,
		Amount:      req.Amount,
		Currency:    currency,
		TxRef:       txRef,
		Status:      domain.TxStatusPending,
		Description: "Wallet top-up",
		InitiatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create top-up transaction record: %w", err)
	}

	linkResp, err := s.gateway.CreatePaymentLink(ctx, gatewayclient.PaymentLinkRequest{
		TxRef:         txRef,
		Amount:        req.Amount,
		Currency:      currency,
		CustomerEmail: user.Email,
		CustomerName:  user.FullName,
		RedirectURL:   s.redirectURL,
		Narration:     "SkillSwap wallet top-up",
	})
	if err != nil {
		// No orphaned pending records: the charge never reached the provider.
		if delErr := s.repo.DeleteTransaction(ctx, txRecord.ID); delErr != nil {
			log.Printf("level=error component=wallet msg=\"failed to delete orphaned top-up record\" tx_ref=%s err=%v", txRef, delErr)
		}
		return nil, fmt.Errorf("failed to create payment link: %w", err)
	}

	log.Printf("level=info component=wallet op=topup_initiated user_id=%s tx_ref=%s amount=%d", user.ID, txRef, req.Amount)

	return &TopUpInitiation{
		TxRef:       txRef,
		PaymentLink: linkResp.Data.Link,
		Amount:      req.Amount,
		Currency:    currency,
	}, nil
}

// Deduct atomically removes amount from the user's balance and records a
// successful deduction transaction. The store rejects a deduction the balance
// cannot cover, reporting required vs available.
func (s *WalletService) Deduct(ctx context.Context, req domain.DeductRequest) (*domain.Wallet, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrInvalidDescription
	}

	wallet, err := s.repo.DebitWallet(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, err
	}

	txRef := "DEBIT_" + uuid.NewString()
	now := time.Now().UTC()
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Type:        domain.TxTypeDeduction,
		Amount:      req.Amount,
		Currency:    defaultCurrency,
		TxRef:       txRef,
		Status:      domain.TxStatusSuccessful,
		Description: req.Description,
		InitiatedAt: now,
		CompletedAt: &now,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		// The debit already happened; put the money back rather than leave the
		// ledger and the balance disagreeing.
		if _, refundErr := s.repo.CreditWallet(ctx, req.UserID, req.Amount); refundErr != nil {
			log.Printf("CRITICAL: failed to refund debit for user %s after transaction record failure: %v", req.UserID, refundErr)
			publishEvent(ctx, s.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
				TxRef:     txRef,
				UserID:    req.UserID,
				Amount:    req.Amount,
				Detail:    "debit applied but transaction record and compensating credit both failed",
				Timestamp: now,
			})
		}
		return nil, fmt.Errorf("failed to record deduction: %w", err)
	}

	publishEvent(ctx, s.publisher, domain.EventWalletDeducted, domain.WalletEvent{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Balance:     wallet.Balance,
		TxRef:       txRef,
		Description: req.Description,
		Timestamp:   now,
	})

	return wallet, nil
}

// CoursePurchase debits the buyer and credits the instructor's earnings by the
// same amount. The two legs are one conceptual transfer: when the instructor
// credit fails after the buyer was debited, the transfer is flagged for manual
// reconciliation instead of being silently dropped.
func (s *WalletService) CoursePurchase(ctx context.Context, req domain.CoursePurchaseRequest) (*domain.Wallet, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.BuyerID == req.InstructorID {
		return nil, errors.New("buyer and instructor must differ")
	}

	buyerWallet, err := s.repo.DebitWallet(ctx, req.BuyerID, req.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txRef := "ENROLL_" + uuid.NewString()
	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = "Course enrollment"
	}

	buyerTx := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      req.BuyerID,
		Type:        domain.TxTypeCourseEnrollment,
		Amount:      req.Amount,
		Currency:    defaultCurrency,
		TxRef:       txRef,
		Status:      domain.TxStatusSuccessful,
		Description: description,
		CourseID:    &req.CourseID,
		InitiatedAt: now,
		CompletedAt: &now,
	}
	if err := s.repo.CreateTransaction(ctx, buyerTx); err != nil {
		if _, refundErr := s.repo.CreditWallet(ctx, req.BuyerID, req.Amount); refundErr != nil {
			log.Printf("CRITICAL: failed to refund buyer %s after enrollment record failure: %v", req.BuyerID, refundErr)
		}
		return nil, fmt.Errorf("failed to record enrollment transaction: %w", err)
	}

	if _, err := s.repo.EnrollUserInCourse(ctx, req.BuyerID, req.CourseID); err != nil {
		log.Printf("level=error component=wallet msg=\"enrollment row insert failed\" user_id=%s course_id=%s err=%v", req.BuyerID, req.CourseID, err)
	}

	// Instructor leg of the transfer.
	if _, err := s.repo.CreditEarnings(ctx, req.InstructorID, req.Amount); err != nil {
		log.Printf("CRITICAL: buyer %s debited but instructor %s credit failed for tx_ref %s: %v", req.BuyerID, req.InstructorID, txRef, err)
		publishEvent(ctx, s.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
			TxRef:     txRef,
			UserID:    req.InstructorID,
			Amount:    req.Amount,
			Detail:    "instructor credit failed after buyer debit",
			Timestamp: now,
		})
		return buyerWallet, nil
	}

	earningsTx := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      req.InstructorID,
		Type:        domain.TxTypeEarnings,
		Amount:      req.Amount,
		Currency:    defaultCurrency,
		TxRef:       "EARN_" + uuid.NewString(),
		Status:      domain.TxStatusSuccessful,
		Description: description,
		CourseID:    &req.CourseID,
		InitiatedAt: now,
		CompletedAt: &now,
	}
	if err := s.repo.CreateTransaction(ctx, earningsTx); err != nil {
		log.Printf("level=error component=wallet msg=\"failed to record instructor earnings\" instructor_id=%s tx_ref=%s err=%v", req.InstructorID, txRef, err)
	}

	publishEvent(ctx, s.publisher, domain.EventWalletDeducted, domain.WalletEvent{
		UserID:      req.BuyerID,
		Amount:      req.Amount,
		Balance:     buyerWallet.Balance,
		TxRef:       txRef,
		Description: description,
		Timestamp:   now,
	})
	notifyUser(ctx, s.publisher, req.InstructorID, "course.sold", map[string]any{
		"course_id": req.CourseID.String(),
		"amount":    req.Amount,
	})

	return buyerWallet, nil
}

// TransactionHistory returns a filtered, paginated slice of the user's ledger.
func (s *WalletService) TransactionHistory(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, filter)
}
