/**
 * @description
 * This file contains the subscription business logic: plan browsing, purchase
 * initiation, client-driven verification fallback, cancellation and the
 * auto-renewal preference. Actual activation always flows through the
 * reconciler so the webhook path and the verify path settle charges the same
 * way.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
)

var (
	ErrPlanNotPurchasable   = errors.New("subscription plan is not available for purchase")
	ErrNoActiveSubscription = errors.New("user has no active subscription")
	ErrInvalidPlan          = errors.New("invalid subscription plan")
)

// ChargeApplier settles verified charge outcomes. Implemented by Reconciler.
type ChargeApplier interface {
	Process(ctx context.Context, event domain.GatewayWebhookEvent) error
}

// SubscriptionService manages the Pro subscription lifecycle.
type SubscriptionService struct {
	repo        store.Repository
	catalog     PlanCatalog
	gateway     PaymentGateway
	publisher   EventPublisher
	applier     ChargeApplier
	redirectURL string

	nowFunc func() time.Time
}

// NewSubscriptionService creates a new subscription service instance.
func NewSubscriptionService(repo store.Repository, catalog PlanCatalog, gateway PaymentGateway, publisher EventPublisher, applier ChargeApplier, redirectURL string) *SubscriptionService {
	return &SubscriptionService{
		repo:        repo,
		catalog:     catalog,
		gateway:     gateway,
		publisher:   publisher,
		applier:     applier,
		redirectURL: redirectURL,
		nowFunc:     func() time.Time { return time.Now().UTC() },
	}
}

// ListPlans returns the purchasable plan catalog.
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	return s.catalog.ListActivePlans(ctx)
}

// SubscribeInitiation is returned after a subscription purchase is initiated.
type SubscribeInitiation struct {
	TxRef       string `json:"tx_ref"`
	PaymentLink string `json:"payment_link"`
	PlanID      string `json:"plan_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Subscribe creates a pending subscription transaction snapshotting the plan
// and its price, records the in-flight attempt on the user and returns a
// hosted payment link. Activation only happens when the charge is confirmed.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID uuid.UUID, req domain.SubscribeRequest) (*SubscribeInitiation, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	plan, err := s.catalog.GetPlanByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotPurchasable
	}

	txRef := "SUB_" + uuid.NewString()
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      user.ID,
		Type:        domain.TxTypeSubscription,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		TxRef:       txRef,
		Status:      domain.TxStatusPending,
		Description: fmt.Sprintf("%s subscription", plan.Name),
		PlanID:      &plan.ID,
		InitiatedAt: s.nowFunc(),
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create subscription transaction record: %w", err)
	}
	if err := s.repo.SetPendingSubscriptionTxRef(ctx, user.ID, &txRef); err != nil {
		log.Printf("level=warn component=subscriptions msg=\"failed to record pending subscription ref\" user_id=%s err=%v", user.ID, err)
	}

	linkResp, err := s.gateway.CreatePaymentLink(ctx, gatewayclient.PaymentLinkRequest{
		TxRef:         txRef,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		CustomerEmail: user.Email,
		CustomerName:  user.FullName,
		RedirectURL:   s.redirectURL,
		Narration:     fmt.Sprintf("SkillSwap %s subscription", plan.Name),
	})
	if err != nil {
		if delErr := s.repo.DeleteTransaction(ctx, txRecord.ID); delErr != nil {
			log.Printf("level=error component=subscriptions msg=\"failed to delete orphaned subscription record\" tx_ref=%s err=%v", txRef, delErr)
		}
		if clearErr := s.repo.SetPendingSubscriptionTxRef(ctx, user.ID, nil); clearErr != nil {
			log.Printf("level=warn component=subscriptions msg=\"failed to clear pending subscription ref\" user_id=%s err=%v", user.ID, clearErr)
		}
		return nil, fmt.Errorf("failed to create payment link: %w", err)
	}

	log.Printf("level=info component=subscriptions op=subscribe_initiated user_id=%s plan_id=%s tx_ref=%s amount=%d", user.ID, plan.ID, txRef, plan.Price)

	return &SubscribeInitiation{
		TxRef:       txRef,
		PaymentLink: linkResp.Data.Link,
		PlanID:      plan.ID.String(),
		Amount:      plan.Price,
		Currency:    plan.Currency,
	}, nil
}

// Verify is the client-driven fallback for a webhook that never arrived. It
// asks the gateway for the authoritative state of the charge and feeds the
// result through the same settlement path the webhook uses. Only the owner of
// the transaction may drive its verification.
func (s *SubscriptionService) Verify(ctx context.Context, userID uuid.UUID, req domain.VerifyRequest) (*domain.Transaction, error) {
	txRef := strings.TrimSpace(req.TxRef)
	if txRef == "" {
		return nil, errors.New("tx_ref is required")
	}

	tx, err := s.repo.FindTransactionByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		// Another user's reference looks exactly like an unknown one.
		return nil, store.ErrTransactionNotFound
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	result, err := s.gateway.VerifyByTxRef(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction with gateway: %w", err)
	}
	if result.Status != domain.ChargeStatusSuccessful && result.Status != domain.ChargeStatusFailed {
		// Still pending at the provider; nothing to settle yet.
		return tx, nil
	}

	providerID, err := strconv.ParseInt(result.ProviderTransactionID, 10, 64)
	if err != nil {
		log.Printf("level=warn component=subscriptions msg=\"unparsable provider transaction id\" tx_ref=%s provider_id=%q", txRef, result.ProviderTransactionID)
		providerID = 0
	}
	event := domain.GatewayWebhookEvent{
		Event: domain.GatewayEventChargeCompleted,
		Data: domain.GatewayChargeData{
			ID:                providerID,
			TxRef:             result.TxRef,
			Amount:            result.Amount,
			Currency:          result.Currency,
			Status:            result.Status,
			ProcessorResponse: result.FailureReason,
		},
	}
	if err := s.applier.Process(ctx, event); err != nil {
		return nil, err
	}

	return s.repo.FindTransactionByTxRef(ctx, txRef)
}

// SubscriptionDetails is the user-facing view of their subscription.
type SubscriptionDetails struct {
	Status        domain.SubscriptionStatus `json:"status"`
	IsPro         bool                      `json:"is_pro"`
	Plan          *domain.SubscriptionPlan  `json:"plan,omitempty"`
	StartDate     *time.Time                `json:"start_date,omitempty"`
	EndDate       *time.Time                `json:"end_date,omitempty"`
	DaysRemaining int                       `json:"days_remaining"`
	AutoRenewal   bool                      `json:"auto_renewal"`
}

// MySubscription returns the caller's current subscription state.
func (s *SubscriptionService) MySubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionDetails, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	details := &SubscriptionDetails{
		Status:      user.SubscriptionStatus,
		IsPro:       user.IsPro,
		StartDate:   user.SubscriptionStart,
		EndDate:     user.SubscriptionEnd,
		AutoRenewal: user.AutoRenewal,
	}
	if user.SubscriptionEnd != nil {
		if remaining := user.SubscriptionEnd.Sub(s.nowFunc()); remaining > 0 {
			details.DaysRemaining = int(remaining.Hours() / 24)
		}
	}
	if user.SubscriptionPlanID != nil {
		plan, err := s.catalog.GetPlanByID(ctx, *user.SubscriptionPlanID)
		if err == nil {
			details.Plan = plan
		} else if !errors.Is(err, store.ErrPlanNotFound) {
			log.Printf("level=warn component=subscriptions msg=\"failed to load plan for details\" plan_id=%s err=%v", user.SubscriptionPlanID, err)
		}
	}
	return details, nil
}

// Cancel turns off auto-renewal and marks the subscription cancelled. Paid-for
// access continues until the period end; the expiry sweep performs the actual
// downgrade when the end date passes.
func (s *SubscriptionService) Cancel(ctx context.Context, userID uuid.UUID) (*SubscriptionDetails, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.SubscriptionStatus != domain.SubscriptionActive && user.SubscriptionStatus != domain.SubscriptionPastDue {
		return nil, ErrNoActiveSubscription
	}

	if err := s.repo.CancelSubscription(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	now := s.nowFunc()
	publishEvent(ctx, s.publisher, domain.EventSubscriptionCancelled, domain.SubscriptionEvent{
		UserID:    userID,
		PlanID:    user.SubscriptionPlanID,
		Status:    string(domain.SubscriptionCancelled),
		PeriodEnd: user.SubscriptionEnd,
		Timestamp: now,
	})
	notifyUser(ctx, s.publisher, userID, "subscription.cancelled", map[string]any{
		"access_until": user.SubscriptionEnd,
	})
	log.Printf("level=info component=subscriptions op=cancelled user_id=%s access_until=%v", userID, user.SubscriptionEnd)

	return s.MySubscription(ctx, userID)
}

// SetAutoRenewal toggles the auto-renewal preference without touching the
// subscription itself.
func (s *SubscriptionService) SetAutoRenewal(ctx context.Context, userID uuid.UUID, enabled bool) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if enabled && user.SubscriptionStatus != domain.SubscriptionActive && user.SubscriptionStatus != domain.SubscriptionPastDue {
		return ErrNoActiveSubscription
	}
	return s.repo.SetAutoRenewal(ctx, userID, enabled)
}

// CreatePlan adds a plan to the catalog. Admin-only.
func (s *SubscriptionService) CreatePlan(ctx context.Context, plan *domain.SubscriptionPlan) (*domain.SubscriptionPlan, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	plan.ID = uuid.New()
	now := s.nowFunc()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	if plan.Currency == "" {
		plan.Currency = defaultCurrency
	}

	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	s.catalog.Invalidate(ctx, plan.ID)
	log.Printf("level=info component=subscriptions op=plan_created plan_id=%s name=%q price=%d duration=%s", plan.ID, plan.Name, plan.Price, plan.Duration)
	return plan, nil
}

// UpdatePlan edits a catalog plan. Existing subscribers are unaffected until
// their next renewal; billing history keeps its snapshots.
func (s *SubscriptionService) UpdatePlan(ctx context.Context, plan *domain.SubscriptionPlan) (*domain.SubscriptionPlan, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	plan.UpdatedAt = s.nowFunc()

	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}
	s.catalog.Invalidate(ctx, plan.ID)
	log.Printf("level=info component=subscriptions op=plan_updated plan_id=%s name=%q active=%t", plan.ID, plan.Name, plan.IsActive)
	return plan, nil
}

func validatePlan(plan *domain.SubscriptionPlan) error {
	if strings.TrimSpace(plan.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	}
	if plan.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	}
	if !plan.Duration.Valid() {
		return fmt.Errorf("%w: duration must be monthly, quarterly or yearly", ErrInvalidPlan)
	}
	return nil
}
