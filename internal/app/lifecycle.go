/**
 * @description
 * This file contains the scheduled subscription lifecycle sweeps: the expiry
 * sweep that downgrades lapsed subscribers and the renewal sweep that charges
 * stored payment methods ahead of period end.
 *
 * Key behaviors:
 * - The expiry sweep is the only place a user is downgraded from Pro. Nothing
 *   else flips is_pro off, so access never disappears mid-period.
 * - A renewal extends from the previous period end, never from the charge
 *   time, so renewing early costs the user nothing.
 * - Each candidate is processed in isolation: one failing or panicking user
 *   never stops the rest of the sweep.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
)

// LifecycleManager runs the scheduled subscription maintenance sweeps.
type LifecycleManager struct {
	repo      store.Repository
	catalog   PlanCatalog
	gateway   PaymentGateway
	publisher EventPublisher

	// renewalLookahead is how far before period end the renewal sweep starts
	// attempting charges.
	renewalLookahead time.Duration

	nowFunc func() time.Time
}

// NewLifecycleManager creates a lifecycle manager.
func NewLifecycleManager(repo store.Repository, catalog PlanCatalog, gateway PaymentGateway, publisher EventPublisher, renewalLookahead time.Duration) *LifecycleManager {
	if renewalLookahead <= 0 {
		renewalLookahead = 72 * time.Hour
	}
	return &LifecycleManager{
		repo:             repo,
		catalog:          catalog,
		gateway:          gateway,
		publisher:        publisher,
		renewalLookahead: renewalLookahead,
		nowFunc:          func() time.Time { return time.Now().UTC() },
	}
}

// SweepResult summarizes one sweep run for logging and tests.
type SweepResult struct {
	Candidates int
	Succeeded  int
	Failed     int
}

// RunExpirySweep downgrades every subscriber whose end date has passed. The
// store-side guard makes re-processing a user a no-op, so overlapping runs
// are harmless.
func (m *LifecycleManager) RunExpirySweep(ctx context.Context) (SweepResult, error) {
	now := m.nowFunc()
	users, err := m.repo.ListExpiredSubscribers(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list expired subscribers: %w", err)
	}

	result := SweepResult{Candidates: len(users)}
	for _, user := range users {
		if err := m.repo.MarkSubscriptionExpired(ctx, user.ID); err != nil {
			result.Failed++
			log.Printf("level=error component=lifecycle sweep=expiry msg=\"failed to expire subscription\" user_id=%s err=%v", user.ID, err)
			continue
		}
		result.Succeeded++

		publishEvent(ctx, m.publisher, domain.EventSubscriptionExpired, domain.SubscriptionEvent{
			UserID:    user.ID,
			PlanID:    user.SubscriptionPlanID,
			Status:    string(domain.SubscriptionExpired),
			Timestamp: now,
		})
		notifyUser(ctx, m.publisher, user.ID, "subscription.expired", map[string]any{
			"expired_at": user.SubscriptionEnd,
		})
	}

	log.Printf("level=info component=lifecycle sweep=expiry candidates=%d succeeded=%d failed=%d", result.Candidates, result.Succeeded, result.Failed)
	return result, nil
}

// RunRenewalSweep charges stored payment methods for subscribers whose period
// ends inside the lookahead window and who have auto-renewal on.
func (m *LifecycleManager) RunRenewalSweep(ctx context.Context) (SweepResult, error) {
	now := m.nowFunc()
	users, err := m.repo.ListRenewalCandidates(ctx, now, m.renewalLookahead)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list renewal candidates: %w", err)
	}

	result := SweepResult{Candidates: len(users)}
	for i := range users {
		if err := m.renewOne(ctx, &users[i]); err != nil {
			result.Failed++
			log.Printf("level=warn component=lifecycle sweep=renewal msg=\"renewal failed\" user_id=%s err=%v", users[i].ID, err)
		} else {
			result.Succeeded++
		}
	}

	log.Printf("level=info component=lifecycle sweep=renewal candidates=%d succeeded=%d failed=%d", result.Candidates, result.Succeeded, result.Failed)
	return result, nil
}

// renewOne attempts a single renewal charge. A panic anywhere inside is
// contained and treated like a failed charge, so the sweep keeps going.
func (m *LifecycleManager) renewOne(ctx context.Context, user *domain.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during renewal: %v", r)
			m.markPastDue(ctx, user, "internal error during renewal")
		}
	}()

	if user.SubscriptionPlanID == nil || user.SubscriptionEnd == nil {
		m.markPastDue(ctx, user, "subscription record is missing plan or period end")
		return errors.New("renewal candidate missing plan or period end")
	}

	if user.PaymentMethodToken == nil || *user.PaymentMethodToken == "" {
		m.markPastDue(ctx, user, "no stored payment method for renewal")
		return errors.New("no stored payment method")
	}

	plan, err := m.catalog.GetPlanByID(ctx, *user.SubscriptionPlanID)
	if err != nil {
		m.markPastDue(ctx, user, "subscription plan is no longer available")
		return fmt.Errorf("failed to load plan %s: %w", user.SubscriptionPlanID, err)
	}

	txRef := "SUB_RENEW_" + uuid.NewString()
	charge, err := m.gateway.ChargeToken(ctx, gatewayclient.TokenChargeRequest{
		Token:         *user.PaymentMethodToken,
		TxRef:         txRef,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		CustomerEmail: user.Email,
		Narration:     fmt.Sprintf("SkillSwap %s renewal", plan.Name),
	})
	if err != nil {
		reason := "renewal charge failed"
		if errors.Is(err, gatewayclient.ErrChargeDeclined) && charge != nil && charge.FailureReason != "" {
			reason = charge.FailureReason
		}
		m.markPastDue(ctx, user, reason)
		return fmt.Errorf("renewal charge for %s failed: %w", user.ID, err)
	}

	// Extend from the previous end date, not from now, so an early renewal
	// never shortens the paid period.
	newEnd := domain.NextPeriodEnd(*user.SubscriptionEnd, plan.Duration)
	if err := m.repo.ExtendSubscription(ctx, user.ID, newEnd); err != nil {
		log.Printf("CRITICAL: renewal charge %s succeeded but subscription extension failed for user %s: %v", txRef, user.ID, err)
		publishEvent(ctx, m.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
			TxRef:     txRef,
			UserID:    user.ID,
			Amount:    plan.Price,
			Detail:    "renewal charged but subscription extension failed",
			Timestamp: m.nowFunc(),
		})
		return fmt.Errorf("failed to extend subscription for %s: %w", user.ID, err)
	}

	now := m.nowFunc()
	txRecord := &domain.Transaction{
		ID:                    uuid.New(),
		UserID:                user.ID,
		Type:                  domain.TxTypeSubscription,
		Amount:                plan.Price,
		Currency:              plan.Currency,
		TxRef:                 txRef,
		Status:                domain.TxStatusSuccessful,
		ProviderTransactionID: &charge.ProviderTransactionID,
		Description:           fmt.Sprintf("%s subscription renewal", plan.Name),
		PlanID:                &plan.ID,
		InitiatedAt:           now,
		CompletedAt:           &now,
	}
	if err := m.repo.CreateTransaction(ctx, txRecord); err != nil {
		log.Printf("CRITICAL: renewal charge %s succeeded but ledger record failed for user %s: %v", txRef, user.ID, err)
		publishEvent(ctx, m.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
			TxRef:     txRef,
			UserID:    user.ID,
			Amount:    plan.Price,
			Detail:    "renewal charged and extended but ledger record failed",
			Timestamp: now,
		})
	}

	publishEvent(ctx, m.publisher, domain.EventSubscriptionRenewed, domain.SubscriptionEvent{
		UserID:    user.ID,
		PlanID:    &plan.ID,
		Status:    string(domain.SubscriptionActive),
		PeriodEnd: &newEnd,
		Timestamp: now,
	})
	notifyUser(ctx, m.publisher, user.ID, "subscription.renewed", map[string]any{
		"plan":       plan.Name,
		"period_end": newEnd,
	})

	log.Printf("level=info component=lifecycle sweep=renewal op=renewed user_id=%s plan_id=%s tx_ref=%s new_end=%s", user.ID, plan.ID, txRef, newEnd.Format(time.RFC3339))
	return nil
}

// markPastDue flags a failed renewal. The period end is left untouched: the
// user keeps access until the expiry sweep reaches the original end date.
func (m *LifecycleManager) markPastDue(ctx context.Context, user *domain.User, reason string) {
	if err := m.repo.SetSubscriptionPastDue(ctx, user.ID); err != nil {
		log.Printf("level=error component=lifecycle sweep=renewal msg=\"failed to mark past_due\" user_id=%s err=%v", user.ID, err)
		return
	}
	now := m.nowFunc()
	publishEvent(ctx, m.publisher, domain.EventSubscriptionPastDue, domain.SubscriptionEvent{
		UserID:    user.ID,
		PlanID:    user.SubscriptionPlanID,
		Status:    string(domain.SubscriptionPastDue),
		PeriodEnd: user.SubscriptionEnd,
		Reason:    &reason,
		Timestamp: now,
	})
	publishEvent(ctx, m.publisher, domain.EventPaymentFailed, domain.SubscriptionEvent{
		UserID:    user.ID,
		PlanID:    user.SubscriptionPlanID,
		Status:    string(domain.SubscriptionPastDue),
		Reason:    &reason,
		Timestamp: now,
	})
	notifyUser(ctx, m.publisher, user.ID, "subscription.past_due", map[string]any{
		"reason": reason,
	})
}
