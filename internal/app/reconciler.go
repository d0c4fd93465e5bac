/**
 * @description
 * This file contains the webhook reconciler: the single component that turns a
 * verified gateway charge notification into durable billing state. Both the
 * webhook handler and the client-driven verify fallback feed into Process, so
 * every confirmation path shares one idempotent apply routine.
 *
 * Key behaviors:
 * - Deliveries are matched to pending transactions by tx_ref. A transaction
 *   already in a terminal state makes redelivery a no-op acknowledgement.
 * - The reported amount and currency must match the pending record exactly;
 *   a mismatch is rejected as an integrity violation and nothing is applied.
 * - Transient store failures are retried in-process with exponential backoff.
 *   When retries are exhausted the delivery is still acknowledged upstream and
 *   the charge is flagged for manual reconciliation.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
)

// ErrRetriesExhausted is returned when a verified charge could not be applied
// after all backoff attempts. The caller acknowledges the delivery anyway; the
// charge is already flagged for manual reconciliation by then.
var ErrRetriesExhausted = errors.New("reconciliation retries exhausted")

// IntegrityError marks a webhook payload that contradicts our own records:
// an unknown tx_ref, or an amount or currency that does not match the pending
// transaction. Nothing is applied and the delivery must not be retried.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "webhook integrity violation: " + e.Reason
}

// Reconciler applies verified charge outcomes to billing state.
type Reconciler struct {
	repo      store.Repository
	catalog   PlanCatalog
	publisher EventPublisher

	retryBaseDelay   time.Duration
	retryMaxAttempts int

	nowFunc func() time.Time
}

// NewReconciler creates a reconciler with the given retry policy.
func NewReconciler(repo store.Repository, catalog PlanCatalog, publisher EventPublisher, retryBaseDelay time.Duration, retryMaxAttempts int) *Reconciler {
	if retryBaseDelay <= 0 {
		retryBaseDelay = 500 * time.Millisecond
	}
	if retryMaxAttempts <= 0 {
		retryMaxAttempts = 5
	}
	return &Reconciler{
		repo:             repo,
		catalog:          catalog,
		publisher:        publisher,
		retryBaseDelay:   retryBaseDelay,
		retryMaxAttempts: retryMaxAttempts,
		nowFunc:          func() time.Time { return time.Now().UTC() },
	}
}

// Process applies one verified charge notification. Signature verification has
// already happened on the raw bytes by the time this is called.
//
// A nil return means the delivery is settled from our side, including no-op
// duplicates and ignored event types. An *IntegrityError means the payload
// contradicts our records. ErrRetriesExhausted means the state change could
// not be persisted and the charge was flagged for manual reconciliation.
func (r *Reconciler) Process(ctx context.Context, event domain.GatewayWebhookEvent) error {
	if event.Event != domain.GatewayEventChargeCompleted {
		log.Printf("level=info component=reconciler msg=\"ignoring event type\" event=%s", event.Event)
		return nil
	}

	switch event.Data.Status {
	case domain.ChargeStatusSuccessful:
		return r.applyWithRetry(ctx, event.Data)
	default:
		// Anything that is not successful settles the pending record as failed.
		return r.applyFailure(ctx, event.Data)
	}
}

// applyFailure marks the pending transaction failed and releases any pending
// subscription attempt, so the user can retry immediately.
func (r *Reconciler) applyFailure(ctx context.Context, data domain.GatewayChargeData) error {
	tx, err := r.repo.FindTransactionByTxRef(ctx, data.TxRef)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return &IntegrityError{Reason: fmt.Sprintf("unknown tx_ref %s", data.TxRef)}
		}
		return fmt.Errorf("failed to load transaction %s: %w", data.TxRef, err)
	}
	if tx.Status.Terminal() {
		log.Printf("level=info component=reconciler msg=\"duplicate delivery for settled transaction\" tx_ref=%s status=%s", tx.TxRef, tx.Status)
		return nil
	}

	reason := data.ProcessorResponse
	if reason == "" {
		reason = "charge " + data.Status
	}
	if err := r.repo.MarkTransactionFailed(ctx, tx.ID, reason, r.nowFunc()); err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			// Lost a race with another delivery that settled it first.
			return nil
		}
		return fmt.Errorf("failed to mark transaction %s failed: %w", tx.TxRef, err)
	}

	if tx.Type == domain.TxTypeSubscription {
		if err := r.repo.SetPendingSubscriptionTxRef(ctx, tx.UserID, nil); err != nil {
			log.Printf("level=warn component=reconciler msg=\"failed to clear pending subscription ref\" user_id=%s err=%v", tx.UserID, err)
		}
	}

	publishEvent(ctx, r.publisher, domain.EventPaymentFailed, domain.SubscriptionEvent{
		UserID:    tx.UserID,
		PlanID:    tx.PlanID,
		Status:    string(domain.TxStatusFailed),
		Reason:    &reason,
		Timestamp: r.nowFunc(),
	})
	notifyUser(ctx, r.publisher, tx.UserID, "payment.failed", map[string]any{
		"tx_ref": tx.TxRef,
		"reason": reason,
	})

	log.Printf("level=info component=reconciler op=charge_failed tx_ref=%s user_id=%s reason=%q", tx.TxRef, tx.UserID, reason)
	return nil
}

// applyWithRetry runs applySuccess with exponential backoff. Integrity errors
// and no-op duplicates never retry; only transient store failures do.
func (r *Reconciler) applyWithRetry(ctx context.Context, data domain.GatewayChargeData) error {
	var lastErr error
	delay := r.retryBaseDelay

	for attempt := 1; attempt <= r.retryMaxAttempts; attempt++ {
		err := r.applySuccess(ctx, data)
		if err == nil {
			return nil
		}
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			return err
		}

		lastErr = err
		log.Printf("level=warn component=reconciler msg=\"apply failed; will retry\" tx_ref=%s attempt=%d max=%d err=%v", data.TxRef, attempt, r.retryMaxAttempts, err)

		if attempt == r.retryMaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	log.Printf("level=error component=reconciler msg=\"retries exhausted; flagging for manual reconciliation\" tx_ref=%s err=%v", data.TxRef, lastErr)
	publishEvent(ctx, r.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
		TxRef:     data.TxRef,
		Amount:    data.Amount,
		Detail:    fmt.Sprintf("verified charge could not be applied after %d attempts: %v", r.retryMaxAttempts, lastErr),
		Timestamp: r.nowFunc(),
	})
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// applySuccess performs one attempt at settling a successful charge.
//
// The pending-to-successful status flip happens before any side effect. The
// flip is guarded on status='pending' in the store, so exactly one attempt
// across retries and redeliveries wins it; every later attempt sees a terminal
// record and no-ops. A side effect that fails after the flip is flagged for
// manual reconciliation rather than retried, because retrying would find the
// terminal record and could never re-run just the missing mutation.
func (r *Reconciler) applySuccess(ctx context.Context, data domain.GatewayChargeData) error {
	tx, err := r.repo.FindTransactionByTxRef(ctx, data.TxRef)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return &IntegrityError{Reason: fmt.Sprintf("unknown tx_ref %s", data.TxRef)}
		}
		return fmt.Errorf("failed to load transaction %s: %w", data.TxRef, err)
	}

	if tx.Status.Terminal() {
		log.Printf("level=info component=reconciler msg=\"duplicate delivery for settled transaction\" tx_ref=%s status=%s", tx.TxRef, tx.Status)
		return nil
	}

	if data.Amount != tx.Amount {
		return &IntegrityError{Reason: fmt.Sprintf("amount mismatch for %s: charged %d, expected %d", tx.TxRef, data.Amount, tx.Amount)}
	}
	if data.Currency != "" && tx.Currency != "" && data.Currency != tx.Currency {
		return &IntegrityError{Reason: fmt.Sprintf("currency mismatch for %s: charged %s, expected %s", tx.TxRef, data.Currency, tx.Currency)}
	}

	// Everything the apply step needs is resolved before the status flip, so a
	// failure here is still safely retryable.
	var plan *domain.SubscriptionPlan
	switch tx.Type {
	case domain.TxTypeTopUp:
	case domain.TxTypeSubscription:
		if tx.PlanID == nil {
			return &IntegrityError{Reason: fmt.Sprintf("subscription transaction %s has no plan snapshot", tx.TxRef)}
		}
		plan, err = r.catalog.GetPlanByID(ctx, *tx.PlanID)
		if err != nil {
			if errors.Is(err, store.ErrPlanNotFound) {
				return &IntegrityError{Reason: fmt.Sprintf("plan %s for transaction %s no longer exists", tx.PlanID, tx.TxRef)}
			}
			return fmt.Errorf("failed to load plan for %s: %w", tx.TxRef, err)
		}
	case domain.TxTypeCourseEnrollment:
		if tx.CourseID == nil {
			return &IntegrityError{Reason: fmt.Sprintf("enrollment transaction %s has no course snapshot", tx.TxRef)}
		}
	default:
		return &IntegrityError{Reason: fmt.Sprintf("transaction %s has unexpected type %s for gateway settlement", tx.TxRef, tx.Type)}
	}

	now := r.nowFunc()
	providerID := fmt.Sprintf("%d", data.ID)
	if err := r.repo.MarkTransactionSuccessful(ctx, tx.ID, providerID, now); err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			// Another delivery settled it between our read and this write.
			return nil
		}
		return fmt.Errorf("failed to mark transaction %s successful: %w", tx.TxRef, err)
	}

	switch tx.Type {
	case domain.TxTypeTopUp:
		wallet, err := r.repo.CreditWallet(ctx, tx.UserID, tx.Amount)
		if err != nil {
			r.flagSettlementGap(ctx, tx, "transaction settled but wallet credit failed", err)
			return nil
		}
		publishEvent(ctx, r.publisher, domain.EventWalletCredited, domain.WalletEvent{
			UserID:      tx.UserID,
			Amount:      tx.Amount,
			Balance:     wallet.Balance,
			TxRef:       tx.TxRef,
			Description: tx.Description,
			Timestamp:   now,
		})
		notifyUser(ctx, r.publisher, tx.UserID, "wallet.credited", map[string]any{
			"tx_ref": tx.TxRef,
			"amount": tx.Amount,
		})

	case domain.TxTypeSubscription:
		periodEnd := domain.NextPeriodEnd(now, plan.Duration)
		if err := r.repo.ActivateSubscription(ctx, tx.UserID, plan.ID, now, periodEnd); err != nil {
			r.flagSettlementGap(ctx, tx, "transaction settled but subscription activation failed", err)
			return nil
		}
		if err := r.repo.SetPendingSubscriptionTxRef(ctx, tx.UserID, nil); err != nil {
			log.Printf("level=warn component=reconciler msg=\"failed to clear pending subscription ref\" user_id=%s err=%v", tx.UserID, err)
		}
		publishEvent(ctx, r.publisher, domain.EventSubscriptionActivated, domain.SubscriptionEvent{
			UserID:    tx.UserID,
			PlanID:    &plan.ID,
			Status:    string(domain.SubscriptionActive),
			PeriodEnd: &periodEnd,
			Timestamp: now,
		})
		notifyUser(ctx, r.publisher, tx.UserID, "subscription.activated", map[string]any{
			"plan":       plan.Name,
			"period_end": periodEnd,
		})

	case domain.TxTypeCourseEnrollment:
		if _, err := r.repo.EnrollUserInCourse(ctx, tx.UserID, *tx.CourseID); err != nil {
			r.flagSettlementGap(ctx, tx, "transaction settled but course enrollment failed", err)
			return nil
		}
		notifyUser(ctx, r.publisher, tx.UserID, "course.enrolled", map[string]any{
			"course_id": tx.CourseID.String(),
		})
	}

	log.Printf("level=info component=reconciler op=charge_settled tx_ref=%s user_id=%s type=%s amount=%d", tx.TxRef, tx.UserID, tx.Type, tx.Amount)
	return nil
}

// flagSettlementGap records a charge whose transaction was settled but whose
// follow-up mutation did not land. The delivery is acknowledged; the gap is
// resolved manually from the flag event.
func (r *Reconciler) flagSettlementGap(ctx context.Context, tx *domain.Transaction, detail string, cause error) {
	log.Printf("CRITICAL: %s for tx_ref %s user %s: %v", detail, tx.TxRef, tx.UserID, cause)
	publishEvent(ctx, r.publisher, domain.EventReconciliationFlagged, domain.ReconciliationFlag{
		TxRef:     tx.TxRef,
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		Detail:    fmt.Sprintf("%s: %v", detail, cause),
		Timestamp: r.nowFunc(),
	})
}
