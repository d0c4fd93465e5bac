package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
)

// flowRepoStub is a stateful in-memory repository for exercising the whole
// subscription lifecycle in sequence.
type flowRepoStub struct {
	store.Repository

	user *domain.User
	txs  map[string]*domain.Transaction
}

func newFlowRepo(user *domain.User) *flowRepoStub {
	return &flowRepoStub{user: user, txs: make(map[string]*domain.Transaction)}
}

func (s *flowRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.user, nil
}

func (s *flowRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, exists := s.txs[tx.TxRef]; exists {
		return store.ErrDuplicateTxRef
	}
	cp := *tx
	s.txs[tx.TxRef] = &cp
	return nil
}

func (s *flowRepoStub) FindTransactionByTxRef(ctx context.Context, txRef string) (*domain.Transaction, error) {
	tx, ok := s.txs[txRef]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *flowRepoStub) MarkTransactionSuccessful(ctx context.Context, txID uuid.UUID, providerTransactionID string, completedAt time.Time) error {
	for _, tx := range s.txs {
		if tx.ID == txID {
			if tx.Status != domain.TxStatusPending {
				return store.ErrTransactionNotFound
			}
			tx.Status = domain.TxStatusSuccessful
			tx.ProviderTransactionID = &providerTransactionID
			tx.CompletedAt = &completedAt
			return nil
		}
	}
	return store.ErrTransactionNotFound
}

func (s *flowRepoStub) SetPendingSubscriptionTxRef(ctx context.Context, userID uuid.UUID, txRef *string) error {
	s.user.PendingSubscriptionTxRef = txRef
	return nil
}

func (s *flowRepoStub) ActivateSubscription(ctx context.Context, userID, planID uuid.UUID, start, end time.Time) error {
	s.user.IsPro = true
	s.user.SubscriptionStatus = domain.SubscriptionActive
	s.user.SubscriptionPlanID = &planID
	s.user.SubscriptionStart = &start
	s.user.SubscriptionEnd = &end
	return nil
}

func (s *flowRepoStub) ListRenewalCandidates(ctx context.Context, now time.Time, window time.Duration) ([]domain.User, error) {
	if s.user.IsPro && s.user.AutoRenewal && s.user.SubscriptionStatus == domain.SubscriptionActive &&
		s.user.SubscriptionEnd != nil && !s.user.SubscriptionEnd.Before(now) && !s.user.SubscriptionEnd.After(now.Add(window)) {
		return []domain.User{*s.user}, nil
	}
	return nil, nil
}

func (s *flowRepoStub) SetSubscriptionPastDue(ctx context.Context, userID uuid.UUID) error {
	s.user.SubscriptionStatus = domain.SubscriptionPastDue
	return nil
}

func (s *flowRepoStub) ListExpiredSubscribers(ctx context.Context, now time.Time) ([]domain.User, error) {
	if s.user.IsPro && s.user.SubscriptionEnd != nil && s.user.SubscriptionEnd.Before(now) {
		switch s.user.SubscriptionStatus {
		case domain.SubscriptionActive, domain.SubscriptionPastDue, domain.SubscriptionCancelled:
			return []domain.User{*s.user}, nil
		}
	}
	return nil, nil
}

func (s *flowRepoStub) MarkSubscriptionExpired(ctx context.Context, userID uuid.UUID) error {
	s.user.IsPro = false
	s.user.SubscriptionStatus = domain.SubscriptionExpired
	return nil
}

// TestSubscriptionLifecycleEndToEnd walks one user through subscribe, webhook
// confirmation, a declined renewal and final expiry.
func TestSubscriptionLifecycleEndToEnd(t *testing.T) {
	planID := uuid.New()
	plan := &domain.SubscriptionPlan{
		ID:       planID,
		Name:     "Pro Monthly",
		Price:    250000,
		Currency: "NGN",
		Duration: domain.DurationMonthly,
		IsActive: true,
	}
	catalog := &catalogStub{plan: plan}
	user := testUser()
	user.AutoRenewal = true
	user.PaymentMethodToken = strPtr("tok_saved")
	repo := newFlowRepo(user)
	pub := &publisherStub{}

	now := time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reconciler := NewReconciler(repo, catalog, pub, time.Millisecond, 3)
	reconciler.nowFunc = clock
	subs := NewSubscriptionService(repo, catalog, &gatewayStub{}, pub, reconciler, "")
	subs.nowFunc = clock
	lifecycle := NewLifecycleManager(repo, catalog, &gatewayStub{chargeDecline: true}, pub, 72*time.Hour)
	lifecycle.nowFunc = clock

	// Step 1: subscribe creates a pending charge and a payment link.
	initiation, err := subs.Subscribe(context.Background(), user.ID, domain.SubscribeRequest{PlanID: planID})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if user.IsPro {
		t.Fatal("initiation must not activate the subscription")
	}

	// Step 2: the webhook confirms the charge and activates the plan.
	err = reconciler.Process(context.Background(), domain.GatewayWebhookEvent{
		Event: domain.GatewayEventChargeCompleted,
		Data: domain.GatewayChargeData{
			ID:       1,
			TxRef:    initiation.TxRef,
			Amount:   plan.Price,
			Currency: plan.Currency,
			Status:   domain.ChargeStatusSuccessful,
		},
	})
	if err != nil {
		t.Fatalf("webhook settlement failed: %v", err)
	}
	if !user.IsPro || user.SubscriptionStatus != domain.SubscriptionActive {
		t.Fatalf("expected active subscription, got is_pro=%t status=%s", user.IsPro, user.SubscriptionStatus)
	}
	// Jan 31 + 1 month clamps to Feb 29 in a leap year.
	wantEnd := time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC)
	if !user.SubscriptionEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %s, got %s", wantEnd.Format(time.RFC3339), user.SubscriptionEnd.Format(time.RFC3339))
	}
	if user.PendingSubscriptionTxRef != nil {
		t.Fatal("expected pending marker to be cleared")
	}

	// Step 3: the renewal sweep runs inside the lookahead window; the stored
	// card declines, so the user goes past_due with the period untouched.
	now = time.Date(2024, time.February, 27, 12, 0, 0, 0, time.UTC)
	result, err := lifecycle.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("renewal sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected one failed renewal, got %+v", result)
	}
	if user.SubscriptionStatus != domain.SubscriptionPastDue {
		t.Fatalf("expected past_due, got %s", user.SubscriptionStatus)
	}
	if !user.SubscriptionEnd.Equal(wantEnd) {
		t.Fatal("past_due must not move the period end")
	}
	if !user.IsPro {
		t.Fatal("past_due must not revoke access before the period ends")
	}

	// Step 4: once the end date passes, the expiry sweep downgrades the user.
	now = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	expResult, err := lifecycle.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("expiry sweep failed: %v", err)
	}
	if expResult.Succeeded != 1 {
		t.Fatalf("expected one expiry, got %+v", expResult)
	}
	if user.IsPro || user.SubscriptionStatus != domain.SubscriptionExpired {
		t.Fatalf("expected expired downgrade, got is_pro=%t status=%s", user.IsPro, user.SubscriptionStatus)
	}

	// A replay of the original webhook after all of this changes nothing.
	err = reconciler.Process(context.Background(), domain.GatewayWebhookEvent{
		Event: domain.GatewayEventChargeCompleted,
		Data: domain.GatewayChargeData{
			ID:       1,
			TxRef:    initiation.TxRef,
			Amount:   plan.Price,
			Currency: plan.Currency,
			Status:   domain.ChargeStatusSuccessful,
		},
	})
	if err != nil {
		t.Fatalf("replay must be a silent no-op, got %v", err)
	}
	if user.IsPro {
		t.Fatal("replay must not reactivate an expired subscription")
	}
}
