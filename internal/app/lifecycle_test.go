package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
)

type lifecycleRepoStub struct {
	store.Repository

	expired    []domain.User
	candidates []domain.User

	expireErrFor map[uuid.UUID]error
	extendErr    error
	createTxErr  error

	expiredUsers  []uuid.UUID
	extendedUsers map[uuid.UUID]time.Time
	pastDueUsers  []uuid.UUID
	createdTxs    []*domain.Transaction
}

func (s *lifecycleRepoStub) ListExpiredSubscribers(ctx context.Context, now time.Time) ([]domain.User, error) {
	return s.expired, nil
}

func (s *lifecycleRepoStub) MarkSubscriptionExpired(ctx context.Context, userID uuid.UUID) error {
	if err := s.expireErrFor[userID]; err != nil {
		return err
	}
	s.expiredUsers = append(s.expiredUsers, userID)
	return nil
}

func (s *lifecycleRepoStub) ListRenewalCandidates(ctx context.Context, now time.Time, window time.Duration) ([]domain.User, error) {
	return s.candidates, nil
}

func (s *lifecycleRepoStub) ExtendSubscription(ctx context.Context, userID uuid.UUID, newEnd time.Time) error {
	if s.extendErr != nil {
		return s.extendErr
	}
	if s.extendedUsers == nil {
		s.extendedUsers = make(map[uuid.UUID]time.Time)
	}
	s.extendedUsers[userID] = newEnd
	return nil
}

func (s *lifecycleRepoStub) SetSubscriptionPastDue(ctx context.Context, userID uuid.UUID) error {
	s.pastDueUsers = append(s.pastDueUsers, userID)
	return nil
}

func (s *lifecycleRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if s.createTxErr != nil {
		return s.createTxErr
	}
	s.createdTxs = append(s.createdTxs, tx)
	return nil
}

type gatewayStub struct {
	linkErr       error
	chargeErr     error
	chargeDecline bool
	chargedTokens []string
	panicOnToken  string
	verifyCalls   int
}

func (g *gatewayStub) CreatePaymentLink(ctx context.Context, req gatewayclient.PaymentLinkRequest) (*gatewayclient.PaymentLinkResponse, error) {
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	resp := &gatewayclient.PaymentLinkResponse{Status: "success"}
	resp.Data.Link = "https://checkout.example/" + req.TxRef
	return resp, nil
}

func (g *gatewayStub) ChargeToken(ctx context.Context, req gatewayclient.TokenChargeRequest) (*gatewayclient.ChargeResult, error) {
	if req.Token == g.panicOnToken && g.panicOnToken != "" {
		panic("gateway client blew up")
	}
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeDecline {
		return &gatewayclient.ChargeResult{Status: "failed", FailureReason: "insufficient card funds"},
			fmt.Errorf("%w: insufficient card funds", gatewayclient.ErrChargeDeclined)
	}
	g.chargedTokens = append(g.chargedTokens, req.Token)
	return &gatewayclient.ChargeResult{Status: "successful", ProviderTransactionID: "987654"}, nil
}

func (g *gatewayStub) VerifyByTxRef(ctx context.Context, txRef string) (*gatewayclient.VerifyResult, error) {
	g.verifyCalls++
	return &gatewayclient.VerifyResult{Status: domain.ChargeStatusSuccessful, TxRef: txRef}, nil
}

func strPtr(v string) *string { return &v }

func renewalCandidate(planID uuid.UUID, end time.Time, token *string) domain.User {
	return domain.User{
		ID:                 uuid.New(),
		Email:              "user@example.com",
		SubscriptionStatus: domain.SubscriptionActive,
		SubscriptionPlanID: &planID,
		SubscriptionEnd:    &end,
		AutoRenewal:        true,
		PaymentMethodToken: token,
	}
}

func newTestLifecycle(repo *lifecycleRepoStub, catalog *catalogStub, gw *gatewayStub, pub *publisherStub) *LifecycleManager {
	m := NewLifecycleManager(repo, catalog, gw, pub, 72*time.Hour)
	m.nowFunc = func() time.Time { return time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC) }
	return m
}

func TestRunExpirySweep_DowngradesAndKeepsGoing(t *testing.T) {
	userA := domain.User{ID: uuid.New()}
	userB := domain.User{ID: uuid.New()}
	userC := domain.User{ID: uuid.New()}
	repo := &lifecycleRepoStub{
		expired:      []domain.User{userA, userB, userC},
		expireErrFor: map[uuid.UUID]error{userB.ID: errors.New("row lock timeout")},
	}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, &catalogStub{}, &gatewayStub{}, pub)

	result, err := m.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Candidates != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(repo.expiredUsers) != 2 {
		t.Fatalf("expected 2 users expired, got %d", len(repo.expiredUsers))
	}
	if !pub.published(domain.EventSubscriptionExpired) {
		t.Fatal("expected subscription.expired event")
	}
}

func TestRunExpirySweep_EmptyListIsNoOp(t *testing.T) {
	repo := &lifecycleRepoStub{}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, &catalogStub{}, &gatewayStub{}, pub)

	result, err := m.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Candidates != 0 || len(pub.keys) != 0 {
		t.Fatalf("expected nothing to happen, got %+v with %d events", result, len(pub.keys))
	}
}

func TestRunRenewalSweep_ExtendsFromPreviousEnd(t *testing.T) {
	planID := uuid.New()
	// Period ends Mar 3; the sweep runs Mar 1. The new end must extend from
	// Mar 3, not from the charge time.
	prevEnd := time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC)
	user := renewalCandidate(planID, prevEnd, strPtr("tok_123"))

	repo := &lifecycleRepoStub{candidates: []domain.User{user}}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Name:     "Pro Monthly",
		Price:    250000,
		Currency: "NGN",
		Duration: domain.DurationMonthly,
		IsActive: true,
	}}
	gw := &gatewayStub{}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, catalog, gw, pub)

	result, err := m.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	wantEnd := time.Date(2024, time.April, 3, 12, 0, 0, 0, time.UTC)
	gotEnd, ok := repo.extendedUsers[user.ID]
	if !ok {
		t.Fatal("expected subscription extension")
	}
	if !gotEnd.Equal(wantEnd) {
		t.Fatalf("expected extension to %s, got %s", wantEnd.Format(time.RFC3339), gotEnd.Format(time.RFC3339))
	}

	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected 1 renewal transaction, got %d", len(repo.createdTxs))
	}
	tx := repo.createdTxs[0]
	if tx.Status != domain.TxStatusSuccessful || tx.Type != domain.TxTypeSubscription {
		t.Fatalf("unexpected renewal transaction: status=%s type=%s", tx.Status, tx.Type)
	}
	if !pub.published(domain.EventSubscriptionRenewed) {
		t.Fatal("expected subscription.renewed event")
	}
}

func TestRunRenewalSweep_NoPaymentMethodGoesPastDue(t *testing.T) {
	planID := uuid.New()
	end := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)
	user := renewalCandidate(planID, end, nil)

	repo := &lifecycleRepoStub{candidates: []domain.User{user}}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, &catalogStub{}, &gatewayStub{}, pub)

	result, err := m.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
	if len(repo.pastDueUsers) != 1 || repo.pastDueUsers[0] != user.ID {
		t.Fatal("expected user to be marked past_due")
	}
	if len(repo.extendedUsers) != 0 {
		t.Fatal("past_due must not extend the period")
	}
	if !pub.published(domain.EventSubscriptionPastDue) {
		t.Fatal("expected subscription.past_due event")
	}
}

func TestRunRenewalSweep_DeclinedChargeGoesPastDue(t *testing.T) {
	planID := uuid.New()
	end := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)
	user := renewalCandidate(planID, end, strPtr("tok_declined"))

	repo := &lifecycleRepoStub{candidates: []domain.User{user}}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Duration: domain.DurationMonthly,
		Price:    250000,
	}}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, catalog, &gatewayStub{chargeDecline: true}, pub)

	result, err := m.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
	if len(repo.pastDueUsers) != 1 {
		t.Fatal("expected user to be marked past_due after decline")
	}
	if len(repo.extendedUsers) != 0 {
		t.Fatal("declined charge must not extend the period")
	}
	if !pub.published(domain.EventPaymentFailed) {
		t.Fatal("expected payment.failed event")
	}
}

func TestRunRenewalSweep_PanicIsContainedPerUser(t *testing.T) {
	planID := uuid.New()
	end := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)
	bad := renewalCandidate(planID, end, strPtr("tok_panic"))
	good := renewalCandidate(planID, end, strPtr("tok_ok"))

	repo := &lifecycleRepoStub{candidates: []domain.User{bad, good}}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Duration: domain.DurationMonthly,
		Price:    250000,
	}}
	gw := &gatewayStub{panicOnToken: "tok_panic"}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, catalog, gw, pub)

	result, err := m.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("expected sweep to survive the panic, got %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("expected one success and one contained failure, got %+v", result)
	}
	if _, ok := repo.extendedUsers[good.ID]; !ok {
		t.Fatal("expected the healthy user to be renewed")
	}
	if len(repo.pastDueUsers) != 1 || repo.pastDueUsers[0] != bad.ID {
		t.Fatal("expected the panicking user to be marked past_due")
	}
}

func TestRunRenewalSweep_FlagsUnrecordedRenewalCharge(t *testing.T) {
	planID := uuid.New()
	end := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)
	user := renewalCandidate(planID, end, strPtr("tok_ok"))

	repo := &lifecycleRepoStub{
		candidates:  []domain.User{user},
		createTxErr: errors.New("insert failed"),
	}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Name:     "Pro Monthly",
		Duration: domain.DurationMonthly,
		Price:    250000,
	}}
	pub := &publisherStub{}
	m := newTestLifecycle(repo, catalog, &gatewayStub{}, pub)

	result, err := m.RunRenewalSweep(context.Background())
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("the renewal itself succeeded, got %+v", result)
	}
	if _, ok := repo.extendedUsers[user.ID]; !ok {
		t.Fatal("expected the subscription to stay extended")
	}
	// The card was charged but the ledger has no entry for it; that gap must
	// surface as a flag, not just a log line.
	if !pub.published(domain.EventReconciliationFlagged) {
		t.Fatal("expected reconciliation.flagged event for the missing ledger entry")
	}
}
