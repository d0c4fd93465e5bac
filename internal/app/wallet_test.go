package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
)

type walletRepoStub struct {
	store.Repository

	user    *domain.User
	balance int64

	createTxErr      error
	creditEarningErr error

	createdTxs    []*domain.Transaction
	deletedTxIDs  []uuid.UUID
	earningsPaid  int64
	refundApplied bool
	enrollCalled  bool
}

func (s *walletRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if s.user == nil {
		return nil, store.ErrUserNotFound
	}
	return s.user, nil
}

func (s *walletRepoStub) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return &domain.Wallet{Balance: s.balance}, nil
}

func (s *walletRepoStub) DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	if amount > s.balance {
		return nil, &store.InsufficientFundsError{Required: amount, Available: s.balance}
	}
	s.balance -= amount
	return &domain.Wallet{Balance: s.balance}, nil
}

func (s *walletRepoStub) CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	s.balance += amount
	s.refundApplied = true
	return &domain.Wallet{Balance: s.balance}, nil
}

func (s *walletRepoStub) CreditEarnings(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	if s.creditEarningErr != nil {
		return nil, s.creditEarningErr
	}
	s.earningsPaid += amount
	return &domain.Wallet{TotalEarnings: s.earningsPaid}, nil
}

func (s *walletRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if s.createTxErr != nil {
		return s.createTxErr
	}
	s.createdTxs = append(s.createdTxs, tx)
	return nil
}

func (s *walletRepoStub) DeleteTransaction(ctx context.Context, txID uuid.UUID) error {
	s.deletedTxIDs = append(s.deletedTxIDs, txID)
	return nil
}

func (s *walletRepoStub) EnrollUserInCourse(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	s.enrollCalled = true
	return true, nil
}

func (s *walletRepoStub) SetPendingSubscriptionTxRef(ctx context.Context, userID uuid.UUID, txRef *string) error {
	return nil
}

func (s *walletRepoStub) CreatePlan(ctx context.Context, plan *domain.SubscriptionPlan) error {
	return nil
}

func testUser() *domain.User {
	return &domain.User{
		ID:       uuid.New(),
		Email:    "learner@example.com",
		FullName: "Test Learner",
	}
}

func TestInitiateTopUp_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewWalletService(&walletRepoStub{user: testUser()}, &gatewayStub{}, &publisherStub{}, "https://app.example/wallet")

	for _, amount := range []int64{0, -100} {
		_, err := svc.InitiateTopUp(context.Background(), uuid.New(), domain.TopUpRequest{Amount: amount})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %d, got %v", amount, err)
		}
	}
}

func TestInitiateTopUp_CreatesPendingTransactionAndLink(t *testing.T) {
	repo := &walletRepoStub{user: testUser(), balance: 0}
	svc := NewWalletService(repo, &gatewayStub{}, &publisherStub{}, "https://app.example/wallet")

	initiation, err := svc.InitiateTopUp(context.Background(), repo.user.ID, domain.TopUpRequest{Amount: 10000})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if initiation.PaymentLink == "" {
		t.Fatal("expected a hosted payment link")
	}
	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(repo.createdTxs))
	}
	tx := repo.createdTxs[0]
	if tx.Status != domain.TxStatusPending || tx.Type != domain.TxTypeTopUp {
		t.Fatalf("unexpected transaction: status=%s type=%s", tx.Status, tx.Type)
	}
	if repo.balance != 0 {
		t.Fatal("initiation must not credit the wallet")
	}
}

func TestInitiateTopUp_DeletesRecordWhenGatewayFails(t *testing.T) {
	repo := &walletRepoStub{user: testUser()}
	gw := &gatewayStub{linkErr: errors.New("gateway timeout")}
	svc := NewWalletService(repo, gw, &publisherStub{}, "https://app.example/wallet")

	_, err := svc.InitiateTopUp(context.Background(), repo.user.ID, domain.TopUpRequest{Amount: 10000})
	if err == nil {
		t.Fatal("expected error when gateway fails")
	}
	if len(repo.deletedTxIDs) != 1 {
		t.Fatalf("expected the pending record to be deleted, got %d deletions", len(repo.deletedTxIDs))
	}
}

func TestDeduct_InsufficientFundsLeavesBalanceUntouched(t *testing.T) {
	userID := uuid.New()
	repo := &walletRepoStub{balance: 3000}
	svc := NewWalletService(repo, &gatewayStub{}, &publisherStub{}, "")

	_, err := svc.Deduct(context.Background(), domain.DeductRequest{
		UserID:      userID,
		Amount:      5000,
		Description: "session booking",
	})

	var insufficient *store.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Required != 5000 || insufficient.Available != 3000 {
		t.Fatalf("unexpected amounts: required=%d available=%d", insufficient.Required, insufficient.Available)
	}
	if repo.balance != 3000 {
		t.Fatalf("balance must be untouched, got %d", repo.balance)
	}
	if len(repo.createdTxs) != 0 {
		t.Fatal("no transaction must be recorded for a rejected deduction")
	}
}

func TestDeduct_RecordsTransactionAndPublishes(t *testing.T) {
	userID := uuid.New()
	repo := &walletRepoStub{balance: 10000}
	pub := &publisherStub{}
	svc := NewWalletService(repo, &gatewayStub{}, pub, "")

	wallet, err := svc.Deduct(context.Background(), domain.DeductRequest{
		UserID:      userID,
		Amount:      4000,
		Description: "session booking",
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if wallet.Balance != 6000 {
		t.Fatalf("expected balance 6000, got %d", wallet.Balance)
	}
	if len(repo.createdTxs) != 1 || repo.createdTxs[0].Type != domain.TxTypeDeduction {
		t.Fatal("expected a successful deduction transaction")
	}
	if !pub.published(domain.EventWalletDeducted) {
		t.Fatal("expected wallet.deducted event")
	}
}

func TestDeduct_RefundsWhenRecordingFails(t *testing.T) {
	userID := uuid.New()
	repo := &walletRepoStub{balance: 10000, createTxErr: errors.New("insert failed")}
	svc := NewWalletService(repo, &gatewayStub{}, &publisherStub{}, "")

	_, err := svc.Deduct(context.Background(), domain.DeductRequest{
		UserID:      userID,
		Amount:      4000,
		Description: "session booking",
	})
	if err == nil {
		t.Fatal("expected error when recording fails")
	}
	if !repo.refundApplied || repo.balance != 10000 {
		t.Fatalf("expected compensating credit, balance=%d", repo.balance)
	}
}

func TestCoursePurchase_MovesFundsToInstructor(t *testing.T) {
	repo := &walletRepoStub{balance: 20000}
	pub := &publisherStub{}
	svc := NewWalletService(repo, &gatewayStub{}, pub, "")

	req := domain.CoursePurchaseRequest{
		BuyerID:      uuid.New(),
		InstructorID: uuid.New(),
		CourseID:     uuid.New(),
		Amount:       15000,
		Description:  "Intro to Pottery",
	}
	wallet, err := svc.CoursePurchase(context.Background(), req)
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if wallet.Balance != 5000 {
		t.Fatalf("expected buyer balance 5000, got %d", wallet.Balance)
	}
	if repo.earningsPaid != 15000 {
		t.Fatalf("expected instructor earnings 15000, got %d", repo.earningsPaid)
	}
	if !repo.enrollCalled {
		t.Fatal("expected enrollment row to be written")
	}
	// Buyer leg and instructor leg each get a ledger entry.
	if len(repo.createdTxs) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(repo.createdTxs))
	}
}

func TestCoursePurchase_FlagsFailedInstructorCredit(t *testing.T) {
	repo := &walletRepoStub{balance: 20000, creditEarningErr: errors.New("instructor row gone")}
	pub := &publisherStub{}
	svc := NewWalletService(repo, &gatewayStub{}, pub, "")

	req := domain.CoursePurchaseRequest{
		BuyerID:      uuid.New(),
		InstructorID: uuid.New(),
		CourseID:     uuid.New(),
		Amount:       15000,
	}
	wallet, err := svc.CoursePurchase(context.Background(), req)
	if err != nil {
		t.Fatalf("buyer-side purchase should still return, got %v", err)
	}
	if wallet.Balance != 5000 {
		t.Fatalf("expected buyer to stay debited, got %d", wallet.Balance)
	}
	if !pub.published(domain.EventReconciliationFlagged) {
		t.Fatal("expected reconciliation.flagged event for the failed instructor credit")
	}
}

func TestCoursePurchase_RejectsSelfPurchase(t *testing.T) {
	svc := NewWalletService(&walletRepoStub{balance: 20000}, &gatewayStub{}, &publisherStub{}, "")

	sameID := uuid.New()
	_, err := svc.CoursePurchase(context.Background(), domain.CoursePurchaseRequest{
		BuyerID:      sameID,
		InstructorID: sameID,
		CourseID:     uuid.New(),
		Amount:       1000,
	})
	if err == nil {
		t.Fatal("expected self-purchase to be rejected")
	}
}

func TestSubscribe_SnapshotsPlanPrice(t *testing.T) {
	planID := uuid.New()
	repo := &walletRepoStub{user: testUser()}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Name:     "Pro Monthly",
		Price:    250000,
		Currency: "NGN",
		Duration: domain.DurationMonthly,
		IsActive: true,
	}}
	svc := NewSubscriptionService(repo, catalog, &gatewayStub{}, &publisherStub{}, nil, "https://app.example/pro")

	initiation, err := svc.Subscribe(context.Background(), repo.user.ID, domain.SubscribeRequest{PlanID: planID})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if initiation.Amount != 250000 {
		t.Fatalf("expected snapshotted price 250000, got %d", initiation.Amount)
	}
	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(repo.createdTxs))
	}
	tx := repo.createdTxs[0]
	if tx.PlanID == nil || *tx.PlanID != planID {
		t.Fatal("expected the transaction to snapshot the plan id")
	}
	if tx.Status != domain.TxStatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
}

func TestSubscribe_RejectsInactivePlan(t *testing.T) {
	planID := uuid.New()
	repo := &walletRepoStub{user: testUser()}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Price:    250000,
		Duration: domain.DurationMonthly,
		IsActive: false,
	}}
	svc := NewSubscriptionService(repo, catalog, &gatewayStub{}, &publisherStub{}, nil, "")

	_, err := svc.Subscribe(context.Background(), repo.user.ID, domain.SubscribeRequest{PlanID: planID})
	if !errors.Is(err, ErrPlanNotPurchasable) {
		t.Fatalf("expected ErrPlanNotPurchasable, got %v", err)
	}
}

func TestSubscribe_CleansUpWhenGatewayFails(t *testing.T) {
	planID := uuid.New()
	repo := &walletRepoStub{user: testUser()}
	catalog := &catalogStub{plan: &domain.SubscriptionPlan{
		ID:       planID,
		Price:    250000,
		Duration: domain.DurationMonthly,
		IsActive: true,
	}}
	gw := &gatewayStub{linkErr: errors.New("gateway down")}
	svc := NewSubscriptionService(repo, catalog, gw, &publisherStub{}, nil, "")

	_, err := svc.Subscribe(context.Background(), repo.user.ID, domain.SubscribeRequest{PlanID: planID})
	if err == nil {
		t.Fatal("expected error when gateway fails")
	}
	if len(repo.deletedTxIDs) != 1 {
		t.Fatal("expected the pending subscription record to be deleted")
	}
}

func TestCreatePlan_ValidatesInput(t *testing.T) {
	repo := &walletRepoStub{}
	svc := NewSubscriptionService(repo, &catalogStub{}, &gatewayStub{}, &publisherStub{}, nil, "")

	tests := []struct {
		name string
		plan domain.SubscriptionPlan
	}{
		{name: "missing name", plan: domain.SubscriptionPlan{Price: 1000, Duration: domain.DurationMonthly}},
		{name: "negative price", plan: domain.SubscriptionPlan{Name: "Pro", Price: -100, Duration: domain.DurationMonthly}},
		{name: "bad duration", plan: domain.SubscriptionPlan{Name: "Pro", Price: 1000, Duration: "weekly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := tt.plan
			if _, err := svc.CreatePlan(context.Background(), &plan); !errors.Is(err, ErrInvalidPlan) {
				t.Fatalf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestCreatePlan_AllowsFreePlan(t *testing.T) {
	repo := &walletRepoStub{}
	svc := NewSubscriptionService(repo, &catalogStub{}, &gatewayStub{}, &publisherStub{}, nil, "")

	plan := domain.SubscriptionPlan{Name: "Starter", Price: 0, Duration: domain.DurationMonthly}
	created, err := svc.CreatePlan(context.Background(), &plan)
	if err != nil {
		t.Fatalf("a zero-price plan must be creatable, got %v", err)
	}
	if created.Price != 0 {
		t.Fatalf("expected price 0, got %d", created.Price)
	}
}

func TestSetAutoRenewal_RequiresActiveSubscription(t *testing.T) {
	user := testUser()
	user.SubscriptionStatus = domain.SubscriptionInactive
	repo := &walletRepoStub{user: user}
	svc := NewSubscriptionService(repo, &catalogStub{}, &gatewayStub{}, &publisherStub{}, nil, "")

	err := svc.SetAutoRenewal(context.Background(), user.ID, true)
	if !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}

func TestMySubscription_ReportsDaysRemaining(t *testing.T) {
	user := testUser()
	user.SubscriptionStatus = domain.SubscriptionActive
	user.IsPro = true
	end := time.Date(2024, time.March, 11, 12, 0, 0, 0, time.UTC)
	user.SubscriptionEnd = &end

	repo := &walletRepoStub{user: user}
	svc := NewSubscriptionService(repo, &catalogStub{}, &gatewayStub{}, &publisherStub{}, nil, "")
	svc.nowFunc = func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) }

	details, err := svc.MySubscription(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if details.DaysRemaining != 10 {
		t.Fatalf("expected 10 days remaining, got %d", details.DaysRemaining)
	}
	if !details.IsPro || details.Status != domain.SubscriptionActive {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestVerify_RejectsForeignTransactionBeforeGateway(t *testing.T) {
	owner := testUser()
	repo := newFlowRepo(owner)
	repo.txs["TOPUP_owned"] = &domain.Transaction{
		ID:     uuid.New(),
		UserID: owner.ID,
		Type:   domain.TxTypeTopUp,
		Amount: 5000,
		TxRef:  "TOPUP_owned",
		Status: domain.TxStatusPending,
	}
	gw := &gatewayStub{}
	svc := NewSubscriptionService(repo, &catalogStub{}, gw, &publisherStub{}, nil, "")

	_, err := svc.Verify(context.Background(), uuid.New(), domain.VerifyRequest{TxRef: "TOPUP_owned"})
	if !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("a foreign tx_ref must look unknown, got %v", err)
	}
	if gw.verifyCalls != 0 {
		t.Fatal("ownership must be checked before the gateway is called")
	}
}
