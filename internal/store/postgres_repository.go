/**
 * @description
 * This file implements the data access layer for the billing core on top of
 * PostgreSQL. It contains all SQL for users, wallets, transactions, subscription
 * state and the plan catalog.
 *
 * Key features:
 * - Wallet mutations run inside a transaction with `SELECT ... FOR UPDATE` on
 *   the user row, serializing concurrent financial operations per user.
 * - Transaction status updates are guarded on status = 'pending', so a record
 *   that already reached a terminal state can never be re-resolved.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository instance.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `
	id, email, full_name,
	wallet_balance, wallet_total_earnings, wallet_total_spent,
	is_pro, subscription_status, subscription_plan_id,
	subscription_start_date, subscription_end_date, auto_renewal,
	pending_subscription_tx_ref, payment_method_token,
	created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName,
		&u.Wallet.Balance, &u.Wallet.TotalEarnings, &u.Wallet.TotalSpent,
		&u.IsPro, &u.SubscriptionStatus, &u.SubscriptionPlanID,
		&u.SubscriptionStart, &u.SubscriptionEnd, &u.AutoRenewal,
		&u.PendingSubscriptionTxRef, &u.PaymentMethodToken,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindUserByID retrieves the billing projection of a user.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, userID))
}

// GetWallet returns the wallet projection of a user.
func (r *PostgresRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `SELECT wallet_balance, wallet_total_earnings, wallet_total_spent FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&w.Balance, &w.TotalEarnings, &w.TotalSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreditWallet atomically adds amount to the user's balance.
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `
        UPDATE users
        SET wallet_balance = wallet_balance + $1, updated_at = NOW()
        WHERE id = $2
        RETURNING wallet_balance, wallet_total_earnings, wallet_total_spent`
	err := r.db.QueryRow(ctx, query, amount, userID).Scan(&w.Balance, &w.TotalEarnings, &w.TotalSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &w, nil
}

// DebitWallet atomically subtracts amount from the user's balance and adds it
// to total_spent. The row lock serializes concurrent debits against the same
// user; a balance that cannot cover the amount rejects the debit unchanged.
func (r *PostgresRepository) DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if balance < amount {
		return nil, &InsufficientFundsError{Required: amount, Available: balance}
	}

	var w domain.Wallet
	err = tx.QueryRow(ctx, `
        UPDATE users
        SET wallet_balance = wallet_balance - $1,
            wallet_total_spent = wallet_total_spent + $1,
            updated_at = NOW()
        WHERE id = $2
        RETURNING wallet_balance, wallet_total_earnings, wallet_total_spent`,
		amount, userID,
	).Scan(&w.Balance, &w.TotalEarnings, &w.TotalSpent)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreditEarnings atomically adds amount to both balance and total_earnings.
// Used when an instructor is paid for a course sale.
func (r *PostgresRepository) CreditEarnings(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `
        UPDATE users
        SET wallet_balance = wallet_balance + $1,
            wallet_total_earnings = wallet_total_earnings + $1,
            updated_at = NOW()
        WHERE id = $2
        RETURNING wallet_balance, wallet_total_earnings, wallet_total_spent`
	err := r.db.QueryRow(ctx, query, amount, userID).Scan(&w.Balance, &w.TotalEarnings, &w.TotalSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateTransaction inserts a new ledger entry.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	query := `
        INSERT INTO transactions (
            id, user_id, type, amount, currency, tx_ref, status,
            provider_transaction_id, failure_reason, description,
            plan_id, course_id, initiated_at, completed_at, failed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.Amount, t.Currency, t.TxRef, t.Status,
		t.ProviderTransactionID, t.FailureReason, t.Description,
		t.PlanID, t.CourseID, t.InitiatedAt, t.CompletedAt, t.FailedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation; tx_ref carries a unique index.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "tx_ref") {
			return ErrDuplicateTxRef
		}
		return err
	}
	return nil
}

const transactionColumns = `
	id, user_id, type, amount, currency, tx_ref, status,
	provider_transaction_id, failure_reason, description,
	plan_id, course_id, initiated_at, completed_at, failed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Currency, &t.TxRef, &t.Status,
		&t.ProviderTransactionID, &t.FailureReason, &t.Description,
		&t.PlanID, &t.CourseID, &t.InitiatedAt, &t.CompletedAt, &t.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindTransactionByTxRef looks a transaction up by its idempotency key.
func (r *PostgresRepository) FindTransactionByTxRef(ctx context.Context, txRef string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_ref = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, txRef))
}

// MarkTransactionSuccessful resolves a pending transaction. The status guard
// makes the transition one-way: a terminal record is never re-resolved.
func (r *PostgresRepository) MarkTransactionSuccessful(ctx context.Context, txID uuid.UUID, providerTransactionID string, completedAt time.Time) error {
	query := `
        UPDATE transactions
        SET status = 'successful', provider_transaction_id = $2, completed_at = $3
        WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, txID, providerTransactionID, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkTransactionFailed resolves a pending transaction as failed with a reason.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, txID uuid.UUID, failureReason string, failedAt time.Time) error {
	query := `
        UPDATE transactions
        SET status = 'failed', failure_reason = $2, failed_at = $3
        WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, txID, failureReason, failedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// DeleteTransaction removes an orphaned pending record after the gateway
// rejected the initiation request.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, txID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND status = 'pending'`, txID)
	return err
}

// ListTransactions returns a filtered, paginated slice of a user's history,
// newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND initiated_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND initiated_at <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY initiated_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Currency, &t.TxRef, &t.Status,
			&t.ProviderTransactionID, &t.FailureReason, &t.Description,
			&t.PlanID, &t.CourseID, &t.InitiatedAt, &t.CompletedAt, &t.FailedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// ActivateSubscription flips the user to Pro and clears the pending charge
// marker in one statement.
func (r *PostgresRepository) ActivateSubscription(ctx context.Context, userID, planID uuid.UUID, start, end time.Time) error {
	query := `
        UPDATE users
        SET is_pro = TRUE,
            subscription_status = 'active',
            subscription_plan_id = $2,
            subscription_start_date = $3,
            subscription_end_date = $4,
            pending_subscription_tx_ref = NULL,
            updated_at = NOW()
        WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID, planID, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ExtendSubscription moves the end date forward after a successful renewal and
// restores active status in case the user was past_due.
func (r *PostgresRepository) ExtendSubscription(ctx context.Context, userID uuid.UUID, newEnd time.Time) error {
	query := `
        UPDATE users
        SET subscription_end_date = $2,
            subscription_status = 'active',
            updated_at = NOW()
        WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID, newEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetSubscriptionPastDue marks a failed renewal. The user keeps Pro access
// until the end date is actually reached; past_due never extends the period.
func (r *PostgresRepository) SetSubscriptionPastDue(ctx context.Context, userID uuid.UUID) error {
	query := `
        UPDATE users
        SET subscription_status = 'past_due', updated_at = NOW()
        WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkSubscriptionExpired downgrades a user whose paid period has elapsed. The
// status guard keeps the expiry sweep idempotent.
func (r *PostgresRepository) MarkSubscriptionExpired(ctx context.Context, userID uuid.UUID) error {
	query := `
        UPDATE users
        SET is_pro = FALSE,
            subscription_status = 'expired',
            updated_at = NOW()
        WHERE id = $1 AND subscription_status IN ('active', 'past_due', 'cancelled')`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

// CancelSubscription stops renewal; the paid period stays usable until its end
// date, where the expiry sweep downgrades the account.
func (r *PostgresRepository) CancelSubscription(ctx context.Context, userID uuid.UUID) error {
	query := `
        UPDATE users
        SET subscription_status = 'cancelled',
            auto_renewal = FALSE,
            updated_at = NOW()
        WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAutoRenewal toggles the auto-renewal flag.
func (r *PostgresRepository) SetAutoRenewal(ctx context.Context, userID uuid.UUID, autoRenew bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET auto_renewal = $2, updated_at = NOW() WHERE id = $1`, userID, autoRenew)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPendingSubscriptionTxRef records (or clears, with nil) the in-flight
// subscription charge marker.
func (r *PostgresRepository) SetPendingSubscriptionTxRef(ctx context.Context, userID uuid.UUID, txRef *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET pending_subscription_tx_ref = $2, updated_at = NOW() WHERE id = $1`, userID, txRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListExpiredSubscribers returns Pro users whose paid period has elapsed.
func (r *PostgresRepository) ListExpiredSubscribers(ctx context.Context, now time.Time) ([]domain.User, error) {
	query := `SELECT ` + userColumns + `
        FROM users
        WHERE is_pro = TRUE
          AND subscription_status IN ('active', 'past_due', 'cancelled')
          AND subscription_end_date < $1
        ORDER BY subscription_end_date ASC`
	return r.queryUsers(ctx, query, now)
}

// ListRenewalCandidates returns active auto-renewing subscribers whose period
// ends within the lookahead window.
func (r *PostgresRepository) ListRenewalCandidates(ctx context.Context, now time.Time, window time.Duration) ([]domain.User, error) {
	query := `SELECT ` + userColumns + `
        FROM users
        WHERE is_pro = TRUE
          AND auto_renewal = TRUE
          AND subscription_status = 'active'
          AND subscription_end_date >= $1
          AND subscription_end_date <= $2
        ORDER BY subscription_end_date ASC`
	return r.queryUsers(ctx, query, now, now.Add(window))
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.FullName,
			&u.Wallet.Balance, &u.Wallet.TotalEarnings, &u.Wallet.TotalSpent,
			&u.IsPro, &u.SubscriptionStatus, &u.SubscriptionPlanID,
			&u.SubscriptionStart, &u.SubscriptionEnd, &u.AutoRenewal,
			&u.PendingSubscriptionTxRef, &u.PaymentMethodToken,
			&u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// EnrollUserInCourse adds the course to the user's enrolled set. The insert is
// idempotent; the return value reports whether a new row was written.
func (r *PostgresRepository) EnrollUserInCourse(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	query := `
        INSERT INTO course_enrollments (user_id, course_id, enrolled_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (user_id, course_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, userID, courseID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const planColumns = `id, name, price, currency, duration, features, limits, is_active, created_at, updated_at`

func scanPlan(row pgx.Row) (*domain.SubscriptionPlan, error) {
	var p domain.SubscriptionPlan
	var features, limits []byte
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Duration, &features, &limits, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("failed to decode plan features: %w", err)
		}
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &p.Limits); err != nil {
			return nil, fmt.Errorf("failed to decode plan limits: %w", err)
		}
	}
	return &p, nil
}

// GetPlanByID retrieves one plan.
func (r *PostgresRepository) GetPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	return scanPlan(r.db.QueryRow(ctx, query, planID))
}

// ListActivePlans retrieves the publicly visible catalog, cheapest first.
func (r *PostgresRepository) ListActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE is_active = TRUE ORDER BY price ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.SubscriptionPlan
	for rows.Next() {
		var p domain.SubscriptionPlan
		var features, limits []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Duration, &features, &limits, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(features) > 0 {
			if err := json.Unmarshal(features, &p.Features); err != nil {
				return nil, fmt.Errorf("failed to decode plan features: %w", err)
			}
		}
		if len(limits) > 0 {
			if err := json.Unmarshal(limits, &p.Limits); err != nil {
				return nil, fmt.Errorf("failed to decode plan limits: %w", err)
			}
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// CreatePlan inserts a new catalog entry.
func (r *PostgresRepository) CreatePlan(ctx context.Context, plan *domain.SubscriptionPlan) error {
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return err
	}
	limits, err := json.Marshal(plan.Limits)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO subscription_plans (id, name, price, currency, duration, features, limits, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`
	_, err = r.db.Exec(ctx, query, plan.ID, plan.Name, plan.Price, plan.Currency, plan.Duration, features, limits, plan.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPlanNameTaken
		}
		return err
	}
	return nil
}

// UpdatePlan rewrites a catalog entry. Historical transactions are unaffected
// since they snapshot the plan id and amount at initiation time.
func (r *PostgresRepository) UpdatePlan(ctx context.Context, plan *domain.SubscriptionPlan) error {
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return err
	}
	limits, err := json.Marshal(plan.Limits)
	if err != nil {
		return err
	}

	query := `
        UPDATE subscription_plans
        SET name = $2, price = $3, currency = $4, duration = $5,
            features = $6, limits = $7, is_active = $8, updated_at = NOW()
        WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, plan.ID, plan.Name, plan.Price, plan.Currency, plan.Duration, features, limits, plan.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPlanNameTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}
