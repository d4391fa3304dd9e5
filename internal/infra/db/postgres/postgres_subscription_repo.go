package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subCols = `id, user_id, plan_id, payment_method, payment_id, transaction_id, status, start_date, end_date, created_at, updated_at`

// Save inserts or updates one subscription row. The partial unique index
// uq_user_subscriptions_active on (user_id, plan_id) WHERE status='active'
// turns a concurrent duplicate insert into ErrAlreadyExists, which the
// materializer resolves by adopting the winning row.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	const q = `
INSERT INTO user_subscriptions (
  id, user_id, plan_id, payment_method, payment_id, transaction_id, status, start_date, end_date, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  payment_method=$4, payment_id=$5, transaction_id=$6, status=$7, start_date=$8, end_date=$9, updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, s.PaymentMethod, s.PaymentID, s.TransactionID, s.Status, s.StartDate, s.EndDate, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	const q = `SELECT ` + subCols + ` FROM user_subscriptions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindActiveByPaymentRef(ctx context.Context, tx repository.Tx, paymentID, transactionID string) (*model.UserSubscription, error) {
	if paymentID == "" && transactionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	const q = `
SELECT ` + subCols + `
  FROM user_subscriptions
 WHERE status='active'
   AND (($1 <> '' AND payment_id = $1) OR ($2 <> '' AND transaction_id = $2))
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, paymentID, transactionID)
}

func (r *subscriptionRepo) FindActiveByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planID string) (*model.UserSubscription, error) {
	const q = `
SELECT ` + subCols + `
  FROM user_subscriptions
 WHERE user_id=$1 AND plan_id=$2 AND status='active'
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID, planID)
}

func (r *subscriptionRepo) UpdatePaymentRef(ctx context.Context, tx repository.Tx, id, paymentID, transactionID string) error {
	const q = `
UPDATE user_subscriptions
   SET payment_id = COALESCE(NULLIF($2,''), payment_id),
       transaction_id = COALESCE(NULLIF($3,''), transaction_id),
       updated_at = NOW()
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, paymentID, transactionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) Cancel(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE user_subscriptions SET status='cancelled', updated_at=NOW() WHERE id=$1 AND status='active';`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM user_subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.UserSubscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	s := &model.UserSubscription{}
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.PaymentMethod, &s.PaymentID, &s.TransactionID, &s.Status, &s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}
