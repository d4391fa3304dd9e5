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

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const txnCols = `id, user_id, plan_id, order_id, payment_id, amount, currency, status, is_upgrade, upgrade_from_plan_id, error_message, created_at, completed_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (
  id, user_id, plan_id, order_id, payment_id, amount, currency, status, is_upgrade, upgrade_from_plan_id, error_message, created_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  order_id=$4, payment_id=$5, amount=$6, currency=$7, status=$8, is_upgrade=$9, upgrade_from_plan_id=$10, error_message=$11, completed_at=$13;`

	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.UserID, t.PlanID, t.OrderID, t.PaymentID, t.Amount, t.Currency, t.Status, t.IsUpgrade, t.UpgradeFromPlanID, t.ErrorMessage, t.CreatedAt, t.CompletedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	const q = `SELECT ` + txnCols + ` FROM transactions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

// Find applies the dual-match rule: when both identifiers are present, both
// must match the SAME row (AND, not OR). Matching on "either" risks adopting
// an unrelated transaction when an identifier is reused or stale. The newest
// row wins, defending against historical duplicates.
func (r *transactionRepo) Find(ctx context.Context, tx repository.Tx, q repository.TransactionQuery) (*model.Transaction, error) {
	if q.OrderID == "" && q.PaymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	const sql = `
SELECT ` + txnCols + `
  FROM transactions
 WHERE ($1 = '' OR order_id = $1)
   AND ($2 = '' OR payment_id = $2)
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, sql, q.OrderID, q.PaymentID)
}

func (r *transactionRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, paymentID string) (*model.Transaction, error) {
	// completed_at survives re-runs; marking twice with the same capture id
	// is a no-op in effect. A failed transaction stays failed: resurrection
	// goes through manual recovery, never through a verify or webhook path.
	const q = `
UPDATE transactions
   SET status='completed',
       payment_id=$2,
       completed_at=COALESCE(completed_at, NOW()),
       error_message=NULL
 WHERE id=$1 AND status <> 'failed'
RETURNING ` + txnCols + `;`
	t, err := r.queryOne(ctx, tx, q, id, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		// Tell a missing row apart from one the failed guard held back.
		if cur, ferr := r.FindByID(ctx, tx, id); ferr == nil && cur.Status == model.TransactionStatusFailed {
			return nil, domain.ErrTerminalState
		}
	}
	return t, err
}

func (r *transactionRepo) MarkApproved(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE transactions SET status='approved' WHERE id=$1 AND status='pending';`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) error {
	// Completed transactions are never demoted to failed.
	const q = `UPDATE transactions SET status='failed', error_message=$2 WHERE id=$1 AND status <> 'completed';`
	_, err := execSQL(ctx, r.pool, tx, q, id, reason)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindOrphaned(ctx context.Context, tx repository.Tx, userID, planID string) ([]*model.Transaction, error) {
	const q = `
SELECT ` + txnCols + `
  FROM transactions t
 WHERE t.status='completed'
   AND ($1 = '' OR t.user_id = $1)
   AND ($2 = '' OR t.plan_id = $2)
   AND NOT EXISTS (
         SELECT 1 FROM user_subscriptions s
          WHERE s.user_id = t.user_id AND s.plan_id = t.plan_id AND s.status = 'active')
 ORDER BY t.created_at ASC;`
	return r.queryMany(ctx, tx, q, userID, planID)
}

func (r *transactionRepo) ListPendingCapturable(ctx context.Context, tx repository.Tx, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + txnCols + `
  FROM transactions
 WHERE status='pending' AND order_id IS NOT NULL AND payment_id IS NULL
 ORDER BY created_at ASC
 LIMIT $1;`
	return r.queryMany(ctx, tx, q, limit)
}

func (r *transactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM transactions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.TransactionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.TransactionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *transactionRepo) SumCompletedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM transactions WHERE status='completed' AND completed_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *transactionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Transaction, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	t := &model.Transaction{}
	if err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Currency, &t.Status, &t.IsUpgrade, &t.UpgradeFromPlanID, &t.ErrorMessage, &t.CreatedAt, &t.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *transactionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Transaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t := new(model.Transaction)
		if err := rows.Scan(&t.ID, &t.UserID, &t.PlanID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Currency, &t.Status, &t.IsUpgrade, &t.UpgradeFromPlanID, &t.ErrorMessage, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
