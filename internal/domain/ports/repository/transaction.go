package repository

import (
	"context"

	"prompt-market-payments/internal/domain/model"
)

// TransactionQuery selects a transaction by provider identifiers. When both
// are set the match requires BOTH on the same row (AND, never OR): matching on
// either one risks returning an unrelated transaction when an identifier has
// been reused or gone stale.
type TransactionQuery struct {
	OrderID   string
	PaymentID string
}

type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)
	// Find applies the dual-match rule above; newest row wins when historical
	// duplicates exist. Returns domain.ErrNotFound when nothing matches.
	Find(ctx context.Context, tx Tx, q TransactionQuery) (*model.Transaction, error)
	// MarkCompleted sets status=completed, completed_at=now, clears
	// error_message and stores the capture id. Re-running with the same
	// payment id is a semantic no-op.
	MarkCompleted(ctx context.Context, tx Tx, id, paymentID string) (*model.Transaction, error)
	MarkApproved(ctx context.Context, tx Tx, id string) error
	MarkFailed(ctx context.Context, tx Tx, id, reason string) error
	// FindOrphaned returns completed transactions with no joined active
	// subscription, optionally narrowed to a user and/or plan.
	FindOrphaned(ctx context.Context, tx Tx, userID, planID string) ([]*model.Transaction, error)
	// ListPendingCapturable returns pending transactions that have an order id
	// but no payment id, oldest first, bounded by limit.
	ListPendingCapturable(ctx context.Context, tx Tx, limit int) ([]*model.Transaction, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.TransactionStatus]int, error)
	SumCompletedByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
