package repository

import (
	"context"

	"prompt-market-payments/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.UserSubscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.UserSubscription, error)
	// FindActiveByPaymentRef matches an active row whose payment_id OR
	// transaction_id equals the given references (either may be empty).
	FindActiveByPaymentRef(ctx context.Context, tx Tx, paymentID, transactionID string) (*model.UserSubscription, error)
	FindActiveByUserAndPlan(ctx context.Context, tx Tx, userID, planID string) (*model.UserSubscription, error)
	// UpdatePaymentRef refreshes payment_id/transaction_id on an existing row.
	UpdatePaymentRef(ctx context.Context, tx Tx, id, paymentID, transactionID string) error
	Cancel(ctx context.Context, tx Tx, id string) error
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
