package repository

import (
	"context"

	"prompt-market-payments/internal/domain/model"
)

// PlanRepository is read-only here; plan CRUD belongs to the marketplace.
type PlanRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
