// File: internal/usecase/stats_uc.go
package usecase

import (
	"context"

	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Totals(ctx context.Context) (map[model.TransactionStatus]int, map[model.SubscriptionStatus]int, error)
	// Revenue returns completed amounts summed per week / month / year.
	Revenue(ctx context.Context) (week, month, year int64, err error)
}

type statsUC struct {
	txns repository.TransactionRepository
	subs repository.SubscriptionRepository
}

func NewStatsUseCase(txns repository.TransactionRepository, subs repository.SubscriptionRepository) *statsUC {
	return &statsUC{txns: txns, subs: subs}
}

func (uc *statsUC) Totals(ctx context.Context) (map[model.TransactionStatus]int, map[model.SubscriptionStatus]int, error) {
	txCounts, err := uc.txns.CountByStatus(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	subCounts, err := uc.subs.CountByStatus(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return txCounts, subCounts, nil
}

func (uc *statsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	week, err := uc.txns.SumCompletedByPeriod(ctx, nil, "week")
	if err != nil {
		return 0, 0, 0, err
	}
	month, err := uc.txns.SumCompletedByPeriod(ctx, nil, "month")
	if err != nil {
		return 0, 0, 0, err
	}
	year, err := uc.txns.SumCompletedByPeriod(ctx, nil, "year")
	if err != nil {
		return 0, 0, 0, err
	}
	return week, month, year, nil
}
