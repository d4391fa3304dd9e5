// File: internal/usecase/recovery_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ RecoveryUseCase = (*recoveryUC)(nil)

// RecoveryReport summarizes one orphan recovery pass.
type RecoveryReport struct {
	Recovered int      `json:"recovered"`
	Errors    []string `json:"errors"`
}

type RecoveryUseCase interface {
	// Recover scans for completed transactions lacking an active subscription
	// and materializes the missing entitlement for each. userID and planID
	// narrow the scan; both empty means all users.
	Recover(ctx context.Context, userID, planID string) (*RecoveryReport, error)
	// HasActiveSubscription reports whether (user, plan) currently holds an
	// active subscription. Used by the verification heuristic: a subscription
	// cannot exist without a prior successful capture.
	HasActiveSubscription(ctx context.Context, userID, planID string) bool
}

type recoveryUC struct {
	txns  repository.TransactionRepository
	subs  repository.SubscriptionRepository
	subUC SubscriptionUseCase
	log   *zerolog.Logger
}

func NewRecoveryUseCase(txns repository.TransactionRepository, subs repository.SubscriptionRepository, subUC SubscriptionUseCase, logger *zerolog.Logger) *recoveryUC {
	l := logger.With().Str("component", "RecoveryUC").Logger()
	return &recoveryUC{txns: txns, subs: subs, subUC: subUC, log: &l}
}

func (uc *recoveryUC) Recover(ctx context.Context, userID, planID string) (*RecoveryReport, error) {
	orphans, err := uc.txns.FindOrphaned(ctx, nil, userID, planID)
	if err != nil {
		return nil, err
	}

	rep := &RecoveryReport{Errors: []string{}}
	for _, t := range orphans {
		pid := ""
		if t.PaymentID != nil {
			pid = *t.PaymentID
		}
		upgradeFrom := ""
		if t.UpgradeFromPlanID != nil {
			upgradeFrom = *t.UpgradeFromPlanID
		}
		_, err := uc.subUC.Materialize(ctx, MaterializeInput{
			UserID:            t.UserID,
			PlanID:            t.PlanID,
			PaymentID:         pid,
			TransactionID:     t.ID,
			IsUpgrade:         t.IsUpgrade,
			UpgradeFromPlanID: upgradeFrom,
		})
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("transaction %s: %v", t.ID, err))
			uc.log.Error().Err(err).Str("transaction_id", t.ID).Msg("orphan repair failed")
			continue
		}
		rep.Recovered++
		uc.log.Info().Str("transaction_id", t.ID).Str("user_id", t.UserID).Msg("orphaned transaction repaired")
	}
	return rep, nil
}

func (uc *recoveryUC) HasActiveSubscription(ctx context.Context, userID, planID string) bool {
	s, err := uc.subs.FindActiveByUserAndPlan(ctx, nil, userID, planID)
	return err == nil && s != nil && s.Status == model.SubscriptionStatusActive
}
