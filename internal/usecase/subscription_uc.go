// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// MaterializeInput identifies the entitlement to ensure.
type MaterializeInput struct {
	UserID        string
	PlanID        string
	PaymentID     string
	TransactionID string
	// Upgrade replacement: when set, the active subscription on the source
	// plan is cancelled after the new one is materialized.
	IsUpgrade         bool
	UpgradeFromPlanID string
}

// MaterializeResult reports explicitly whether a row was inserted or an
// existing one updated, instead of inferring it from timestamps.
type MaterializeResult struct {
	Subscription *model.UserSubscription
	Created      bool
	Updated      bool
}

type SubscriptionUseCase interface {
	// Materialize idempotently ensures exactly one active subscription exists
	// for (user, plan). Safe to call repeatedly with different payment or
	// transaction ids for the same entitlement.
	Materialize(ctx context.Context, in MaterializeInput) (*MaterializeResult, error)
	Cancel(ctx context.Context, subscriptionID string) error
}

type subscriptionUC struct {
	subs  repository.SubscriptionRepository
	plans repository.PlanRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, plans repository.PlanRepository, tm repository.TransactionManager, logger *zerolog.Logger) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{subs: subs, plans: plans, tm: tm, log: &l}
}

func (uc *subscriptionUC) Materialize(ctx context.Context, in MaterializeInput) (*MaterializeResult, error) {
	if in.UserID == "" || in.PlanID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if uc.tm == nil {
		res, err := uc.materialize(ctx, nil, in)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return uc.adoptWinner(ctx, in)
		}
		return res, err
	}
	var res *MaterializeResult
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, err = uc.materialize(ctx, tx, in)
		return err
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost the insert race to a concurrent materialization. The unique
		// violation aborted the transaction above, so the winner is adopted
		// only after it rolled back.
		return uc.adoptWinner(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// adoptWinner refreshes the payment references on the subscription a
// concurrent call inserted first.
func (uc *subscriptionUC) adoptWinner(ctx context.Context, in MaterializeInput) (*MaterializeResult, error) {
	winner, err := uc.subs.FindActiveByUserAndPlan(ctx, nil, in.UserID, in.PlanID)
	if err != nil {
		return nil, err
	}
	if err := uc.subs.UpdatePaymentRef(ctx, nil, winner.ID, in.PaymentID, in.TransactionID); err != nil {
		return nil, err
	}
	if in.PaymentID != "" {
		winner.PaymentID = &in.PaymentID
	}
	if in.TransactionID != "" {
		winner.TransactionID = &in.TransactionID
	}
	return &MaterializeResult{Subscription: winner, Updated: true}, nil
}

// materialize runs the lookup-before-insert sequence. The order matters:
// ref match first (a concurrent call already finished), then (user, plan)
// update-in-place, then insert. The partial unique index on
// (user_id, plan_id) WHERE status='active' closes the remaining window.
func (uc *subscriptionUC) materialize(ctx context.Context, tx repository.Tx, in MaterializeInput) (*MaterializeResult, error) {
	if in.PaymentID != "" || in.TransactionID != "" {
		if existing, err := uc.subs.FindActiveByPaymentRef(ctx, tx, in.PaymentID, in.TransactionID); err == nil && existing != nil {
			return &MaterializeResult{Subscription: existing}, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if existing, err := uc.subs.FindActiveByUserAndPlan(ctx, tx, in.UserID, in.PlanID); err == nil && existing != nil {
		// A later payment event re-confirmed the same entitlement: refresh the
		// references rather than inserting a duplicate row.
		if err := uc.subs.UpdatePaymentRef(ctx, tx, existing.ID, in.PaymentID, in.TransactionID); err != nil {
			return nil, err
		}
		if in.PaymentID != "" {
			existing.PaymentID = &in.PaymentID
		}
		if in.TransactionID != "" {
			existing.TransactionID = &in.TransactionID
		}
		return &MaterializeResult{Subscription: existing, Updated: true}, nil
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	plan, err := uc.plans.FindByID(ctx, tx, in.PlanID)
	if err != nil {
		return nil, err
	}

	var payID, txnID *string
	if in.PaymentID != "" {
		payID = &in.PaymentID
	}
	if in.TransactionID != "" {
		txnID = &in.TransactionID
	}
	sub, err := model.NewUserSubscription(uuid.NewString(), in.UserID, plan, payID, txnID)
	if err != nil {
		return nil, err
	}
	if err := uc.subs.Save(ctx, tx, sub); err != nil {
		// On domain.ErrAlreadyExists the unique violation has poisoned the
		// surrounding transaction; Materialize adopts the winner outside it.
		return nil, err
	}

	if in.IsUpgrade && in.UpgradeFromPlanID != "" && in.UpgradeFromPlanID != in.PlanID {
		if old, err := uc.subs.FindActiveByUserAndPlan(ctx, tx, in.UserID, in.UpgradeFromPlanID); err == nil && old != nil {
			if cerr := uc.subs.Cancel(ctx, tx, old.ID); cerr != nil {
				uc.log.Warn().Err(cerr).Str("subscription_id", old.ID).Msg("upgrade: cancel of source plan failed")
			}
		}
	}

	return &MaterializeResult{Subscription: sub, Created: true}, nil
}

func (uc *subscriptionUC) Cancel(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return domain.ErrInvalidArgument
	}
	return uc.subs.Cancel(ctx, nil, subscriptionID)
}
