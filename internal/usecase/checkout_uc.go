// File: internal/usecase/checkout_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/adapter"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutUseCase interface {
	// Initiate creates a provider order and records a pending transaction for
	// it. The returned URL is where the buyer approves the payment.
	Initiate(ctx context.Context, userID, planID string, isUpgrade bool, upgradeFromPlanID string) (*model.Transaction, string, error)
}

type checkoutUC struct {
	txns    repository.TransactionRepository
	plans   repository.PlanRepository
	gateway adapter.PaymentGateway
	log     *zerolog.Logger
}

func NewCheckoutUseCase(txns repository.TransactionRepository, plans repository.PlanRepository, gateway adapter.PaymentGateway, logger *zerolog.Logger) *checkoutUC {
	l := logger.With().Str("component", "CheckoutUC").Logger()
	return &checkoutUC{txns: txns, plans: plans, gateway: gateway, log: &l}
}

func (uc *checkoutUC) Initiate(ctx context.Context, userID, planID string, isUpgrade bool, upgradeFromPlanID string) (*model.Transaction, string, error) {
	if userID == "" || planID == "" {
		return nil, "", domain.ErrInvalidArgument
	}
	plan, err := uc.plans.FindByID(ctx, nil, planID)
	if err != nil {
		return nil, "", err
	}

	reference := userID + ":" + planID
	orderID, approveURL, err := uc.gateway.CreateOrder(ctx, plan.PriceCents, plan.Currency, reference)
	if err != nil {
		return nil, "", err
	}

	t := &model.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    planID,
		OrderID:   &orderID,
		Amount:    plan.PriceCents,
		Currency:  plan.Currency,
		Status:    model.TransactionStatusPending,
		IsUpgrade: isUpgrade,
		CreatedAt: time.Now(),
	}
	if isUpgrade && upgradeFromPlanID != "" {
		t.UpgradeFromPlanID = &upgradeFromPlanID
	}
	if err := uc.txns.Save(ctx, nil, t); err != nil {
		return nil, "", err
	}
	uc.log.Info().Str("transaction_id", t.ID).Str("order_id", orderID).Str("plan_id", planID).Msg("checkout initiated")
	return t, approveURL, nil
}
