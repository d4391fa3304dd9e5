package model

import (
	"time"

	"prompt-market-payments/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// UserSubscription is one entitlement grant. At most one row per (user, plan)
// may be active; the store enforces this with a partial unique index.
type UserSubscription struct {
	ID            string  // UUID
	UserID        string  // UUID
	PlanID        string  // UUID
	PaymentMethod string  // e.g. "paypal"
	PaymentID     *string // provider capture id that paid for this grant
	TransactionID *string // local transaction that produced it
	Status        SubscriptionStatus
	StartDate     time.Time
	EndDate       *time.Time // nil means lifetime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUserSubscription builds an active subscription for a plan. EndDate is nil
// for lifetime plans, otherwise now + plan duration (365 days when the plan
// does not specify one).
func NewUserSubscription(id, userID string, plan *Plan, paymentID, transactionID *string) (*UserSubscription, error) {
	if id == "" || userID == "" || plan == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	s := &UserSubscription{
		ID:            id,
		UserID:        userID,
		PlanID:        plan.ID,
		PaymentMethod: "paypal",
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Status:        SubscriptionStatusActive,
		StartDate:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !plan.IsLifetime {
		end := now.Add(time.Duration(plan.EffectiveDurationDays()) * 24 * time.Hour)
		s.EndDate = &end
	}
	return s, nil
}
