//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/adapter"
	"prompt-market-payments/internal/usecase"
)

type sweepUCTestDeps struct {
	txns    *memTransactionRepo
	subs    *memSubscriptionRepo
	gateway *MockPaymentGateway
	uc      usecase.SweepUseCase
}

func newSweepUCDeps() *sweepUCTestDeps {
	d := &sweepUCTestDeps{
		txns:    newMemTransactionRepo(),
		subs:    newMemSubscriptionRepo(),
		gateway: &MockPaymentGateway{},
	}
	plans := newMemPlanRepo()
	days := 30
	plans.add(&model.Plan{ID: "plan-1", Name: "Pro", PriceCents: 2999, Currency: "USD", DurationDays: &days})
	subUC := usecase.NewSubscriptionUseCase(d.subs, plans, &MockTxManager{}, newTestLogger())
	d.uc = usecase.NewSweepUseCase(d.txns, subUC, d.gateway, newTestLogger())
	return d
}

func agedTxn(id, orderID string, age time.Duration) *model.Transaction {
	t := pendingTxn(id, orderID)
	t.CreatedAt = time.Now().Add(-age)
	return t
}

func TestSweepUseCase_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should capture orders the buyer approved", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return &adapter.OrderResult{OK: true, Status: "APPROVED"}, nil
		}
		deps.gateway.CaptureOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return &adapter.OrderResult{OK: true, Status: "COMPLETED", CaptureID: "CAP-S1"}, nil
		}

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Processed != 1 || rep.Captured != 1 {
			t.Errorf("expected 1 processed / 1 captured, got %d/%d", rep.Processed, rep.Captured)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if !stored.Completed() || *stored.PaymentID != "CAP-S1" {
			t.Error("expected transaction completed with the sweep capture id")
		}
		if _, err := deps.subs.FindActiveByUserAndPlan(ctx, nil, "user-1", "plan-1"); err != nil {
			t.Error("expected the captured purchase to be materialized")
		}
	})

	t.Run("should finalize provider-completed orders without a second capture", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return &adapter.OrderResult{OK: true, Status: "COMPLETED", CaptureID: "CAP-WH"}, nil
		}

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Captured != 1 {
			t.Errorf("expected 1 captured, got %d", rep.Captured)
		}
		if deps.gateway.Calls.CaptureOrder != 0 {
			t.Errorf("expected no capture call, got %d", deps.gateway.Calls.CaptureOrder)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if !stored.Completed() || *stored.PaymentID != "CAP-WH" {
			t.Error("expected the out-of-band capture id adopted")
		}
	})

	t.Run("should expire a transaction stuck past the age threshold", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", 25*time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return &adapter.OrderResult{OK: true, Status: "CREATED"}, nil
		}

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Expired != 1 {
			t.Errorf("expected 1 expired, got %d", rep.Expired)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusFailed {
			t.Errorf("expected failed status, got %s", stored.Status)
		}
		if stored.ErrorMessage == nil || *stored.ErrorMessage != "expired" {
			t.Errorf("expected error message %q, got %v", "expired", stored.ErrorMessage)
		}
	})

	t.Run("should skip a young transaction when the provider is inconclusive", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return nil, domain.ErrProviderUnavailable
		}

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Skipped != 1 {
			t.Errorf("expected 1 skipped, got %d", rep.Skipped)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusPending {
			t.Errorf("young transaction must stay pending, got %s", stored.Status)
		}
	})

	t.Run("should expire an old transaction even when the provider is unreachable", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", 8*24*time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return nil, domain.ErrProviderUnavailable
		}

		rep, err := deps.uc.Run(ctx, 7*24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Expired != 1 {
			t.Errorf("expected 1 expired, got %d", rep.Expired)
		}
	})

	t.Run("should mark a declined order failed", func(t *testing.T) {
		deps := newSweepUCDeps()
		deps.txns.Save(ctx, nil, agedTxn("txn-1", "ORDER-1", time.Hour))
		deps.gateway.FetchOrderFunc = func(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
			return &adapter.OrderResult{OK: true, Status: "VOIDED"}, nil
		}

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Failed != 1 {
			t.Errorf("expected 1 failed, got %d", rep.Failed)
		}
	})

	t.Run("should only pick up pending transactions with an order id and no capture", func(t *testing.T) {
		deps := newSweepUCDeps()
		done := agedTxn("txn-done", "ORDER-DONE", time.Hour)
		done.Status = model.TransactionStatusCompleted
		done.PaymentID = strPtr("CAP-X")
		deps.txns.Save(ctx, nil, done)
		legacy := agedTxn("txn-legacy", "", time.Hour)
		legacy.OrderID = nil
		deps.txns.Save(ctx, nil, legacy)

		rep, err := deps.uc.Run(ctx, 24*time.Hour, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Processed != 0 {
			t.Errorf("expected nothing processed, got %d", rep.Processed)
		}
		if deps.gateway.Calls.FetchOrder != 0 {
			t.Error("expected no provider calls")
		}
	})
}
