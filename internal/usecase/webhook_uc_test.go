//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
	"prompt-market-payments/internal/usecase"
)

type webhookUCTestDeps struct {
	txns   *memTransactionRepo
	subs   *memSubscriptionRepo
	events *memWebhookEventRepo
	uc     usecase.WebhookUseCase
}

func newWebhookUCDeps() *webhookUCTestDeps {
	d := &webhookUCTestDeps{
		txns:   newMemTransactionRepo(),
		subs:   newMemSubscriptionRepo(),
		events: newMemWebhookEventRepo(),
	}
	plans := newMemPlanRepo()
	days := 30
	plans.add(&model.Plan{ID: "plan-1", Name: "Pro", PriceCents: 2999, Currency: "USD", DurationDays: &days})
	subUC := usecase.NewSubscriptionUseCase(d.subs, plans, &MockTxManager{}, newTestLogger())
	d.uc = usecase.NewWebhookUseCase(d.txns, d.events, subUC, newTestLogger())
	return d
}

func captureEvent(id, eventType, captureID, orderID string) *usecase.IngressEvent {
	resource := map[string]interface{}{
		"id":     captureID,
		"status": "COMPLETED",
		"supplementary_data": map[string]interface{}{
			"related_ids": map[string]interface{}{"order_id": orderID},
		},
	}
	raw, _ := json.Marshal(resource)
	return &usecase.IngressEvent{ID: id, EventType: eventType, ResourceType: "capture", Resource: raw}
}

func orderEvent(id, eventType, orderID string) *usecase.IngressEvent {
	raw, _ := json.Marshal(map[string]interface{}{"id": orderID, "status": "APPROVED"})
	return &usecase.IngressEvent{ID: id, EventType: eventType, ResourceType: "checkout-order", Resource: raw}
}

func TestWebhookUseCase_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a malformed event", func(t *testing.T) {
		deps := newWebhookUCDeps()
		if _, err := deps.uc.Handle(ctx, &usecase.IngressEvent{EventType: "X"}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for missing resource, got %v", err)
		}
		if _, err := deps.uc.Handle(ctx, &usecase.IngressEvent{Resource: json.RawMessage(`{}`)}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for missing event type, got %v", err)
		}
	})

	t.Run("should mark a pending transaction approved", func(t *testing.T) {
		deps := newWebhookUCDeps()
		deps.txns.Save(ctx, nil, pendingTxn("txn-1", "ORDER-1"))

		disp, err := deps.uc.Handle(ctx, orderEvent("WH-1", "CHECKOUT.ORDER.APPROVED", "ORDER-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "transaction approved" {
			t.Errorf("unexpected disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusApproved {
			t.Errorf("expected approved, got %s", stored.Status)
		}
	})

	t.Run("should complete the transaction and grant the subscription on capture completed", func(t *testing.T) {
		deps := newWebhookUCDeps()
		deps.txns.Save(ctx, nil, pendingTxn("txn-1", "ORDER-1"))

		disp, err := deps.uc.Handle(ctx, captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-1", "ORDER-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "transaction completed" {
			t.Errorf("unexpected disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if !stored.Completed() || *stored.PaymentID != "CAP-1" {
			t.Error("expected transaction completed with CAP-1")
		}
		if _, err := deps.subs.FindActiveByUserAndPlan(ctx, nil, "user-1", "plan-1"); err != nil {
			t.Error("expected an active subscription after the completion event")
		}
	})

	t.Run("should acknowledge a redelivered event without reprocessing", func(t *testing.T) {
		deps := newWebhookUCDeps()
		deps.txns.Save(ctx, nil, pendingTxn("txn-1", "ORDER-1"))

		evt := captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-1", "ORDER-1")
		if _, err := deps.uc.Handle(ctx, evt); err != nil {
			t.Fatalf("first delivery: %v", err)
		}
		disp, err := deps.uc.Handle(ctx, evt)
		if err != nil {
			t.Fatalf("redelivery must be acknowledged, got %v", err)
		}
		if disp != "duplicate event ignored" {
			t.Errorf("unexpected disposition %q", disp)
		}
		if deps.txns.MarkCompletedCalls != 1 {
			t.Errorf("expected one completion write, got %d", deps.txns.MarkCompletedCalls)
		}
	})

	t.Run("should reprocess a redelivery after a handler failure", func(t *testing.T) {
		deps := newWebhookUCDeps()
		deps.txns.Save(ctx, nil, pendingTxn("txn-1", "ORDER-1"))
		deps.txns.MarkCompletedFunc = func(ctx context.Context, tx repository.Tx, id, paymentID string) (*model.Transaction, error) {
			return nil, domain.ErrOperationFailed
		}

		evt := captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-1", "ORDER-1")
		if _, err := deps.uc.Handle(ctx, evt); err == nil {
			t.Fatal("expected the first delivery to fail")
		}

		// The store recovers before the provider redelivers the same event id.
		deps.txns.MarkCompletedFunc = nil
		disp, err := deps.uc.Handle(ctx, evt)
		if err != nil {
			t.Fatalf("redelivery after a failure: %v", err)
		}
		if disp != "transaction completed" {
			t.Errorf("redelivery was dropped with disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if !stored.Completed() {
			t.Error("expected the transaction completed on redelivery")
		}
		if _, err := deps.subs.FindActiveByUserAndPlan(ctx, nil, "user-1", "plan-1"); err != nil {
			t.Error("expected an active subscription after the redelivery")
		}
	})

	t.Run("should acknowledge a capture event for a transaction that already failed", func(t *testing.T) {
		deps := newWebhookUCDeps()
		txn := pendingTxn("txn-1", "ORDER-1")
		txn.Status = model.TransactionStatusFailed
		txn.ErrorMessage = strPtr("expired")
		deps.txns.Save(ctx, nil, txn)

		disp, err := deps.uc.Handle(ctx, captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-1", "ORDER-1"))
		if err != nil {
			t.Fatalf("the conflict must be acknowledged, not retried: %v", err)
		}
		if disp != "transaction already failed; flagged for manual recovery" {
			t.Errorf("unexpected disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusFailed {
			t.Errorf("failed transaction was resurrected to %s", stored.Status)
		}
		if n := len(deps.subs.all()); n != 0 {
			t.Errorf("expected no subscription rows, got %d", n)
		}
	})

	t.Run("should not demote a completed transaction on a denial event", func(t *testing.T) {
		deps := newWebhookUCDeps()
		txn := pendingTxn("txn-1", "ORDER-1")
		txn.Status = model.TransactionStatusCompleted
		txn.PaymentID = strPtr("CAP-1")
		deps.txns.Save(ctx, nil, txn)

		disp, err := deps.uc.Handle(ctx, captureEvent("WH-2", "PAYMENT.CAPTURE.DENIED", "CAP-1", "ORDER-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "transaction already completed; denial ignored" {
			t.Errorf("unexpected disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusCompleted {
			t.Errorf("completed transaction was demoted to %s", stored.Status)
		}
	})

	t.Run("should mark a pending transaction failed on denial", func(t *testing.T) {
		deps := newWebhookUCDeps()
		deps.txns.Save(ctx, nil, pendingTxn("txn-1", "ORDER-1"))

		disp, err := deps.uc.Handle(ctx, captureEvent("WH-1", "PAYMENT.CAPTURE.DENIED", "CAP-1", "ORDER-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "transaction failed" {
			t.Errorf("unexpected disposition %q", disp)
		}
		stored, _ := deps.txns.FindByID(ctx, nil, "txn-1")
		if stored.Status != model.TransactionStatusFailed {
			t.Errorf("expected failed, got %s", stored.Status)
		}
	})

	t.Run("should acknowledge events with no matching transaction", func(t *testing.T) {
		deps := newWebhookUCDeps()
		disp, err := deps.uc.Handle(ctx, captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-X", "ORDER-X"))
		if err != nil {
			t.Fatalf("expected graceful acknowledgement, got %v", err)
		}
		if disp != "no matching transaction" {
			t.Errorf("unexpected disposition %q", disp)
		}
	})

	t.Run("should ignore unhandled event types", func(t *testing.T) {
		deps := newWebhookUCDeps()
		disp, err := deps.uc.Handle(ctx, orderEvent("WH-1", "BILLING.SUBSCRIPTION.CREATED", "ORDER-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "event type not handled" {
			t.Errorf("unexpected disposition %q", disp)
		}
	})

	t.Run("should fall back to the capture id when the order id is unknown", func(t *testing.T) {
		deps := newWebhookUCDeps()
		txn := pendingTxn("txn-1", "ORDER-GONE")
		txn.OrderID = nil
		txn.PaymentID = strPtr("CAP-1")
		deps.txns.Save(ctx, nil, txn)

		disp, err := deps.uc.Handle(ctx, captureEvent("WH-1", "PAYMENT.CAPTURE.COMPLETED", "CAP-1", "ORDER-OTHER"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if disp != "transaction completed" {
			t.Errorf("unexpected disposition %q", disp)
		}
	})
}
