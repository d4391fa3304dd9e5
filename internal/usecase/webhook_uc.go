// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// IngressEvent is the parsed provider push notification.
type IngressEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// webhookResource covers the fields this pipeline needs from either an order
// or a capture resource.
type webhookResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type WebhookUseCase interface {
	// Handle routes one provider event to the same idempotent store and
	// materializer operations the synchronous path uses. It never re-derives
	// the verification state machine. The returned string is a short
	// human-readable disposition for the acknowledgement body.
	Handle(ctx context.Context, evt *IngressEvent) (string, error)
}

type webhookUC struct {
	txns   repository.TransactionRepository
	events repository.WebhookEventRepository
	subUC  SubscriptionUseCase
	log    *zerolog.Logger
}

func NewWebhookUseCase(txns repository.TransactionRepository, events repository.WebhookEventRepository, subUC SubscriptionUseCase, logger *zerolog.Logger) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{txns: txns, events: events, subUC: subUC, log: &l}
}

func (uc *webhookUC) Handle(ctx context.Context, evt *IngressEvent) (string, error) {
	if evt == nil || evt.EventType == "" || len(evt.Resource) == 0 {
		return "", domain.ErrInvalidArgument
	}

	var res webhookResource
	if err := json.Unmarshal(evt.Resource, &res); err != nil {
		return "", domain.ErrInvalidArgument
	}

	orderID, captureID := uc.resourceIDs(evt, &res)

	eventID := evt.ID
	if eventID == "" {
		eventID = ulid.Make().String()
	}
	if uc.events != nil {
		err := uc.events.Record(ctx, nil, &model.WebhookEvent{
			ID:         eventID,
			EventType:  evt.EventType,
			ResourceID: res.ID,
			ReceivedAt: time.Now(),
		})
		if errors.Is(err, domain.ErrEventAlreadySeen) {
			uc.log.Debug().Str("event_id", eventID).Msg("duplicate webhook delivery ignored")
			return "duplicate event ignored", nil
		}
		if err != nil {
			// Dedupe is best effort; the downstream operations are idempotent.
			uc.log.Warn().Err(err).Str("event_id", eventID).Msg("webhook event log write failed")
		}
	}

	disposition, err := uc.route(ctx, evt.EventType, orderID, captureID)
	if err != nil && uc.events != nil {
		// Release the dedupe slot so the provider's redelivery is processed
		// again instead of being dropped as a duplicate.
		if derr := uc.events.Delete(ctx, nil, eventID); derr != nil {
			uc.log.Warn().Err(derr).Str("event_id", eventID).Msg("webhook event release failed")
		}
	}
	return disposition, err
}

func (uc *webhookUC) route(ctx context.Context, eventType, orderID, captureID string) (string, error) {
	switch eventType {
	case "CHECKOUT.ORDER.APPROVED":
		return uc.handleApproved(ctx, orderID)
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		return uc.handleCompleted(ctx, orderID, captureID)
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return uc.handleDenied(ctx, orderID, captureID, eventType)
	default:
		uc.log.Debug().Str("event_type", eventType).Msg("webhook event type not handled")
		return "event type not handled", nil
	}
}

// resourceIDs extracts (orderID, captureID) regardless of whether the resource
// is an order or a capture.
func (uc *webhookUC) resourceIDs(evt *IngressEvent, res *webhookResource) (string, string) {
	switch evt.ResourceType {
	case "capture":
		return res.SupplementaryData.RelatedIDs.OrderID, res.ID
	default:
		captureID := ""
		if len(res.PurchaseUnits) > 0 && len(res.PurchaseUnits[0].Payments.Captures) > 0 {
			captureID = res.PurchaseUnits[0].Payments.Captures[0].ID
		}
		return res.ID, captureID
	}
}

func (uc *webhookUC) handleApproved(ctx context.Context, orderID string) (string, error) {
	txn, err := uc.findTransaction(ctx, orderID, "")
	if err != nil {
		return "no matching transaction", nil
	}
	if txn.Status != model.TransactionStatusPending {
		return "transaction already past approval", nil
	}
	if err := uc.txns.MarkApproved(ctx, nil, txn.ID); err != nil {
		return "", err
	}
	return "transaction approved", nil
}

func (uc *webhookUC) handleCompleted(ctx context.Context, orderID, captureID string) (string, error) {
	txn, err := uc.findTransaction(ctx, orderID, captureID)
	if err != nil {
		uc.log.Warn().Str("order_id", orderID).Str("capture_id", captureID).Msg("completion webhook without local transaction")
		return "no matching transaction", nil
	}

	if captureID == "" && txn.PaymentID != nil {
		captureID = *txn.PaymentID
	}
	if !txn.Completed() && captureID != "" {
		updated, err := uc.txns.MarkCompleted(ctx, nil, txn.ID, captureID)
		if errors.Is(err, domain.ErrTerminalState) {
			// Out-of-order capture event for a transaction that already failed
			// locally. Acknowledge so the provider stops retrying; an operator
			// resolves the conflict through admin recovery.
			uc.log.Error().Str("transaction_id", txn.ID).Str("capture_id", captureID).
				Msg("capture event conflicts with failed transaction; manual recovery required")
			return "transaction already failed; flagged for manual recovery", nil
		}
		if err != nil {
			return "", err
		}
		txn = updated
	}

	upgradeFrom := ""
	if txn.UpgradeFromPlanID != nil {
		upgradeFrom = *txn.UpgradeFromPlanID
	}
	if _, err := uc.subUC.Materialize(ctx, MaterializeInput{
		UserID:            txn.UserID,
		PlanID:            txn.PlanID,
		PaymentID:         captureID,
		TransactionID:     txn.ID,
		IsUpgrade:         txn.IsUpgrade,
		UpgradeFromPlanID: upgradeFrom,
	}); err != nil {
		// Transaction stays completed; the orphan sweep repairs the missing
		// entitlement.
		uc.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("materialization failed in webhook path")
	}
	return "transaction completed", nil
}

func (uc *webhookUC) handleDenied(ctx context.Context, orderID, captureID, eventType string) (string, error) {
	txn, err := uc.findTransaction(ctx, orderID, captureID)
	if err != nil {
		return "no matching transaction", nil
	}
	if txn.Completed() {
		// Never demote a durably completed transaction on an out-of-order
		// denial event.
		return "transaction already completed; denial ignored", nil
	}
	if err := uc.txns.MarkFailed(ctx, nil, txn.ID, "provider event "+eventType); err != nil {
		return "", err
	}
	return "transaction failed", nil
}

// findTransaction prefers the order id (stable across the checkout) and falls
// back to the capture id for capture-only events.
func (uc *webhookUC) findTransaction(ctx context.Context, orderID, captureID string) (*model.Transaction, error) {
	if orderID != "" {
		if txn, err := uc.txns.Find(ctx, nil, repository.TransactionQuery{OrderID: orderID}); err == nil {
			return txn, nil
		}
	}
	if captureID != "" {
		return uc.txns.Find(ctx, nil, repository.TransactionQuery{PaymentID: captureID})
	}
	return nil, domain.ErrNotFound
}
