// File: internal/usecase/verify_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/adapter"
	"prompt-market-payments/internal/domain/ports/repository"
	"prompt-market-payments/internal/infra/logging"
)

// Compile-time check
var _ VerificationUseCase = (*verificationUC)(nil)

// Locker serializes concurrent verifications of the same order. Lock failure
// is soft: the pass proceeds without it, idempotent store operations still
// guarantee a single completion.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// VerifyInput carries the identifiers from the client or redirect. UserID and
// PlanID are optional hints that let Phase 1 run orphan recovery when no local
// transaction matches.
type VerifyInput struct {
	OrderID   string
	PaymentID string
	UserID    string
	PlanID    string
}

// VerifyResult is the source-attributed outcome of one reconciliation pass.
type VerifyResult struct {
	Status              model.PaymentState      `json:"status"`
	Success             bool                    `json:"success"`
	JustCaptured        bool                    `json:"justCaptured"`
	PaymentID           string                  `json:"paymentId,omitempty"`
	Source              string                  `json:"source"` // database | paypal | heuristic
	Provider            json.RawMessage         `json:"paypal,omitempty"`
	Transaction         *model.Transaction      `json:"transaction,omitempty"`
	Subscription        *model.UserSubscription `json:"subscription,omitempty"`
	SubscriptionCreated bool                    `json:"subscriptionCreated"`
}

type VerificationUseCase interface {
	// Verify runs the three-phase reconciliation for one order/payment pair.
	// It returns an error only for infrastructure failures that must surface
	// as 5xx (token fetch); every determinable payment outcome, including
	// FAILED, comes back as a result.
	Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error)
}

type verificationUC struct {
	txns     repository.TransactionRepository
	subUC    SubscriptionUseCase
	recovery RecoveryUseCase
	gateway  adapter.PaymentGateway
	locker   Locker
	log      *zerolog.Logger
}

func NewVerificationUseCase(
	txns repository.TransactionRepository,
	subUC SubscriptionUseCase,
	recovery RecoveryUseCase,
	gateway adapter.PaymentGateway,
	locker Locker,
	logger *zerolog.Logger,
) *verificationUC {
	l := logger.With().Str("component", "VerificationUC").Logger()
	return &verificationUC{txns: txns, subUC: subUC, recovery: recovery, gateway: gateway, locker: locker, log: &l}
}

const verifyLockTTL = 30 * time.Second

func (uc *verificationUC) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	defer logging.TraceDuration(uc.log, "VerificationUC.Verify")()

	if in.OrderID == "" && in.PaymentID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	if uc.locker != nil {
		key := "verify:" + in.OrderID
		if in.OrderID == "" {
			key = "verify:pay:" + in.PaymentID
		}
		if token, err := uc.locker.TryLock(ctx, key, verifyLockTTL); err == nil {
			defer func() { _ = uc.locker.Unlock(context.WithoutCancel(ctx), key, token) }()
		} else {
			uc.log.Debug().Str("key", key).Msg("verify lock busy; proceeding unlocked")
		}
	}

	// Phase 1: database-first.
	txn := uc.lookupTransaction(ctx, in)
	if txn == nil && in.UserID != "" && in.PlanID != "" {
		// A prior webhook may have completed this purchase under a different
		// identifier combination; repair before asking the provider.
		if rep, err := uc.recovery.Recover(ctx, in.UserID, in.PlanID); err == nil && rep.Recovered > 0 {
			uc.log.Info().Int("recovered", rep.Recovered).Str("user_id", in.UserID).Msg("orphan recovery ran before verification")
		}
		txn = uc.lookupTransaction(ctx, in)
	}

	// Phase 2: provider API.
	orderID := in.OrderID
	if orderID == "" && txn != nil && txn.OrderID != nil {
		orderID = *txn.OrderID
	}
	state, paymentID, justCaptured, raw, source, err := uc.providerPhase(ctx, orderID, in.PaymentID, txn)
	if err != nil {
		return nil, err
	}

	// Phase 3: database heuristic fallback, only on ERROR/UNKNOWN.
	if state == model.PaymentStateError || state == model.PaymentStateUnknown {
		if hs, hp, ok := uc.heuristicPhase(ctx, txn); ok {
			state, source = hs, "heuristic"
			if paymentID == "" {
				paymentID = hp
			}
		}
	}

	res := &VerifyResult{
		Status:       state,
		Success:      state == model.PaymentStateCompleted,
		JustCaptured: justCaptured,
		PaymentID:    paymentID,
		Source:       source,
		Provider:     raw,
		Transaction:  txn,
	}

	uc.finalize(ctx, in, res)
	return res, nil
}

func (uc *verificationUC) lookupTransaction(ctx context.Context, in VerifyInput) *model.Transaction {
	txn, err := uc.txns.Find(ctx, nil, repository.TransactionQuery{OrderID: in.OrderID, PaymentID: in.PaymentID})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			uc.log.Warn().Err(err).Msg("transaction lookup failed")
		}
		return nil
	}
	return txn
}

// providerPhase asks PayPal for the order (capturing when approved) or, with
// only a payment id, for the capture itself. A failed round-trip degrades to
// ERROR; only a token fetch failure propagates as an error.
func (uc *verificationUC) providerPhase(ctx context.Context, orderID, paymentID string, txn *model.Transaction) (model.PaymentState, string, bool, json.RawMessage, string, error) {
	if orderID != "" {
		order, err := uc.gateway.FetchOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrTokenFetch) {
				return "", "", false, nil, "", err
			}
			uc.log.Warn().Err(err).Str("order_id", orderID).Msg("provider order fetch failed")
			return model.PaymentStateError, "", false, nil, "paypal", nil
		}
		if !order.OK {
			return model.PaymentStateUnknown, "", false, order.Raw, "paypal", nil
		}

		switch model.CanonicalState(order.Status) {
		case model.PaymentStateApproved:
			cap, err := uc.gateway.CaptureOrder(ctx, orderID)
			if err != nil || !cap.OK {
				// Capture of an approved order should succeed barring a real
				// provider-side failure; the sweep retries, not this path.
				if err != nil {
					uc.log.Error().Err(err).Str("order_id", orderID).Msg("capture call failed")
					return model.PaymentStateFailed, "", false, nil, "paypal", nil
				}
				return model.PaymentStateFailed, "", false, cap.Raw, "paypal", nil
			}
			if model.CanonicalState(cap.Status) == model.PaymentStateCompleted {
				return model.PaymentStateCompleted, cap.CaptureID, true, cap.Raw, "paypal", nil
			}
			return model.CanonicalState(cap.Status), cap.CaptureID, false, cap.Raw, "paypal", nil
		case model.PaymentStateCompleted:
			// Already captured at the provider. Capturing twice is rejected,
			// so take the nested capture id as-is.
			capID := order.CaptureID
			if capID == "" && paymentID != "" {
				capID = paymentID
			}
			return model.PaymentStateCompleted, capID, false, order.Raw, "paypal", nil
		default:
			return model.CanonicalState(order.Status), "", false, order.Raw, "paypal", nil
		}
	}

	cap, err := uc.gateway.FetchPaymentCapture(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrTokenFetch) {
			return "", "", false, nil, "", err
		}
		uc.log.Warn().Err(err).Str("payment_id", paymentID).Msg("provider capture fetch failed")
		return model.PaymentStateError, "", false, nil, "paypal", nil
	}
	if !cap.OK {
		return model.PaymentStateUnknown, "", false, cap.Raw, "paypal", nil
	}
	return model.CanonicalState(cap.Status), paymentID, false, cap.Raw, "paypal", nil
}

// heuristicPhase trusts durable local state when the provider is unreachable
// or inconclusive: a completed transaction with a capture id, or an active
// subscription for the same (user, plan), both prove a prior successful
// capture under this system's invariants.
func (uc *verificationUC) heuristicPhase(ctx context.Context, txn *model.Transaction) (model.PaymentState, string, bool) {
	if txn == nil {
		return "", "", false
	}
	if txn.Completed() {
		return model.PaymentStateCompleted, *txn.PaymentID, true
	}
	if uc.recovery.HasActiveSubscription(ctx, txn.UserID, txn.PlanID) {
		pid := ""
		if txn.PaymentID != nil {
			pid = *txn.PaymentID
		}
		return model.PaymentStateCompleted, pid, true
	}
	return "", "", false
}

// finalize applies the post-determination side effects. Subscription
// materialization runs unconditionally on COMPLETED, even when the
// transaction was already completed: a prior pass may have captured the
// payment and then failed to provision the entitlement.
func (uc *verificationUC) finalize(ctx context.Context, in VerifyInput, res *VerifyResult) {
	txn := res.Transaction
	switch res.Status {
	case model.PaymentStateCompleted:
		if txn != nil {
			alreadyDone := txn.Completed() && (res.PaymentID == "" || *txn.PaymentID == res.PaymentID)
			if !alreadyDone && res.PaymentID != "" {
				updated, err := uc.txns.MarkCompleted(ctx, nil, txn.ID, res.PaymentID)
				if errors.Is(err, domain.ErrTerminalState) {
					// The provider says captured but the transaction already
					// failed locally (expired by the sweep, denied by webhook).
					// Do not resurrect and do not provision; an operator
					// resolves the conflict through admin recovery.
					uc.log.Error().Str("transaction_id", txn.ID).Str("payment_id", res.PaymentID).
						Msg("provider capture conflicts with failed transaction; manual recovery required")
					return
				}
				if err != nil {
					uc.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("mark completed failed")
				} else {
					res.Transaction = updated
					txn = updated
				}
			}
		}

		userID, planID := in.UserID, in.PlanID
		var txnID string
		isUpgrade := false
		upgradeFrom := ""
		if txn != nil {
			userID, planID, txnID = txn.UserID, txn.PlanID, txn.ID
			isUpgrade = txn.IsUpgrade
			if txn.UpgradeFromPlanID != nil {
				upgradeFrom = *txn.UpgradeFromPlanID
			}
		}
		if userID == "" || planID == "" {
			uc.log.Warn().Str("order_id", in.OrderID).Msg("completed payment without user/plan context; left for orphan sweep")
			return
		}
		mat, err := uc.subUC.Materialize(ctx, MaterializeInput{
			UserID:            userID,
			PlanID:            planID,
			PaymentID:         res.PaymentID,
			TransactionID:     txnID,
			IsUpgrade:         isUpgrade,
			UpgradeFromPlanID: upgradeFrom,
		})
		if err != nil {
			// The charge succeeded; never turn a provisioning failure into a
			// payment failure. The orphan sweep repairs this later.
			uc.log.Error().Err(err).Str("user_id", userID).Str("plan_id", planID).Msg("subscription materialization failed after capture")
			return
		}
		res.Subscription = mat.Subscription
		res.SubscriptionCreated = mat.Created
	case model.PaymentStateFailed, model.PaymentStateCancelled:
		if txn != nil && !txn.Completed() {
			reason := "provider reported " + string(res.Status)
			if err := uc.txns.MarkFailed(ctx, nil, txn.ID, reason); err != nil {
				uc.log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("mark failed errored")
			}
		}
	}
}
