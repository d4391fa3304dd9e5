// File: internal/usecase/sweep_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/adapter"
	"prompt-market-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ SweepUseCase = (*sweepUC)(nil)

const defaultSweepBatch = 50

// SweepDetail records how one stuck transaction was resolved.
type SweepDetail struct {
	TransactionID string `json:"transactionId"`
	OrderID       string `json:"orderId"`
	Resolution    string `json:"resolution"` // captured | completed | failed | expired | skipped
	Note          string `json:"note,omitempty"`
}

type SweepReport struct {
	Processed int           `json:"processed"`
	Captured  int           `json:"captured"`
	Failed    int           `json:"failed"`
	Expired   int           `json:"expired"`
	Skipped   int           `json:"skipped"`
	Details   []SweepDetail `json:"details"`
}

type SweepUseCase interface {
	// Run re-checks up to batch pending transactions that hold an order id
	// but no capture, oldest first: captures orders the buyer approved,
	// finalizes ones the provider already completed, and expires anything
	// still unresolved after maxAge.
	Run(ctx context.Context, maxAge time.Duration, batch int) (*SweepReport, error)
}

type sweepUC struct {
	txns    repository.TransactionRepository
	subUC   SubscriptionUseCase
	gateway adapter.PaymentGateway
	log     *zerolog.Logger
}

func NewSweepUseCase(txns repository.TransactionRepository, subUC SubscriptionUseCase, gateway adapter.PaymentGateway, logger *zerolog.Logger) *sweepUC {
	l := logger.With().Str("component", "SweepUC").Logger()
	return &sweepUC{txns: txns, subUC: subUC, gateway: gateway, log: &l}
}

func (uc *sweepUC) Run(ctx context.Context, maxAge time.Duration, batch int) (*SweepReport, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	pending, err := uc.txns.ListPendingCapturable(ctx, nil, batch)
	if err != nil {
		return nil, err
	}

	rep := &SweepReport{Details: []SweepDetail{}}
	for _, t := range pending {
		rep.Processed++
		rep.Details = append(rep.Details, uc.resolve(ctx, t, maxAge, rep))
	}
	return rep, nil
}

func (uc *sweepUC) resolve(ctx context.Context, t *model.Transaction, maxAge time.Duration, rep *SweepReport) SweepDetail {
	d := SweepDetail{TransactionID: t.ID}
	if t.OrderID != nil {
		d.OrderID = *t.OrderID
	}
	tooOld := time.Since(t.CreatedAt) > maxAge

	order, err := uc.gateway.FetchOrder(ctx, d.OrderID)
	if err != nil || !order.OK {
		// Provider unreachable or order gone; age alone decides.
		if tooOld {
			return uc.expire(ctx, t, rep, &d)
		}
		rep.Skipped++
		d.Resolution = "skipped"
		d.Note = "provider inconclusive; younger than threshold"
		return d
	}

	switch model.CanonicalState(order.Status) {
	case model.PaymentStateApproved:
		cap, err := uc.gateway.CaptureOrder(ctx, d.OrderID)
		if err != nil || !cap.OK || model.CanonicalState(cap.Status) != model.PaymentStateCompleted {
			rep.Failed++
			d.Resolution = "failed"
			d.Note = "capture of approved order failed"
			if merr := uc.txns.MarkFailed(ctx, nil, t.ID, "sweep capture failed"); merr != nil {
				uc.log.Warn().Err(merr).Str("transaction_id", t.ID).Msg("mark failed errored")
			}
			return d
		}
		uc.complete(ctx, t, cap.CaptureID)
		rep.Captured++
		d.Resolution = "captured"
		return d
	case model.PaymentStateCompleted:
		// Captured out-of-band (webhook lost, crash mid-verify); finish the
		// local side without a second capture call.
		if order.CaptureID != "" {
			uc.complete(ctx, t, order.CaptureID)
			rep.Captured++
			d.Resolution = "completed"
			return d
		}
		rep.Skipped++
		d.Resolution = "skipped"
		d.Note = "provider completed but no capture id in payload"
		return d
	case model.PaymentStateFailed, model.PaymentStateCancelled:
		rep.Failed++
		d.Resolution = "failed"
		if merr := uc.txns.MarkFailed(ctx, nil, t.ID, "provider status "+order.Status); merr != nil {
			uc.log.Warn().Err(merr).Str("transaction_id", t.ID).Msg("mark failed errored")
		}
		return d
	default:
		if tooOld {
			return uc.expire(ctx, t, rep, &d)
		}
		rep.Skipped++
		d.Resolution = "skipped"
		d.Note = "still awaiting buyer approval"
		return d
	}
}

func (uc *sweepUC) expire(ctx context.Context, t *model.Transaction, rep *SweepReport, d *SweepDetail) SweepDetail {
	if err := uc.txns.MarkFailed(ctx, nil, t.ID, "expired"); err != nil {
		uc.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("expire mark failed errored")
		rep.Skipped++
		d.Resolution = "skipped"
		d.Note = "expire write failed"
		return *d
	}
	rep.Expired++
	d.Resolution = "expired"
	uc.log.Info().Str("transaction_id", t.ID).Msg("stuck checkout expired")
	return *d
}

func (uc *sweepUC) complete(ctx context.Context, t *model.Transaction, captureID string) {
	updated, err := uc.txns.MarkCompleted(ctx, nil, t.ID, captureID)
	if err != nil {
		uc.log.Error().Err(err).Str("transaction_id", t.ID).Msg("sweep mark completed failed")
		return
	}
	upgradeFrom := ""
	if updated.UpgradeFromPlanID != nil {
		upgradeFrom = *updated.UpgradeFromPlanID
	}
	if _, err := uc.subUC.Materialize(ctx, MaterializeInput{
		UserID:            updated.UserID,
		PlanID:            updated.PlanID,
		PaymentID:         captureID,
		TransactionID:     updated.ID,
		IsUpgrade:         updated.IsUpgrade,
		UpgradeFromPlanID: upgradeFrom,
	}); err != nil {
		uc.log.Error().Err(err).Str("transaction_id", t.ID).Msg("materialization failed in sweep; orphan recovery will retry")
	}
}
