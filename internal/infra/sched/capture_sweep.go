package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"prompt-market-payments/internal/infra/metrics"
	"prompt-market-payments/internal/usecase"
)

// CaptureSweepWorker periodically retries stuck checkouts: pending
// transactions holding an order id but no capture. It captures orders the
// buyer approved and expires anything older than maxAge, bounding how long a
// stuck checkout stays ambiguous. This covers crashes mid-verify and lost
// webhooks.
type CaptureSweepWorker struct {
	sweepUC  usecase.SweepUseCase
	interval time.Duration
	maxAge   time.Duration
	batch    int
	name     string
	log      *zerolog.Logger
}

func NewCaptureSweepWorker(sweepUC usecase.SweepUseCase, interval, maxAge time.Duration, batch int, name string, logger *zerolog.Logger) *CaptureSweepWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	l := logger.With().Str("component", "CaptureSweep").Str("sweep", name).Logger()
	return &CaptureSweepWorker{sweepUC: sweepUC, interval: interval, maxAge: maxAge, batch: batch, name: name, log: &l}
}

func (w *CaptureSweepWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("max_age", w.maxAge).Msg("starting capture sweep worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping capture sweep worker")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *CaptureSweepWorker) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	rep, err := w.sweepUC.Run(runCtx, w.maxAge, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("sweep pass failed")
		return
	}
	metrics.AddSweepResolution(w.name, "captured", rep.Captured)
	metrics.AddSweepResolution(w.name, "failed", rep.Failed)
	metrics.AddSweepResolution(w.name, "expired", rep.Expired)
	metrics.AddSweepResolution(w.name, "skipped", rep.Skipped)
	if rep.Processed > 0 {
		w.log.Info().
			Int("processed", rep.Processed).
			Int("captured", rep.Captured).
			Int("failed", rep.Failed).
			Int("expired", rep.Expired).
			Int("skipped", rep.Skipped).
			Msg("sweep pass finished")
	}
}
