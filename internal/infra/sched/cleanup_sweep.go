package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"prompt-market-payments/internal/infra/metrics"
	"prompt-market-payments/internal/usecase"
)

// CleanupWorker is the slow companion to the capture sweep. It runs rarely,
// expires transactions the fast sweep kept skipping once they pass the hard
// age limit, and repairs orphans: completed transactions whose subscription
// was never materialized.
type CleanupWorker struct {
	sweepUC    usecase.SweepUseCase
	recoveryUC usecase.RecoveryUseCase
	interval   time.Duration
	maxAge     time.Duration
	batch      int
	log        *zerolog.Logger
}

func NewCleanupWorker(sweepUC usecase.SweepUseCase, recoveryUC usecase.RecoveryUseCase, interval, maxAge time.Duration, batch int, logger *zerolog.Logger) *CleanupWorker {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	l := logger.With().Str("component", "CleanupSweep").Logger()
	return &CleanupWorker{sweepUC: sweepUC, recoveryUC: recoveryUC, interval: interval, maxAge: maxAge, batch: batch, log: &l}
}

func (w *CleanupWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("max_age", w.maxAge).Msg("starting cleanup worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping cleanup worker")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *CleanupWorker) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	rep, err := w.sweepUC.Run(runCtx, w.maxAge, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("cleanup sweep pass failed")
	} else {
		metrics.AddSweepResolution("slow", "captured", rep.Captured)
		metrics.AddSweepResolution("slow", "failed", rep.Failed)
		metrics.AddSweepResolution("slow", "expired", rep.Expired)
		metrics.AddSweepResolution("slow", "skipped", rep.Skipped)
		if rep.Expired > 0 {
			w.log.Info().Int("expired", rep.Expired).Msg("expired stale transactions")
		}
	}

	report, err := w.recoveryUC.Recover(runCtx, "", "")
	if err != nil {
		w.log.Error().Err(err).Msg("orphan recovery pass failed")
		return
	}
	if report.Recovered > 0 {
		metrics.AddOrphansRecovered(report.Recovered)
		w.log.Info().Int("recovered", report.Recovered).Msg("recovered orphaned subscriptions")
	}
	for _, e := range report.Errors {
		w.log.Warn().Str("detail", e).Msg("orphan recovery error")
	}
}
