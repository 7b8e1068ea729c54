package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/store"
)

// redelivering retries one failed notification row.
// Params: context and failed notification.
// Returns: persistence error.
type redelivering interface {
	Redeliver(ctx context.Context, notification domain.Notification) error
}

// RetryWorker retries failed notifications on a fixed interval.
// Params: store for candidate scans, dispatcher for redelivery, and retry policy.
// Returns: background retry loop with startup reconciliation.
type RetryWorker struct {
	store      store.Store
	dispatcher redelivering
	cfg        config.RetryConfig
	clk        clock.Clock
	logger     *slog.Logger
}

// NewRetryWorker builds the failed-notification retry scheduler.
// Params: store, dispatcher, retry config, clock, and logger.
// Returns: initialized scheduler.
func NewRetryWorker(
	st store.Store,
	dispatcher redelivering,
	cfg config.RetryConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *RetryWorker {
	return &RetryWorker{
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
	}
}

// SweepStalePending fails PENDING rows abandoned by an earlier crash.
// Params: context.
// Returns: swept row count or scan error; run once before the loop starts.
func (w *RetryWorker) SweepStalePending(ctx context.Context) (int, error) {
	olderThan := w.clk.Now().Add(-time.Duration(w.cfg.PendingTimeoutSec) * time.Second)
	swept, err := w.store.SweepStalePending(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep stale pending notifications: %w", err)
	}
	if swept > 0 {
		w.logger.Warn("failed stale pending notifications", "count", swept)
	}
	return swept, nil
}

// Run executes retry sweeps until the context ends.
// Params: context bounding the loop.
// Returns: none; sweep errors are logged and the loop continues.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("notification retry sweep failed", "error", err.Error())
			}
		}
	}
}

// RunOnce performs one failed-notification retry sweep.
// Params: context.
// Returns: scan error; per-notification failures are logged and skipped.
func (w *RetryWorker) RunOnce(ctx context.Context) error {
	since := w.clk.Now().Add(-time.Duration(w.cfg.LookbackHours) * time.Hour)
	failed, err := w.store.ListFailedNotifications(ctx, w.cfg.MaxRetries, since)
	if err != nil {
		return fmt.Errorf("list failed notifications: %w", err)
	}

	for _, notification := range failed {
		if err := w.dispatcher.Redeliver(ctx, notification); err != nil {
			w.logger.Error("notification redelivery failed",
				"notification_id", notification.ID, "alert_id", notification.AlertID, "error", err.Error())
		}
	}
	return nil
}
