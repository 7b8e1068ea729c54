// Package sched runs the periodic escalation and retry loops.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/faults"
	"monalert/internal/store"
)

// escalating raises alert severity and rearms notification delivery.
// Params: context and alert snapshot.
// Returns: escalated alert or conflict fault when the alert moved on.
type escalating interface {
	Escalate(ctx context.Context, alert domain.Alert) (domain.Alert, error)
}

// dispatching delivers notifications for one alert.
// Params: context, alert, channel list, and recipient override.
// Returns: persistence error.
type dispatching interface {
	Dispatch(ctx context.Context, alert domain.Alert, channels, recipients []string) error
}

// Escalator re-notifies stale ACTIVE alerts on a fixed interval.
// Params: store for candidate scans, engine for severity bumps, and dispatcher.
// Returns: background escalation loop.
type Escalator struct {
	store      store.Store
	engine     escalating
	dispatcher dispatching
	cfg        config.EscalationConfig
	clk        clock.Clock
	logger     *slog.Logger
}

// NewEscalator builds the escalation scheduler.
// Params: store, engine, dispatcher, escalation config, clock, and logger.
// Returns: initialized scheduler.
func NewEscalator(
	st store.Store,
	eng escalating,
	dispatcher dispatching,
	cfg config.EscalationConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *Escalator {
	return &Escalator{
		store:      st,
		engine:     eng,
		dispatcher: dispatcher,
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
	}
}

// Run executes escalation sweeps until the context ends.
// Params: context bounding the loop.
// Returns: none; sweep errors are logged and the loop continues.
func (e *Escalator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				e.logger.Error("escalation sweep failed", "error", err.Error())
			}
		}
	}
}

// RunOnce performs one escalation sweep.
// Params: context.
// Returns: scan error; per-alert failures are logged and skipped.
func (e *Escalator) RunOnce(ctx context.Context) error {
	cutoff := e.clk.Now().Add(-time.Duration(e.cfg.AgeSec) * time.Second)
	candidates, err := e.store.ListEscalatable(ctx, cutoff, e.cfg.MaxNotifications)
	if err != nil {
		return fmt.Errorf("list escalatable alerts: %w", err)
	}

	for _, alert := range candidates {
		escalated, err := e.engine.Escalate(ctx, alert)
		if err != nil {
			// A concurrent acknowledge or resolve removes the alert from scope.
			if faults.IsConflict(err) || faults.IsNotFound(err) {
				continue
			}
			e.logger.Error("escalation failed", "alert_id", alert.ID, "error", err.Error())
			continue
		}
		if err := e.dispatcher.Dispatch(ctx, escalated, nil, nil); err != nil {
			e.logger.Error("escalation dispatch failed", "alert_id", alert.ID, "error", err.Error())
		}
	}
	return nil
}
