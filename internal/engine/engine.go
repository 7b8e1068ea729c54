package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"monalert/internal/asset"
	"monalert/internal/bus"
	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/faults"
	"monalert/internal/metrics"
	"monalert/internal/store"

	"github.com/google/uuid"
)

// statusWriteAttempts bounds retries of guarded status writes under contention.
const statusWriteAttempts = 3

// Engine owns alert deduplication and lifecycle transitions.
// Params: store, asset provider, bus publisher, clock, and logger.
// Returns: transition API consumed by ingest, schedulers, and the admin surface.
type Engine struct {
	store     store.Store
	assets    asset.Provider
	publisher bus.Publisher
	busCfg    config.BusConfig
	clk       clock.Clock
	logger    *slog.Logger
	keys      *keyedLocks
}

// New creates the alert engine.
// Params: persistence, enrichment, publishing, bus subjects, clock, and logger.
// Returns: initialized engine.
func New(
	st store.Store,
	assets asset.Provider,
	publisher bus.Publisher,
	busCfg config.BusConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:     st,
		assets:    assets,
		publisher: publisher,
		busCfg:    busCfg,
		clk:       clk,
		logger:    logger,
		keys:      newKeyedLocks(),
	}
}

// ProcessThresholdEvent creates an alert for the event or merges into the open one.
// Params: context and validated threshold event.
// Returns: the open alert for the event key, created flag, and error.
func (e *Engine) ProcessThresholdEvent(ctx context.Context, event domain.ThresholdEvent) (domain.Alert, bool, error) {
	unlock := e.keys.acquire(event.Key())
	defer unlock()

	existing, err := e.store.FindOpenByKey(ctx, event.Key())
	if err == nil {
		metrics.AlertsDeduplicated.Inc()
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Alert{}, false, fmt.Errorf("find open alert: %w", err)
	}

	alert := e.buildAlert(ctx, event)
	stored, created, err := e.store.CreateAlertIfAbsent(ctx, alert)
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("create alert: %w", err)
	}
	if !created {
		metrics.AlertsDeduplicated.Inc()
		return stored, false, nil
	}
	metrics.AlertsCreated.Inc()
	e.logger.Info("alert created",
		"alert_id", stored.ID, "uuid", stored.UUID,
		"asset_id", stored.AssetID, "metric", stored.MetricName, "severity", string(stored.Severity))
	return stored, true, nil
}

// Acknowledge moves an ACTIVE alert into ACKNOWLEDGED.
// Params: context, alert ID, and acknowledging operator.
// Returns: updated alert or validation/state fault.
func (e *Engine) Acknowledge(ctx context.Context, id int64, actor string) (domain.Alert, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.Alert{}, faults.Validationf("acknowledgedBy is required")
	}
	return e.transition(ctx, id, "acknowledge", func(alert *domain.Alert) error {
		if !alert.Status.CanTransition(domain.StatusAcknowledged) {
			return faults.InvalidState(string(alert.Status), "acknowledge")
		}
		now := e.clk.Now()
		alert.Status = domain.StatusAcknowledged
		alert.AcknowledgedTime = &now
		alert.AcknowledgedBy = actor
		return nil
	}, actor)
}

// Resolve moves an ACTIVE or ACKNOWLEDGED alert into RESOLVED.
// Params: context, alert ID, resolving operator, and optional comment.
// Returns: updated alert or validation/state fault.
func (e *Engine) Resolve(ctx context.Context, id int64, actor, comment string) (domain.Alert, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.Alert{}, faults.Validationf("resolvedBy is required")
	}
	return e.transition(ctx, id, "resolve", func(alert *domain.Alert) error {
		if !alert.Status.CanTransition(domain.StatusResolved) {
			return faults.InvalidState(string(alert.Status), "resolve")
		}
		now := e.clk.Now()
		alert.Status = domain.StatusResolved
		alert.ResolvedTime = &now
		alert.ResolvedBy = actor
		alert.ResolveComment = comment
		alert.EndTime = &now
		return nil
	}, actor)
}

// Close moves a RESOLVED alert into CLOSED, or any non-terminal alert when forced.
// Params: context, alert ID, closing operator, and administrative force flag.
// Returns: updated alert or state fault.
func (e *Engine) Close(ctx context.Context, id int64, actor string, force bool) (domain.Alert, error) {
	return e.transition(ctx, id, "close", func(alert *domain.Alert) error {
		if alert.Status.Terminal() {
			return faults.InvalidState(string(alert.Status), "close")
		}
		if !force && !alert.Status.CanTransition(domain.StatusClosed) {
			return faults.InvalidState(string(alert.Status), "close")
		}
		alert.Status = domain.StatusClosed
		if alert.EndTime == nil {
			now := e.clk.Now()
			alert.EndTime = &now
		}
		return nil
	}, actor)
}

// Escalate raises alert severity one level and rearms notification delivery.
// Params: context and current alert snapshot.
// Returns: escalated alert or error; conflicts are reported for skip handling.
func (e *Engine) Escalate(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	now := e.clk.Now()
	next := alert.Severity.Next()
	if err := e.store.ApplyEscalation(ctx, alert.ID, next, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Alert{}, faults.Conflict(fmt.Errorf("alert %d left ACTIVE before escalation", alert.ID))
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Alert{}, faults.NotFound("alert", strconv.FormatInt(alert.ID, 10))
		}
		return domain.Alert{}, fmt.Errorf("apply escalation: %w", err)
	}
	metrics.Escalations.Inc()
	e.logger.Info("alert escalated",
		"alert_id", alert.ID, "from", string(alert.Severity), "to", string(next))

	e.publishBestEffort(ctx, e.busCfg.EscalationSubject, domain.EscalationNotice{
		AlertID:   alert.ID,
		AlertUUID: alert.UUID,
		From:      alert.Severity,
		To:        next,
		At:        now,
	})

	escalated := alert
	escalated.Severity = next
	escalated.Notified = false
	escalated.UpdateTime = now
	return escalated, nil
}

// Get returns one alert by ID.
// Params: context and alert ID.
// Returns: alert or not-found fault.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Alert, error) {
	alert, err := e.store.GetAlert(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Alert{}, faults.NotFound("alert", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// GetByUUID returns one alert by external UUID.
// Params: context and alert UUID.
// Returns: alert or not-found fault.
func (e *Engine) GetByUUID(ctx context.Context, id string) (domain.Alert, error) {
	alert, err := e.store.GetAlertByUUID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Alert{}, faults.NotFound("alert", id)
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("get alert by uuid: %w", err)
	}
	return alert, nil
}

// ListByStatus returns one page of alerts in a lifecycle status.
// Params: context, status, page limit, and offset.
// Returns: alert page or validation fault for unknown status.
func (e *Engine) ListByStatus(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error) {
	if !domain.ValidStatus(status) {
		return nil, faults.Validationf("unsupported status %q", status)
	}
	alerts, err := e.store.ListAlertsByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Notifications returns the delivery audit trail for one alert.
// Params: context and alert ID.
// Returns: notification list or not-found fault when the alert is absent.
func (e *Engine) Notifications(ctx context.Context, alertID int64) ([]domain.Notification, error) {
	if _, err := e.Get(ctx, alertID); err != nil {
		return nil, err
	}
	notifications, err := e.store.ListNotificationsByAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// Stats returns open-alert counts grouped by severity.
// Params: context.
// Returns: severity counters.
func (e *Engine) Stats(ctx context.Context) (map[domain.Severity]int, error) {
	counts, err := e.store.CountOpenBySeverity(ctx)
	if err != nil {
		return nil, fmt.Errorf("count open alerts: %w", err)
	}
	return counts, nil
}

// buildAlert composes a new ACTIVE alert from one threshold event.
// Params: context and validated event.
// Returns: alert payload ready for insertion.
func (e *Engine) buildAlert(ctx context.Context, event domain.ThresholdEvent) domain.Alert {
	now := e.clk.Now()
	alert := domain.Alert{
		UUID:        uuid.NewString(),
		Name:        fmt.Sprintf("%s threshold breach", event.MetricName),
		Message:     fmt.Sprintf("metric %s value %g breached threshold %g", event.MetricName, event.Value, event.Threshold),
		Severity:    event.Severity,
		Status:      domain.StatusActive,
		Type:        domain.TypeThreshold,
		AssetID:     event.AssetID,
		AssetName:   event.AssetName,
		AssetType:   event.AssetType,
		MetricName:  event.MetricName,
		MetricValue: event.Value,
		Threshold:   event.Threshold,
		StartTime:   event.EventTime(),
		Tags:        event.Tags,
		CreateTime:  now,
		UpdateTime:  now,
	}

	if alert.AssetName == "" && e.assets != nil {
		metadata, err := e.assets.Lookup(ctx, event.AssetID)
		if err != nil {
			// Enrichment is cosmetic; the alert is raised either way.
			e.logger.Warn("asset lookup failed", "asset_id", event.AssetID, "error", err.Error())
		} else {
			alert.AssetName = metadata.Name
			if alert.AssetType == "" {
				alert.AssetType = metadata.Type
			}
		}
	}
	return alert
}

// transition applies one guarded lifecycle mutation with bounded conflict retries.
// Params: alert ID, operation label, mutation callback, and acting operator.
// Returns: updated alert, or fault when the transition is rejected.
func (e *Engine) transition(
	ctx context.Context,
	id int64,
	operation string,
	mutate func(*domain.Alert) error,
	actor string,
) (domain.Alert, error) {
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		alert, err := e.store.GetAlert(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Alert{}, faults.NotFound("alert", strconv.FormatInt(id, 10))
		}
		if err != nil {
			return domain.Alert{}, fmt.Errorf("load alert for %s: %w", operation, err)
		}

		expected := alert.Status
		if err := mutate(&alert); err != nil {
			return domain.Alert{}, err
		}
		alert.UpdateTime = e.clk.Now()

		err = e.store.UpdateAlertStatus(ctx, alert, expected)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Alert{}, faults.NotFound("alert", strconv.FormatInt(id, 10))
		}
		if err != nil {
			return domain.Alert{}, fmt.Errorf("write %s transition: %w", operation, err)
		}

		metrics.Transitions.WithLabelValues(string(alert.Status)).Inc()
		e.logger.Info("alert transition",
			"alert_id", alert.ID, "from", string(expected), "to", string(alert.Status), "actor", actor)
		e.publishBestEffort(ctx, e.busCfg.StatusSubject, domain.StatusUpdate{
			AlertID:   alert.ID,
			AlertUUID: alert.UUID,
			From:      expected,
			To:        alert.Status,
			Actor:     actor,
			At:        alert.UpdateTime,
		})
		return alert, nil
	}
	return domain.Alert{}, faults.Conflict(fmt.Errorf("%s alert %d: gave up after %d attempts", operation, id, statusWriteAttempts))
}

// publishBestEffort publishes one lifecycle record and logs failures.
// Params: context, subject, and payload.
// Returns: none; publish errors never fail the transition.
func (e *Engine) publishBestEffort(ctx context.Context, subject string, payload any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, subject, payload); err != nil {
		e.logger.Warn("bus publish failed", "subject", subject, "error", err.Error())
	}
}
