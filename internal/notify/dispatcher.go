package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/faults"
	"monalert/internal/metrics"
	"monalert/internal/store"
)

// Dispatcher fans one alert out to channel recipients with delivery audit.
// Params: store for notification rows, sender registry, and renderer.
// Returns: delivery entry point for ingest, schedulers, and intents.
type Dispatcher struct {
	store    store.Store
	registry *Registry
	renderer *Renderer
	cfg      config.NotifyConfig
	clk      clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewDispatcher builds the notification dispatcher.
// Params: store, notify config, clock, and logger.
// Returns: dispatcher or template compilation error.
func NewDispatcher(st store.Store, cfg config.NotifyConfig, clk clock.Clock, logger *slog.Logger) (*Dispatcher, error) {
	renderer, err := NewRenderer(cfg)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		store:    st,
		registry: NewRegistry(cfg),
		renderer: renderer,
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
		inflight: make(map[int64]struct{}),
	}, nil
}

// Channels returns configured channel keys.
// Params: none.
// Returns: sorted channel list from the registry.
func (d *Dispatcher) Channels() []string {
	return d.registry.Channels()
}

// Dispatch delivers one alert over the requested channels.
// Params: context, alert snapshot, channel list (default channels when empty),
// and optional recipient override applied to every channel.
// Returns: unknown-channel and persistence errors; send failures land in the
// audit rows, not in the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert domain.Alert, channels, recipients []string) error {
	if !d.beginDispatch(alert.ID) {
		d.logger.Debug("notification dispatch already running", "alert_id", alert.ID)
		return nil
	}
	defer d.endDispatch(alert.ID)

	if len(channels) == 0 {
		channels = d.cfg.DefaultChannels
	}

	attempted := false
	var dispatchErrs []error
	for _, channel := range channels {
		sender, ok := d.registry.Sender(channel)
		if !ok {
			dispatchErrs = append(dispatchErrs,
				faults.Validationf("notification channel %q is not configured", channel))
			continue
		}
		if !d.severityAllowed(channel, alert.Severity) {
			d.logger.Debug("alert below channel severity floor",
				"alert_id", alert.ID, "channel", channel, "severity", string(alert.Severity))
			continue
		}

		targets := recipients
		if len(targets) == 0 {
			targets = config.ChannelRecipients(d.cfg, channel)
		}
		if len(targets) == 0 {
			d.logger.Warn("notification channel has no recipients", "alert_id", alert.ID, "channel", channel)
			continue
		}

		for _, recipient := range targets {
			if err := d.deliverOne(ctx, sender, alert, channel, recipient); err != nil {
				dispatchErrs = append(dispatchErrs, err)
				continue
			}
			attempted = true
		}
	}

	// The counter tracks delivery cycles, not outcomes; failed sends still
	// move the alert toward the escalation cap and into the retry scheduler.
	if attempted {
		if err := d.store.MarkNotified(ctx, alert.ID, d.clk.Now()); err != nil {
			dispatchErrs = append(dispatchErrs, fmt.Errorf("mark alert %d notified: %w", alert.ID, err))
		}
	}
	return errors.Join(dispatchErrs...)
}

// Redeliver retries one previously failed notification.
// Params: context and failed notification row.
// Returns: persistence error; the send outcome lands in the row status.
func (d *Dispatcher) Redeliver(ctx context.Context, notification domain.Notification) error {
	sender, ok := d.registry.Sender(notification.Channel)
	if !ok {
		notification.Status = domain.NotificationFailed
		notification.FailReason = "channel no longer configured"
		notification.Permanent = true
		notification.RetryCount++
		notification.UpdateTime = d.clk.Now()
		return d.store.UpdateNotification(ctx, notification)
	}

	message := Message{
		Recipient: notification.Recipient,
		Body:      notification.Content,
	}
	if alert, err := d.store.GetAlert(ctx, notification.AlertID); err == nil {
		message.Alert = alert
		message.Subject = DefaultSubject(alert)
	}

	metrics.NotificationRetries.WithLabelValues(notification.Channel).Inc()
	sendErr := sender.Send(ctx, message)

	now := d.clk.Now()
	notification.RetryCount++
	notification.UpdateTime = now
	if sendErr != nil {
		notification.Status = domain.NotificationFailed
		notification.FailReason = sendErr.Error()
		notification.Permanent = faults.IsPermanent(sendErr)
		metrics.Notifications.WithLabelValues(notification.Channel, "failed").Inc()
		d.logger.Warn("notification retry failed",
			"notification_id", notification.ID, "alert_id", notification.AlertID,
			"channel", notification.Channel, "attempt", notification.RetryCount,
			"permanent", faults.IsPermanent(sendErr), "error", sendErr.Error())
	} else {
		notification.Status = domain.NotificationSuccess
		notification.FailReason = ""
		notification.SentTime = &now
		metrics.Notifications.WithLabelValues(notification.Channel, "success").Inc()
		d.logger.Info("notification retry delivered",
			"notification_id", notification.ID, "alert_id", notification.AlertID,
			"channel", notification.Channel, "attempt", notification.RetryCount)
	}

	if err := d.store.UpdateNotification(ctx, notification); err != nil {
		return fmt.Errorf("update notification %d: %w", notification.ID, err)
	}
	if sendErr == nil {
		return d.store.MarkNotified(ctx, notification.AlertID, now)
	}
	return nil
}

// deliverOne records, sends, and finalizes one channel/recipient delivery.
// Params: sender, alert, channel key, and recipient address.
// Returns: persistence error; the send outcome lands in the row status.
func (d *Dispatcher) deliverOne(ctx context.Context, sender Sender, alert domain.Alert, channel, recipient string) error {
	body, err := d.renderer.Body(channel, alert)
	if err != nil {
		d.logger.Error("notification render failed", "alert_id", alert.ID, "channel", channel, "error", err.Error())
		body = defaultBody(alert)
	}
	subject := ""
	if channel == config.ChannelEmail {
		subject, err = d.renderer.Subject(alert)
		if err != nil {
			d.logger.Error("subject render failed", "alert_id", alert.ID, "error", err.Error())
			subject = DefaultSubject(alert)
		}
	}

	now := d.clk.Now()
	pending, err := d.store.SaveNotification(ctx, domain.Notification{
		AlertID:    alert.ID,
		AlertUUID:  alert.UUID,
		Channel:    channel,
		Recipient:  recipient,
		Content:    body,
		Status:     domain.NotificationPending,
		CreateTime: now,
		UpdateTime: now,
	})
	if err != nil {
		return fmt.Errorf("save notification for alert %d: %w", alert.ID, err)
	}

	sendErr := sender.Send(ctx, Message{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Alert:     alert,
	})

	finishedAt := d.clk.Now()
	pending.UpdateTime = finishedAt
	if sendErr != nil {
		pending.Status = domain.NotificationFailed
		pending.FailReason = sendErr.Error()
		pending.Permanent = faults.IsPermanent(sendErr)
		metrics.Notifications.WithLabelValues(channel, "failed").Inc()
		d.logger.Warn("notification delivery failed",
			"alert_id", alert.ID, "channel", channel, "recipient", recipient,
			"permanent", faults.IsPermanent(sendErr), "error", sendErr.Error())
	} else {
		pending.Status = domain.NotificationSuccess
		pending.SentTime = &finishedAt
		metrics.Notifications.WithLabelValues(channel, "success").Inc()
		d.logger.Info("notification delivered",
			"alert_id", alert.ID, "channel", channel, "recipient", recipient)
	}

	if err := d.store.UpdateNotification(ctx, pending); err != nil {
		return fmt.Errorf("update notification %d: %w", pending.ID, err)
	}
	return nil
}

// severityAllowed checks the channel minimum-severity floor.
// Params: channel key and alert severity.
// Returns: true when the channel has no floor or severity meets it.
func (d *Dispatcher) severityAllowed(channel string, severity domain.Severity) bool {
	floor := strings.TrimSpace(config.ChannelMinSeverity(d.cfg, channel))
	if floor == "" {
		return true
	}
	return severity.Rank() >= domain.Severity(strings.ToUpper(floor)).Rank()
}

// beginDispatch marks one alert as having an in-flight dispatch.
// Params: alert ID.
// Returns: false when a dispatch for the alert is already running.
func (d *Dispatcher) beginDispatch(alertID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[alertID]; busy {
		return false
	}
	d.inflight[alertID] = struct{}{}
	return true
}

// endDispatch clears the in-flight marker for one alert.
// Params: alert ID.
// Returns: none.
func (d *Dispatcher) endDispatch(alertID int64) {
	d.mu.Lock()
	delete(d.inflight, alertID)
	d.mu.Unlock()
}
