// Package ingest consumes threshold events and notification intents from the bus.
package ingest

import (
	"context"
	"log/slog"

	"monalert/internal/domain"
	"monalert/internal/faults"
	"monalert/internal/metrics"
)

// disposition tells the transport layer how to settle one message.
type disposition int

const (
	// dispositionAck settles the message as done, including dropped messages.
	dispositionAck disposition = iota
	// dispositionNak asks the bus to redeliver the message later.
	dispositionNak
)

const payloadSnippetLimit = 256

// alertBackend is the engine surface the consumers need.
// Params: event processing and alert lookup operations.
// Returns: alert results for handler decisions.
type alertBackend interface {
	ProcessThresholdEvent(ctx context.Context, event domain.ThresholdEvent) (domain.Alert, bool, error)
	Get(ctx context.Context, id int64) (domain.Alert, error)
	GetByUUID(ctx context.Context, uuid string) (domain.Alert, error)
}

// dispatching delivers notifications for one alert.
// Params: context, alert, channel list, and recipient override.
// Returns: persistence error.
type dispatching interface {
	Dispatch(ctx context.Context, alert domain.Alert, channels, recipients []string) error
}

// Handler classifies and processes inbound bus payloads.
// Params: engine backend, dispatcher, and logger.
// Returns: per-message dispositions for the transport layer.
type Handler struct {
	backend    alertBackend
	dispatcher dispatching
	logger     *slog.Logger
}

// NewHandler builds the consumer message handler.
// Params: engine backend, dispatcher, and logger.
// Returns: initialized handler.
func NewHandler(backend alertBackend, dispatcher dispatching, logger *slog.Logger) *Handler {
	return &Handler{
		backend:    backend,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleThresholdEvent processes one threshold event payload.
// Params: context, source topic label, and raw message bytes.
// Returns: ack for handled/dropped payloads, nak for retryable failures.
func (h *Handler) HandleThresholdEvent(ctx context.Context, topic string, raw []byte) disposition {
	metrics.EventsConsumed.WithLabelValues(topic).Inc()

	event, err := domain.DecodeThresholdEvent(raw)
	if err != nil {
		// Malformed payloads never become valid on redelivery.
		h.logger.Warn("threshold event rejected",
			"topic", topic, "error", err.Error(), "payload", payloadSnippet(raw))
		metrics.EventsDropped.WithLabelValues(topic, "decode").Inc()
		return dispositionAck
	}

	alert, created, err := h.backend.ProcessThresholdEvent(ctx, event)
	if err != nil {
		if faults.RetryableTransport(err) {
			h.logger.Warn("threshold event deferred",
				"topic", topic, "asset_id", event.AssetID, "metric", event.MetricName, "error", err.Error())
			metrics.EventsRedelivered.WithLabelValues(topic).Inc()
			return dispositionNak
		}
		h.logger.Error("threshold event dropped",
			"topic", topic, "asset_id", event.AssetID, "metric", event.MetricName,
			"error", err.Error(), "payload", payloadSnippet(raw))
		metrics.EventsDropped.WithLabelValues(topic, "process").Inc()
		return dispositionAck
	}

	if created {
		if err := h.dispatcher.Dispatch(ctx, alert, nil, nil); err != nil {
			// Delivery bookkeeping failures are retried by the scheduler, not the bus.
			h.logger.Error("initial notification dispatch failed",
				"alert_id", alert.ID, "error", err.Error())
		}
	}
	return dispositionAck
}

// HandleNotificationIntent processes one notification intent payload.
// Params: context, source topic label, and raw message bytes.
// Returns: ack for handled/dropped payloads, nak for retryable failures.
func (h *Handler) HandleNotificationIntent(ctx context.Context, topic string, raw []byte) disposition {
	metrics.EventsConsumed.WithLabelValues(topic).Inc()

	intent, err := domain.DecodeNotificationIntent(raw)
	if err != nil {
		h.logger.Warn("notification intent rejected",
			"topic", topic, "error", err.Error(), "payload", payloadSnippet(raw))
		metrics.EventsDropped.WithLabelValues(topic, "decode").Inc()
		return dispositionAck
	}

	alert, err := h.loadIntentAlert(ctx, intent)
	if err != nil {
		if faults.IsNotFound(err) {
			h.logger.Error("notification intent references unknown alert",
				"topic", topic, "alert_id", intent.AlertID, "alert_uuid", intent.AlertUUID,
				"payload", payloadSnippet(raw))
			metrics.EventsDropped.WithLabelValues(topic, "unknown_alert").Inc()
			return dispositionAck
		}
		h.logger.Warn("notification intent deferred",
			"topic", topic, "alert_id", intent.AlertID, "error", err.Error())
		metrics.EventsRedelivered.WithLabelValues(topic).Inc()
		return dispositionNak
	}

	if err := h.dispatcher.Dispatch(ctx, alert, intent.Channels, intent.Recipients); err != nil {
		h.logger.Error("intent notification dispatch failed",
			"alert_id", alert.ID, "error", err.Error())
	}
	return dispositionAck
}

// loadIntentAlert resolves the alert an intent points at.
// Params: context and decoded intent.
// Returns: alert by ID when set, otherwise by UUID.
func (h *Handler) loadIntentAlert(ctx context.Context, intent domain.NotificationIntent) (domain.Alert, error) {
	if intent.AlertID > 0 {
		return h.backend.Get(ctx, intent.AlertID)
	}
	return h.backend.GetByUUID(ctx, intent.AlertUUID)
}

// payloadSnippet truncates raw payload bytes for log output.
// Params: raw message bytes.
// Returns: payload prefix as string.
func payloadSnippet(raw []byte) string {
	if len(raw) > payloadSnippetLimit {
		return string(raw[:payloadSnippetLimit]) + "..."
	}
	return string(raw)
}
