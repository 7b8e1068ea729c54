package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ThresholdEvent is one normalized metric breach from the monitoring pipeline.
// Params: asset identity, breached metric, severity, and event timestamp.
// Returns: validated event payload for alert creation.
type ThresholdEvent struct {
	AssetID    int64             `json:"assetId"`
	AssetName  string            `json:"assetName,omitempty"`
	AssetType  string            `json:"assetType,omitempty"`
	MetricName string            `json:"metricName"`
	Value      float64           `json:"value"`
	Threshold  float64           `json:"threshold"`
	Severity   Severity          `json:"severity"`
	Timestamp  int64             `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: none.
// Returns: converted UTC time.
func (e ThresholdEvent) EventTime() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Key returns the deduplication identity of the event.
// Params: none.
// Returns: key pair matching the open alert this event would merge into.
func (e ThresholdEvent) Key() DedupKey {
	return DedupKey{AssetID: e.AssetID, MetricName: e.MetricName}
}

// DecodeThresholdEvent decodes and validates one threshold event payload.
// Params: JSON document bytes.
// Returns: validated event or decode/validation error.
func DecodeThresholdEvent(raw []byte) (ThresholdEvent, error) {
	var event ThresholdEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ThresholdEvent{}, fmt.Errorf("decode threshold event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return ThresholdEvent{}, err
	}
	return event, nil
}

// Validate validates one threshold event against the contract.
// Params: event fields parsed from transport.
// Returns: validation error when schema is violated.
func (e ThresholdEvent) Validate() error {
	if e.AssetID <= 0 {
		return errors.New("assetId must be >0")
	}
	if strings.TrimSpace(e.MetricName) == "" {
		return errors.New("metricName is required")
	}
	if !ValidSeverity(e.Severity) {
		return fmt.Errorf("unsupported severity %q", e.Severity)
	}
	if e.Timestamp <= 0 {
		return errors.New("timestamp must be >0")
	}
	return nil
}

// NotificationIntent is one out-of-band dispatch request for an existing alert.
// Params: alert reference plus explicit channel and recipient targeting.
// Returns: validated intent payload for the notification consumer.
type NotificationIntent struct {
	AlertID    int64             `json:"alertId"`
	AlertUUID  string            `json:"alertUuid,omitempty"`
	Channels   []string          `json:"channels"`
	Recipients []string          `json:"recipients,omitempty"`
	ExtraInfo  map[string]string `json:"extraInfo,omitempty"`
}

// DecodeNotificationIntent decodes and validates one intent payload.
// Params: JSON document bytes.
// Returns: validated intent or decode/validation error.
func DecodeNotificationIntent(raw []byte) (NotificationIntent, error) {
	var intent NotificationIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return NotificationIntent{}, fmt.Errorf("decode notification intent: %w", err)
	}
	if err := intent.Validate(); err != nil {
		return NotificationIntent{}, err
	}
	return intent, nil
}

// Validate validates one notification intent against the contract.
// Params: intent fields parsed from transport.
// Returns: validation error when schema is violated.
func (i NotificationIntent) Validate() error {
	if i.AlertID <= 0 && strings.TrimSpace(i.AlertUUID) == "" {
		return errors.New("alertId or alertUuid is required")
	}
	if len(i.Channels) == 0 {
		return errors.New("channels are required")
	}
	for _, channel := range i.Channels {
		if strings.TrimSpace(channel) == "" {
			return errors.New("channels must not contain empty entries")
		}
	}
	return nil
}

// StatusUpdate is the published record of one lifecycle transition.
// Params: alert reference, old/new status, actor, and transition time.
// Returns: best-effort payload for the status-update topic.
type StatusUpdate struct {
	AlertID   int64       `json:"alertId"`
	AlertUUID string      `json:"alertUuid"`
	From      AlertStatus `json:"from"`
	To        AlertStatus `json:"to"`
	Actor     string      `json:"actor,omitempty"`
	At        time.Time   `json:"at"`
}

// EscalationNotice is the published record of one severity escalation.
// Params: alert reference, severity change, and escalation time.
// Returns: best-effort payload for the escalation topic.
type EscalationNotice struct {
	AlertID   int64     `json:"alertId"`
	AlertUUID string    `json:"alertUuid"`
	From      Severity  `json:"from"`
	To        Severity  `json:"to"`
	At        time.Time `json:"at"`
}
