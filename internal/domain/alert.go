package domain

import "time"

// Severity ranks alert importance.
// Params: INFO/WARNING/CRITICAL constants.
// Returns: ordered severity used for escalation and channel filtering.
type Severity string

const (
	// SeverityInfo marks informational alerts.
	SeverityInfo Severity = "INFO"
	// SeverityWarning marks degraded-but-working conditions.
	SeverityWarning Severity = "WARNING"
	// SeverityCritical marks conditions requiring immediate attention.
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns numeric severity order for comparisons.
// Params: none.
// Returns: 0 for INFO, 1 for WARNING, 2 for CRITICAL, -1 for unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// Next returns the escalated severity one step up the ladder.
// Params: none.
// Returns: WARNING for INFO, CRITICAL for WARNING, CRITICAL stays CRITICAL.
func (s Severity) Next() Severity {
	switch s {
	case SeverityInfo:
		return SeverityWarning
	case SeverityWarning:
		return SeverityCritical
	default:
		return s
	}
}

// ValidSeverity reports whether value is a known severity constant.
// Params: candidate severity value.
// Returns: true for INFO/WARNING/CRITICAL.
func ValidSeverity(s Severity) bool {
	return s.Rank() >= 0
}

// AlertStatus is the alert lifecycle state.
// Params: ACTIVE/ACKNOWLEDGED/RESOLVED/CLOSED constants.
// Returns: lifecycle state driving transition guards.
type AlertStatus string

const (
	// StatusActive marks a newly raised, unhandled alert.
	StatusActive AlertStatus = "ACTIVE"
	// StatusAcknowledged marks an alert an operator has taken ownership of.
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	// StatusResolved marks an alert whose underlying condition has cleared.
	StatusResolved AlertStatus = "RESOLVED"
	// StatusClosed marks a terminal, archived alert.
	StatusClosed AlertStatus = "CLOSED"
)

// Terminal reports whether status ends the alert lifecycle.
// Params: none.
// Returns: true only for CLOSED.
func (s AlertStatus) Terminal() bool {
	return s == StatusClosed
}

// Open reports whether status counts toward the one-open-alert-per-key rule.
// Params: none.
// Returns: true for ACTIVE and ACKNOWLEDGED.
func (s AlertStatus) Open() bool {
	return s == StatusActive || s == StatusAcknowledged
}

// CanTransition reports whether status may move to next via normal operations.
// Params: requested next status.
// Returns: true when transition follows the lifecycle order, including the
// ACTIVE to RESOLVED shortcut for conditions that clear before acknowledgement.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusAcknowledged || next == StatusResolved
	case StatusAcknowledged:
		return next == StatusResolved
	case StatusResolved:
		return next == StatusClosed
	default:
		return false
	}
}

// ValidStatus reports whether value is a known lifecycle status.
// Params: candidate status value.
// Returns: true for the four lifecycle constants.
func ValidStatus(s AlertStatus) bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// AlertType classifies the detection source of an alert.
// Params: THRESHOLD/TREND/PATTERN constants.
// Returns: detection type stored with the alert.
type AlertType string

const (
	// TypeThreshold marks alerts raised by metric threshold breaches.
	TypeThreshold AlertType = "THRESHOLD"
	// TypeTrend marks alerts raised by trend analysis.
	TypeTrend AlertType = "TREND"
	// TypePattern marks alerts raised by pattern detection.
	TypePattern AlertType = "PATTERN"
)

// NotificationStatus is the delivery state of one notification record.
// Params: PENDING/SUCCESS/FAILED constants.
// Returns: delivery state driving retry selection.
type NotificationStatus string

const (
	// NotificationPending marks a created but not yet delivered notification.
	NotificationPending NotificationStatus = "PENDING"
	// NotificationSuccess marks a delivered notification.
	NotificationSuccess NotificationStatus = "SUCCESS"
	// NotificationFailed marks a notification whose delivery attempt failed.
	NotificationFailed NotificationStatus = "FAILED"
)

// Alert is one persisted alert with full lifecycle and audit fields.
// Params: identity, dedup key, lifecycle timestamps, and notification bookkeeping.
// Returns: alert row exchanged between store, engine, and transports.
type Alert struct {
	ID                int64             `json:"id"`
	UUID              string            `json:"uuid"`
	Name              string            `json:"name"`
	Message           string            `json:"message"`
	Severity          Severity          `json:"severity"`
	Status            AlertStatus       `json:"status"`
	Type              AlertType         `json:"type"`
	AssetID           int64             `json:"assetId"`
	AssetName         string            `json:"assetName,omitempty"`
	AssetType         string            `json:"assetType,omitempty"`
	MetricName        string            `json:"metricName"`
	MetricValue       float64           `json:"metricValue"`
	Threshold         float64           `json:"threshold"`
	StartTime         time.Time         `json:"startTime"`
	EndTime           *time.Time        `json:"endTime,omitempty"`
	AcknowledgedTime  *time.Time        `json:"acknowledgedTime,omitempty"`
	AcknowledgedBy    string            `json:"acknowledgedBy,omitempty"`
	ResolvedTime      *time.Time        `json:"resolvedTime,omitempty"`
	ResolvedBy        string            `json:"resolvedBy,omitempty"`
	ResolveComment    string            `json:"resolveComment,omitempty"`
	Notified          bool              `json:"notified"`
	LastNotifiedTime  *time.Time        `json:"lastNotifiedTime,omitempty"`
	NotificationCount int               `json:"notificationCount"`
	Tags              map[string]string `json:"tags,omitempty"`
	CreateTime        time.Time         `json:"createTime"`
	UpdateTime        time.Time         `json:"updateTime"`
}

// DedupKey returns the deduplication identity of the alert.
// Params: none.
// Returns: key pair shared by all events for the same asset metric.
func (a Alert) DedupKey() DedupKey {
	return DedupKey{AssetID: a.AssetID, MetricName: a.MetricName}
}

// DedupKey identifies one asset metric for open-alert deduplication.
// Params: asset ID and metric name.
// Returns: comparable key used for per-key serialization and uniqueness.
type DedupKey struct {
	AssetID    int64
	MetricName string
}

// Notification is one delivery attempt record for an alert.
// Params: alert linkage, channel/recipient pair, and delivery audit fields.
// A set Permanent flag ends retry selection for the row.
// Returns: notification row persisted for audit and retry.
type Notification struct {
	ID         int64              `json:"id"`
	AlertID    int64              `json:"alertId"`
	AlertUUID  string             `json:"alertUuid"`
	Channel    string             `json:"channel"`
	Recipient  string             `json:"recipient"`
	Content    string             `json:"content"`
	Status     NotificationStatus `json:"status"`
	FailReason string             `json:"failReason,omitempty"`
	Permanent  bool               `json:"permanent,omitempty"`
	RetryCount int                `json:"retryCount"`
	SentTime   *time.Time         `json:"sentTime,omitempty"`
	CreateTime time.Time          `json:"createTime"`
	UpdateTime time.Time          `json:"updateTime"`
}
