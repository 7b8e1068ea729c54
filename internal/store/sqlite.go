package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"monalert/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	message TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	asset_id INTEGER NOT NULL,
	asset_name TEXT NOT NULL DEFAULT '',
	asset_type TEXT NOT NULL DEFAULT '',
	metric_name TEXT NOT NULL,
	metric_value REAL NOT NULL,
	threshold REAL NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	acknowledged_time INTEGER,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolved_time INTEGER,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolve_comment TEXT NOT NULL DEFAULT '',
	notified INTEGER NOT NULL DEFAULT 0,
	last_notified_time INTEGER,
	notification_count INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '{}',
	create_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_key
	ON alerts(asset_id, metric_name)
	WHERE status IN ('ACTIVE','ACKNOWLEDGED');
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id INTEGER NOT NULL,
	alert_uuid TEXT NOT NULL,
	channel TEXT NOT NULL,
	recipient TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	permanent INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	sent_time INTEGER,
	create_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
CREATE INDEX IF NOT EXISTS idx_notifications_retry ON notifications(status, retry_count, create_time);
`

const alertColumns = `id, uuid, name, message, severity, status, alert_type,
	asset_id, asset_name, asset_type, metric_name, metric_value, threshold,
	start_time, end_time, acknowledged_time, acknowledged_by,
	resolved_time, resolved_by, resolve_comment,
	notified, last_notified_time, notification_count, tags, create_time, update_time`

const notificationColumns = `id, alert_id, alert_uuid, channel, recipient, content,
	status, fail_reason, permanent, retry_count, sent_time, create_time, update_time`

// SQLiteStore persists alerts and notifications in one SQLite database.
// Params: database handle opened in single-writer WAL mode.
// Returns: durable store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database, applies pragmas, and ensures schema.
// Params: database file path.
// Returns: initialized store or open/migration error.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateAlertIfAbsent inserts alert unless its dedup key has an open holder.
// Params: alert payload without ID.
// Returns: stored or existing alert, created flag, and error.
func (s *SQLiteStore) CreateAlertIfAbsent(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	tags, err := encodeTags(alert.Tags)
	if err != nil {
		return domain.Alert{}, false, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			uuid, name, message, severity, status, alert_type,
			asset_id, asset_name, asset_type, metric_name, metric_value, threshold,
			start_time, end_time, acknowledged_time, acknowledged_by,
			resolved_time, resolved_by, resolve_comment,
			notified, last_notified_time, notification_count, tags, create_time, update_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, metric_name) WHERE status IN ('ACTIVE','ACKNOWLEDGED') DO NOTHING`,
		alert.UUID, alert.Name, alert.Message, string(alert.Severity), string(alert.Status), string(alert.Type),
		alert.AssetID, alert.AssetName, alert.AssetType, alert.MetricName, alert.MetricValue, alert.Threshold,
		toMillis(alert.StartTime), toNullMillis(alert.EndTime), toNullMillis(alert.AcknowledgedTime), alert.AcknowledgedBy,
		toNullMillis(alert.ResolvedTime), alert.ResolvedBy, alert.ResolveComment,
		boolToInt(alert.Notified), toNullMillis(alert.LastNotifiedTime), alert.NotificationCount, tags,
		toMillis(alert.CreateTime), toMillis(alert.UpdateTime),
	)
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("insert alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("insert alert rows: %w", err)
	}
	if affected == 0 {
		existing, err := s.FindOpenByKey(ctx, alert.DedupKey())
		if err != nil {
			return domain.Alert{}, false, err
		}
		return existing, false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("insert alert id: %w", err)
	}
	alert.ID = id
	return alert, true, nil
}

// GetAlert returns alert by numeric ID.
// Params: alert ID.
// Returns: stored alert or ErrNotFound.
func (s *SQLiteStore) GetAlert(ctx context.Context, id int64) (domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// GetAlertByUUID returns alert by external UUID.
// Params: alert UUID.
// Returns: stored alert or ErrNotFound.
func (s *SQLiteStore) GetAlertByUUID(ctx context.Context, uuid string) (domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE uuid = ?`, uuid)
	return scanAlert(row)
}

// FindOpenByKey returns the open alert holding one dedup key.
// Params: dedup key.
// Returns: open alert or ErrNotFound.
func (s *SQLiteStore) FindOpenByKey(ctx context.Context, key domain.DedupKey) (domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE asset_id = ? AND metric_name = ? AND status IN ('ACTIVE','ACKNOWLEDGED')`,
		key.AssetID, key.MetricName)
	return scanAlert(row)
}

// ListAlertsByStatus lists alerts in one status ordered by creation descending.
// Params: status filter, page limit, and offset.
// Returns: matching alert page.
func (s *SQLiteStore) ListAlertsByStatus(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE status = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts by status: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// CountOpenBySeverity counts open alerts grouped by severity.
// Params: none.
// Returns: severity counters for non-terminal alerts.
func (s *SQLiteStore) CountOpenBySeverity(ctx context.Context) (map[domain.Severity]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM alerts
		WHERE status IN ('ACTIVE','ACKNOWLEDGED') GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("count open alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Severity]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		counts[domain.Severity(severity)] = count
	}
	return counts, rows.Err()
}

// UpdateAlertStatus writes lifecycle fields guarded by expected status.
// Params: updated alert and expected current status.
// Returns: ErrConflict on concurrent move, ErrNotFound when absent.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, alert domain.Alert, expected domain.AlertStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			status = ?, severity = ?, end_time = ?,
			acknowledged_time = ?, acknowledged_by = ?,
			resolved_time = ?, resolved_by = ?, resolve_comment = ?,
			update_time = ?
		WHERE id = ? AND status = ?`,
		string(alert.Status), string(alert.Severity), toNullMillis(alert.EndTime),
		toNullMillis(alert.AcknowledgedTime), alert.AcknowledgedBy,
		toNullMillis(alert.ResolvedTime), alert.ResolvedBy, alert.ResolveComment,
		toMillis(alert.UpdateTime),
		alert.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	return s.guardedWriteOutcome(ctx, result, alert.ID)
}

// MarkNotified increments notification counter and stamps last notified time.
// Params: alert ID and notification time.
// Returns: ErrNotFound when alert is absent.
func (s *SQLiteStore) MarkNotified(ctx context.Context, alertID int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			notified = 1,
			last_notified_time = ?,
			notification_count = notification_count + 1,
			update_time = ?
		WHERE id = ?`,
		at.UnixMilli(), at.UnixMilli(), alertID)
	if err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notified rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyEscalation raises severity and resets the notified flag for re-delivery.
// Params: alert ID, target severity, and escalation time.
// Returns: ErrConflict when the alert is no longer ACTIVE.
func (s *SQLiteStore) ApplyEscalation(ctx context.Context, alertID int64, severity domain.Severity, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET severity = ?, notified = 0, update_time = ?
		WHERE id = ? AND status = 'ACTIVE'`,
		string(severity), at.UnixMilli(), alertID)
	if err != nil {
		return fmt.Errorf("apply escalation: %w", err)
	}
	return s.guardedWriteOutcome(ctx, result, alertID)
}

// ListEscalatable lists ACTIVE alerts old enough and below the notification cap.
// Params: start-time cutoff and notification count cap.
// Returns: escalation candidates ordered by ID.
func (s *SQLiteStore) ListEscalatable(ctx context.Context, activeBefore time.Time, maxNotifications int) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE status = 'ACTIVE' AND start_time < ? AND notification_count < ?
		ORDER BY id`,
		activeBefore.UnixMilli(), maxNotifications)
	if err != nil {
		return nil, fmt.Errorf("list escalatable alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// SaveNotification inserts one notification record.
// Params: notification payload without ID.
// Returns: stored notification with assigned ID.
func (s *SQLiteStore) SaveNotification(ctx context.Context, notification domain.Notification) (domain.Notification, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			alert_id, alert_uuid, channel, recipient, content,
			status, fail_reason, permanent, retry_count, sent_time, create_time, update_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.AlertID, notification.AlertUUID, notification.Channel,
		notification.Recipient, notification.Content,
		string(notification.Status), notification.FailReason,
		boolToInt(notification.Permanent), notification.RetryCount,
		toNullMillis(notification.SentTime),
		toMillis(notification.CreateTime), toMillis(notification.UpdateTime),
	)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.Notification{}, fmt.Errorf("insert notification id: %w", err)
	}
	notification.ID = id
	return notification, nil
}

// UpdateNotification overwrites delivery fields of one notification record.
// Params: notification with ID and updated delivery state.
// Returns: ErrNotFound when the row is absent.
func (s *SQLiteStore) UpdateNotification(ctx context.Context, notification domain.Notification) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET
			status = ?, fail_reason = ?, permanent = ?, retry_count = ?, sent_time = ?, update_time = ?
		WHERE id = ?`,
		string(notification.Status), notification.FailReason,
		boolToInt(notification.Permanent), notification.RetryCount,
		toNullMillis(notification.SentTime), toMillis(notification.UpdateTime),
		notification.ID)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNotificationsByAlert lists all delivery records for one alert.
// Params: alert ID.
// Returns: notifications ordered by ID.
func (s *SQLiteStore) ListNotificationsByAlert(ctx context.Context, alertID int64) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE alert_id = ? ORDER BY id`,
		alertID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ListFailedNotifications lists retryable failed deliveries inside the window.
// Params: retry cap and creation-time lower bound.
// Returns: non-permanent FAILED notifications with retryCount below cap.
func (s *SQLiteStore) ListFailedNotifications(ctx context.Context, maxRetries int, since time.Time) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'FAILED' AND permanent = 0 AND retry_count < ? AND create_time >= ?
		ORDER BY id`,
		maxRetries, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list failed notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// SweepStalePending converts stale PENDING notifications into FAILED.
// Params: creation-time cutoff.
// Returns: number of converted rows.
func (s *SQLiteStore) SweepStalePending(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET
			status = 'FAILED', fail_reason = 'stale pending delivery', update_time = ?
		WHERE status = 'PENDING' AND create_time < ?`,
		olderThan.UnixMilli(), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep stale pending: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale pending rows: %w", err)
	}
	return int(affected), nil
}

// Close closes the database handle.
// Params: none.
// Returns: close error.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// guardedWriteOutcome distinguishes missing rows from status conflicts.
// Params: exec result of a status-guarded update and alert ID.
// Returns: nil on success, ErrNotFound or ErrConflict otherwise.
func (s *SQLiteStore) guardedWriteOutcome(ctx context.Context, result sql.Result, alertID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("guarded write rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, alertID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("guarded write lookup: %w", err)
	}
	return ErrConflict
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
// Params: positional scan destinations.
// Returns: scan error.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAlert reads one alert row into the domain model.
// Params: row scanner positioned on one alert record.
// Returns: decoded alert or ErrNotFound.
func scanAlert(row rowScanner) (domain.Alert, error) {
	var (
		alert                                  domain.Alert
		severity, status, alertType, tags      string
		startTime, createTime, updateTime      int64
		endTime, ackTime, resolvedTime, ntTime sql.NullInt64
		notified                               int
	)
	err := row.Scan(
		&alert.ID, &alert.UUID, &alert.Name, &alert.Message, &severity, &status, &alertType,
		&alert.AssetID, &alert.AssetName, &alert.AssetType, &alert.MetricName, &alert.MetricValue, &alert.Threshold,
		&startTime, &endTime, &ackTime, &alert.AcknowledgedBy,
		&resolvedTime, &alert.ResolvedBy, &alert.ResolveComment,
		&notified, &ntTime, &alert.NotificationCount, &tags, &createTime, &updateTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, ErrNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("scan alert: %w", err)
	}

	alert.Severity = domain.Severity(severity)
	alert.Status = domain.AlertStatus(status)
	alert.Type = domain.AlertType(alertType)
	alert.StartTime = fromMillis(startTime)
	alert.EndTime = fromNullMillis(endTime)
	alert.AcknowledgedTime = fromNullMillis(ackTime)
	alert.ResolvedTime = fromNullMillis(resolvedTime)
	alert.Notified = notified != 0
	alert.LastNotifiedTime = fromNullMillis(ntTime)
	alert.CreateTime = fromMillis(createTime)
	alert.UpdateTime = fromMillis(updateTime)

	decodedTags, err := decodeTags(tags)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.Tags = decodedTags
	return alert, nil
}

// collectNotifications reads all notification rows from a query result.
// Params: open sql rows.
// Returns: decoded notification list.
func collectNotifications(rows *sql.Rows) ([]domain.Notification, error) {
	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			notification           domain.Notification
			status                 string
			permanent              int
			sentTime               sql.NullInt64
			createTime, updateTime int64
		)
		err := rows.Scan(
			&notification.ID, &notification.AlertID, &notification.AlertUUID,
			&notification.Channel, &notification.Recipient, &notification.Content,
			&status, &notification.FailReason, &permanent, &notification.RetryCount,
			&sentTime, &createTime, &updateTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notification.Status = domain.NotificationStatus(status)
		notification.Permanent = permanent != 0
		notification.SentTime = fromNullMillis(sentTime)
		notification.CreateTime = fromMillis(createTime)
		notification.UpdateTime = fromMillis(updateTime)
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

// encodeTags serializes the tags map for storage.
// Params: tags map (may be nil).
// Returns: JSON document text.
func encodeTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "{}", nil
	}
	body, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(body), nil
}

// decodeTags parses the stored tags document.
// Params: JSON document text.
// Returns: tags map, nil for empty documents.
func decodeTags(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// boolToInt converts a flag into its integer column value.
// Params: flag value.
// Returns: 1 for true, 0 for false.
func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// toMillis converts time to unix milliseconds.
// Params: timestamp value.
// Returns: milliseconds since epoch.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// toNullMillis converts optional time to a nullable millisecond column value.
// Params: optional timestamp pointer.
// Returns: NULL for nil, milliseconds otherwise.
func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// fromMillis converts unix milliseconds into UTC time.
// Params: milliseconds since epoch.
// Returns: UTC timestamp.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// fromNullMillis converts nullable millisecond column into optional time.
// Params: nullable column value.
// Returns: nil for NULL, UTC timestamp pointer otherwise.
func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.UnixMilli(value.Int64).UTC()
	return &t
}
