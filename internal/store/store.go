package store

import (
	"context"
	"errors"
	"time"

	"monalert/internal/domain"
)

var (
	// ErrNotFound indicates absent alert/notification row.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the guarded status write lost to a concurrent update.
	ErrConflict = errors.New("status conflict")
)

// Store provides alert and notification persistence operations.
// Params: guarded lifecycle writes, dedup-aware creation, and scheduler queries.
// Returns: backend persistence behavior.
type Store interface {
	// CreateAlertIfAbsent inserts alert unless an open alert already holds its
	// dedup key. Returns the stored alert and true on insert, or the existing
	// open alert and false when the key is taken.
	CreateAlertIfAbsent(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error)
	GetAlert(ctx context.Context, id int64) (domain.Alert, error)
	GetAlertByUUID(ctx context.Context, uuid string) (domain.Alert, error)
	FindOpenByKey(ctx context.Context, key domain.DedupKey) (domain.Alert, error)
	ListAlertsByStatus(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error)
	CountOpenBySeverity(ctx context.Context) (map[domain.Severity]int, error)

	// UpdateAlertStatus writes alert lifecycle fields guarded by the expected
	// current status. Returns ErrConflict when another writer moved the alert
	// first, ErrNotFound when the row is gone.
	UpdateAlertStatus(ctx context.Context, alert domain.Alert, expected domain.AlertStatus) error
	MarkNotified(ctx context.Context, alertID int64, at time.Time) error
	ApplyEscalation(ctx context.Context, alertID int64, severity domain.Severity, at time.Time) error
	ListEscalatable(ctx context.Context, activeBefore time.Time, maxNotifications int) ([]domain.Alert, error)

	SaveNotification(ctx context.Context, notification domain.Notification) (domain.Notification, error)
	UpdateNotification(ctx context.Context, notification domain.Notification) error
	ListNotificationsByAlert(ctx context.Context, alertID int64) ([]domain.Notification, error)
	ListFailedNotifications(ctx context.Context, maxRetries int, since time.Time) ([]domain.Notification, error)
	SweepStalePending(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}
