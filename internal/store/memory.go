package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"monalert/internal/domain"
)

// MemoryStore keeps alerts and notifications in process memory for single mode.
// Params: in-memory maps guarded by one mutex and injected now function.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	alerts        map[int64]domain.Alert
	notifications map[int64]domain.Notification
	nextAlertID   int64
	nextNotifID   int64
}

// NewMemoryStore creates in-memory store.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		alerts:        make(map[int64]domain.Alert),
		notifications: make(map[int64]domain.Notification),
	}
}

// CreateAlertIfAbsent inserts alert unless its dedup key has an open holder.
// Params: alert payload without ID.
// Returns: stored or existing alert, created flag, and error.
func (s *MemoryStore) CreateAlertIfAbsent(_ context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alert.DedupKey()
	for _, existing := range s.alerts {
		if existing.Status.Open() && existing.DedupKey() == key {
			return existing, false, nil
		}
	}

	s.nextAlertID++
	alert.ID = s.nextAlertID
	s.alerts[alert.ID] = alert
	return alert, true, nil
}

// GetAlert returns alert by numeric ID.
// Params: alert ID.
// Returns: stored alert or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, id int64) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return alert, nil
}

// GetAlertByUUID returns alert by external UUID.
// Params: alert UUID.
// Returns: stored alert or ErrNotFound.
func (s *MemoryStore) GetAlertByUUID(_ context.Context, uuid string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.UUID == uuid {
			return alert, nil
		}
	}
	return domain.Alert{}, ErrNotFound
}

// FindOpenByKey returns the open alert holding one dedup key.
// Params: dedup key.
// Returns: open alert or ErrNotFound.
func (s *MemoryStore) FindOpenByKey(_ context.Context, key domain.DedupKey) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.Status.Open() && alert.DedupKey() == key {
			return alert, nil
		}
	}
	return domain.Alert{}, ErrNotFound
}

// ListAlertsByStatus lists alerts in one status ordered by creation descending.
// Params: status filter, page limit, and offset.
// Returns: matching alert page.
func (s *MemoryStore) ListAlertsByStatus(_ context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error) {
	s.mu.RLock()
	matched := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if alert.Status == status {
			matched = append(matched, alert)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountOpenBySeverity counts open alerts grouped by severity.
// Params: none.
// Returns: severity counters for non-terminal alerts.
func (s *MemoryStore) CountOpenBySeverity(_ context.Context) (map[domain.Severity]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.Severity]int)
	for _, alert := range s.alerts {
		if alert.Status.Open() {
			counts[alert.Severity]++
		}
	}
	return counts, nil
}

// UpdateAlertStatus writes lifecycle fields guarded by expected status.
// Params: updated alert and expected current status.
// Returns: ErrConflict on concurrent move, ErrNotFound when absent.
func (s *MemoryStore) UpdateAlertStatus(_ context.Context, alert domain.Alert, expected domain.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.alerts[alert.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrConflict
	}
	alert.NotificationCount = current.NotificationCount
	alert.Notified = current.Notified
	alert.LastNotifiedTime = current.LastNotifiedTime
	s.alerts[alert.ID] = alert
	return nil
}

// MarkNotified increments notification counter and stamps last notified time.
// Params: alert ID and notification time.
// Returns: ErrNotFound when alert is absent.
func (s *MemoryStore) MarkNotified(_ context.Context, alertID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	alert.Notified = true
	notifiedAt := at
	alert.LastNotifiedTime = &notifiedAt
	alert.NotificationCount++
	alert.UpdateTime = at
	s.alerts[alertID] = alert
	return nil
}

// ApplyEscalation raises severity and resets the notified flag for re-delivery.
// Params: alert ID, target severity, and escalation time.
// Returns: ErrConflict when the alert is no longer ACTIVE.
func (s *MemoryStore) ApplyEscalation(_ context.Context, alertID int64, severity domain.Severity, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	if alert.Status != domain.StatusActive {
		return ErrConflict
	}
	alert.Severity = severity
	alert.Notified = false
	alert.UpdateTime = at
	s.alerts[alertID] = alert
	return nil
}

// ListEscalatable lists ACTIVE alerts old enough and below the notification cap.
// Params: start-time cutoff and notification count cap.
// Returns: escalation candidates ordered by ID.
func (s *MemoryStore) ListEscalatable(_ context.Context, activeBefore time.Time, maxNotifications int) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if alert.Status != domain.StatusActive {
			continue
		}
		if !alert.StartTime.Before(activeBefore) {
			continue
		}
		if alert.NotificationCount >= maxNotifications {
			continue
		}
		matched = append(matched, alert)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// SaveNotification inserts one notification record.
// Params: notification payload without ID.
// Returns: stored notification with assigned ID.
func (s *MemoryStore) SaveNotification(_ context.Context, notification domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotifID++
	notification.ID = s.nextNotifID
	s.notifications[notification.ID] = notification
	return notification, nil
}

// UpdateNotification overwrites delivery fields of one notification record.
// Params: notification with ID and updated delivery state.
// Returns: ErrNotFound when the row is absent.
func (s *MemoryStore) UpdateNotification(_ context.Context, notification domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[notification.ID]; !ok {
		return ErrNotFound
	}
	s.notifications[notification.ID] = notification
	return nil
}

// ListNotificationsByAlert lists all delivery records for one alert.
// Params: alert ID.
// Returns: notifications ordered by ID.
func (s *MemoryStore) ListNotificationsByAlert(_ context.Context, alertID int64) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]domain.Notification, 0)
	for _, notification := range s.notifications {
		if notification.AlertID == alertID {
			matched = append(matched, notification)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// ListFailedNotifications lists retryable failed deliveries inside the window.
// Params: retry cap and creation-time lower bound.
// Returns: non-permanent FAILED notifications with retryCount below cap.
func (s *MemoryStore) ListFailedNotifications(_ context.Context, maxRetries int, since time.Time) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]domain.Notification, 0)
	for _, notification := range s.notifications {
		if notification.Status != domain.NotificationFailed || notification.Permanent {
			continue
		}
		if notification.RetryCount >= maxRetries {
			continue
		}
		if notification.CreateTime.Before(since) {
			continue
		}
		matched = append(matched, notification)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// SweepStalePending converts stale PENDING notifications into FAILED.
// Params: creation-time cutoff.
// Returns: number of converted rows.
func (s *MemoryStore) SweepStalePending(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, notification := range s.notifications {
		if notification.Status != domain.NotificationPending {
			continue
		}
		if !notification.CreateTime.Before(olderThan) {
			continue
		}
		notification.Status = domain.NotificationFailed
		notification.FailReason = "stale pending delivery"
		notification.UpdateTime = s.now()
		s.notifications[id] = notification
		swept++
	}
	return swept, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
