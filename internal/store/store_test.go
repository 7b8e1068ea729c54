package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"monalert/internal/domain"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAlert(assetID int64, metric string) domain.Alert {
	return domain.Alert{
		UUID:        "uuid-" + metric + "-" + time.Now().Format("150405.000000000"),
		Name:        metric + " threshold breach",
		Message:     "metric " + metric + " breached threshold",
		Severity:    domain.SeverityWarning,
		Status:      domain.StatusActive,
		Type:        domain.TypeThreshold,
		AssetID:     assetID,
		MetricName:  metric,
		MetricValue: 97.5,
		Threshold:   90,
		StartTime:   testBase,
		Tags:        map[string]string{"env": "prod"},
		CreateTime:  testBase,
		UpdateTime:  testBase,
	}
}

// runStoreSuite exercises the shared persistence contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and dedup", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		alert := testAlert(1, "cpu_usage")
		created, isNew, err := st.CreateAlertIfAbsent(ctx, alert)
		if err != nil || !isNew {
			t.Fatalf("first insert: created=%v err=%v", isNew, err)
		}
		if created.ID <= 0 {
			t.Fatalf("insert must assign ID, got %d", created.ID)
		}

		duplicate := testAlert(1, "cpu_usage")
		duplicate.UUID = duplicate.UUID + "-dup"
		existing, isNew, err := st.CreateAlertIfAbsent(ctx, duplicate)
		if err != nil {
			t.Fatalf("duplicate insert: %v", err)
		}
		if isNew {
			t.Fatalf("open dedup key must suppress second insert")
		}
		if existing.ID != created.ID {
			t.Fatalf("duplicate insert returned alert %d, want %d", existing.ID, created.ID)
		}

		other := testAlert(1, "memory_usage")
		if _, isNew, err = st.CreateAlertIfAbsent(ctx, other); err != nil || !isNew {
			t.Fatalf("different metric must insert: created=%v err=%v", isNew, err)
		}
	})

	t.Run("closed alert releases dedup key", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		first, _, err := st.CreateAlertIfAbsent(ctx, testAlert(2, "disk_usage"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		first.Status = domain.StatusClosed
		if err := st.UpdateAlertStatus(ctx, first, domain.StatusActive); err != nil {
			t.Fatalf("close: %v", err)
		}

		replacement := testAlert(2, "disk_usage")
		replacement.UUID = replacement.UUID + "-second"
		if _, isNew, err := st.CreateAlertIfAbsent(ctx, replacement); err != nil || !isNew {
			t.Fatalf("key must be free after close: created=%v err=%v", isNew, err)
		}
	})

	t.Run("lookups", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		created, _, err := st.CreateAlertIfAbsent(ctx, testAlert(3, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		byID, err := st.GetAlert(ctx, created.ID)
		if err != nil || byID.UUID != created.UUID {
			t.Fatalf("get by id: alert=%+v err=%v", byID, err)
		}
		byUUID, err := st.GetAlertByUUID(ctx, created.UUID)
		if err != nil || byUUID.ID != created.ID {
			t.Fatalf("get by uuid: alert=%+v err=%v", byUUID, err)
		}
		if byID.Tags["env"] != "prod" {
			t.Fatalf("tags must round-trip, got %+v", byID.Tags)
		}

		if _, err := st.GetAlert(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing id error = %v, want ErrNotFound", err)
		}
		if _, err := st.GetAlertByUUID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing uuid error = %v, want ErrNotFound", err)
		}
		if _, err := st.FindOpenByKey(ctx, domain.DedupKey{AssetID: 3, MetricName: "nope"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing key error = %v, want ErrNotFound", err)
		}
	})

	t.Run("guarded status write", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		created, _, err := st.CreateAlertIfAbsent(ctx, testAlert(4, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		acknowledged := created
		acknowledged.Status = domain.StatusAcknowledged
		ackTime := testBase.Add(time.Minute)
		acknowledged.AcknowledgedTime = &ackTime
		acknowledged.AcknowledgedBy = "alice"
		if err := st.UpdateAlertStatus(ctx, acknowledged, domain.StatusActive); err != nil {
			t.Fatalf("acknowledge write: %v", err)
		}

		// The same guard must now lose.
		if err := st.UpdateAlertStatus(ctx, acknowledged, domain.StatusActive); !errors.Is(err, ErrConflict) {
			t.Fatalf("stale guard error = %v, want ErrConflict", err)
		}

		missing := acknowledged
		missing.ID = 9999
		if err := st.UpdateAlertStatus(ctx, missing, domain.StatusAcknowledged); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing row error = %v, want ErrNotFound", err)
		}

		stored, err := st.GetAlert(ctx, created.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if stored.Status != domain.StatusAcknowledged || stored.AcknowledgedBy != "alice" {
			t.Fatalf("acknowledge fields lost: %+v", stored)
		}
	})

	t.Run("status write preserves notification counters", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		created, _, err := st.CreateAlertIfAbsent(ctx, testAlert(5, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := st.MarkNotified(ctx, created.ID, testBase.Add(time.Minute)); err != nil {
			t.Fatalf("mark notified: %v", err)
		}
		if err := st.MarkNotified(ctx, created.ID, testBase.Add(2*time.Minute)); err != nil {
			t.Fatalf("mark notified again: %v", err)
		}

		stale := created // still carries NotificationCount == 0
		stale.Status = domain.StatusAcknowledged
		if err := st.UpdateAlertStatus(ctx, stale, domain.StatusActive); err != nil {
			t.Fatalf("acknowledge write: %v", err)
		}

		stored, err := st.GetAlert(ctx, created.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if stored.NotificationCount != 2 || !stored.Notified {
			t.Fatalf("counters must survive status write: %+v", stored)
		}
		if stored.LastNotifiedTime == nil || !stored.LastNotifiedTime.Equal(testBase.Add(2*time.Minute)) {
			t.Fatalf("last notified time lost: %v", stored.LastNotifiedTime)
		}
	})

	t.Run("escalation", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		created, _, err := st.CreateAlertIfAbsent(ctx, testAlert(6, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := st.MarkNotified(ctx, created.ID, testBase.Add(time.Minute)); err != nil {
			t.Fatalf("mark notified: %v", err)
		}

		candidates, err := st.ListEscalatable(ctx, testBase.Add(time.Hour), 3)
		if err != nil || len(candidates) != 1 {
			t.Fatalf("escalatable = %d err=%v, want 1 candidate", len(candidates), err)
		}
		if candidates, _ = st.ListEscalatable(ctx, testBase.Add(-time.Hour), 3); len(candidates) != 0 {
			t.Fatalf("young alert must not escalate, got %d", len(candidates))
		}
		if candidates, _ = st.ListEscalatable(ctx, testBase.Add(time.Hour), 1); len(candidates) != 0 {
			t.Fatalf("alert at notification cap must not escalate, got %d", len(candidates))
		}

		if err := st.ApplyEscalation(ctx, created.ID, domain.SeverityCritical, testBase.Add(2*time.Hour)); err != nil {
			t.Fatalf("apply escalation: %v", err)
		}
		stored, err := st.GetAlert(ctx, created.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if stored.Severity != domain.SeverityCritical || stored.Notified {
			t.Fatalf("escalation must bump severity and rearm delivery: %+v", stored)
		}

		stored.Status = domain.StatusAcknowledged
		if err := st.UpdateAlertStatus(ctx, stored, domain.StatusActive); err != nil {
			t.Fatalf("acknowledge: %v", err)
		}
		if err := st.ApplyEscalation(ctx, created.ID, domain.SeverityCritical, testBase); !errors.Is(err, ErrConflict) {
			t.Fatalf("escalating non-ACTIVE error = %v, want ErrConflict", err)
		}
		if err := st.ApplyEscalation(ctx, 9999, domain.SeverityCritical, testBase); !errors.Is(err, ErrNotFound) {
			t.Fatalf("escalating missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list and stats", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		for i, metric := range []string{"m1", "m2", "m3"} {
			alert := testAlert(7, metric)
			alert.Severity = domain.SeverityInfo
			if i == 2 {
				alert.Severity = domain.SeverityCritical
			}
			if _, _, err := st.CreateAlertIfAbsent(ctx, alert); err != nil {
				t.Fatalf("insert %s: %v", metric, err)
			}
		}

		page, err := st.ListAlertsByStatus(ctx, domain.StatusActive, 2, 0)
		if err != nil || len(page) != 2 {
			t.Fatalf("page = %d err=%v, want 2", len(page), err)
		}
		if page[0].ID < page[1].ID {
			t.Fatalf("listing must order newest first: %d before %d", page[0].ID, page[1].ID)
		}
		rest, err := st.ListAlertsByStatus(ctx, domain.StatusActive, 2, 2)
		if err != nil || len(rest) != 1 {
			t.Fatalf("offset page = %d err=%v, want 1", len(rest), err)
		}

		counts, err := st.CountOpenBySeverity(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if counts[domain.SeverityInfo] != 2 || counts[domain.SeverityCritical] != 1 {
			t.Fatalf("stats = %+v", counts)
		}
	})

	t.Run("notification lifecycle", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		alert, _, err := st.CreateAlertIfAbsent(ctx, testAlert(8, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert alert: %v", err)
		}

		pending, err := st.SaveNotification(ctx, domain.Notification{
			AlertID:    alert.ID,
			AlertUUID:  alert.UUID,
			Channel:    "email",
			Recipient:  "oncall@example.com",
			Content:    "body",
			Status:     domain.NotificationPending,
			CreateTime: testBase,
			UpdateTime: testBase,
		})
		if err != nil || pending.ID <= 0 {
			t.Fatalf("save notification: id=%d err=%v", pending.ID, err)
		}

		pending.Status = domain.NotificationFailed
		pending.FailReason = "smtp connect refused"
		pending.RetryCount = 1
		if err := st.UpdateNotification(ctx, pending); err != nil {
			t.Fatalf("update notification: %v", err)
		}

		trail, err := st.ListNotificationsByAlert(ctx, alert.ID)
		if err != nil || len(trail) != 1 {
			t.Fatalf("trail = %d err=%v, want 1", len(trail), err)
		}
		if trail[0].Status != domain.NotificationFailed || trail[0].FailReason != "smtp connect refused" {
			t.Fatalf("failure fields lost: %+v", trail[0])
		}

		failed, err := st.ListFailedNotifications(ctx, 3, testBase.Add(-time.Hour))
		if err != nil || len(failed) != 1 {
			t.Fatalf("failed = %d err=%v, want 1", len(failed), err)
		}
		if failed, _ = st.ListFailedNotifications(ctx, 1, testBase.Add(-time.Hour)); len(failed) != 0 {
			t.Fatalf("row at retry cap must be excluded, got %d", len(failed))
		}
		if failed, _ = st.ListFailedNotifications(ctx, 3, testBase.Add(time.Hour)); len(failed) != 0 {
			t.Fatalf("row outside lookback must be excluded, got %d", len(failed))
		}

		pending.Permanent = true
		if err := st.UpdateNotification(ctx, pending); err != nil {
			t.Fatalf("mark permanent: %v", err)
		}
		if failed, _ = st.ListFailedNotifications(ctx, 3, testBase.Add(-time.Hour)); len(failed) != 0 {
			t.Fatalf("permanent row must be excluded, got %d", len(failed))
		}
		trail, err = st.ListNotificationsByAlert(ctx, alert.ID)
		if err != nil || len(trail) != 1 || !trail[0].Permanent {
			t.Fatalf("permanent flag lost: %+v err=%v", trail, err)
		}

		missing := pending
		missing.ID = 9999
		if err := st.UpdateNotification(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing notification error = %v, want ErrNotFound", err)
		}
	})

	t.Run("stale pending sweep", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)

		alert, _, err := st.CreateAlertIfAbsent(ctx, testAlert(9, "cpu_usage"))
		if err != nil {
			t.Fatalf("insert alert: %v", err)
		}
		for i, createTime := range []time.Time{testBase, testBase.Add(30 * time.Minute)} {
			_, err := st.SaveNotification(ctx, domain.Notification{
				AlertID:    alert.ID,
				AlertUUID:  alert.UUID,
				Channel:    "sms",
				Recipient:  "+15550100",
				Content:    "body",
				Status:     domain.NotificationPending,
				CreateTime: createTime,
				UpdateTime: createTime,
			})
			if err != nil {
				t.Fatalf("save notification %d: %v", i, err)
			}
		}

		swept, err := st.SweepStalePending(ctx, testBase.Add(10*time.Minute))
		if err != nil || swept != 1 {
			t.Fatalf("swept = %d err=%v, want 1", swept, err)
		}

		trail, err := st.ListNotificationsByAlert(ctx, alert.ID)
		if err != nil || len(trail) != 2 {
			t.Fatalf("trail = %d err=%v", len(trail), err)
		}
		if trail[0].Status != domain.NotificationFailed {
			t.Fatalf("old pending must fail: %+v", trail[0])
		}
		if trail[1].Status != domain.NotificationPending {
			t.Fatalf("fresh pending must survive: %+v", trail[1])
		}
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(func() time.Time { return testBase.Add(time.Hour) })
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "monalert-test.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}
