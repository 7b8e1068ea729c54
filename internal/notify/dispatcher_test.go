package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/faults"
	"monalert/internal/store"
)

var dispatchBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func webhookConfig(endpoints ...string) config.NotifyConfig {
	return config.NotifyConfig{
		DefaultChannels: []string{config.ChannelWebhook},
		Webhook: config.WebhookNotifier{
			Enabled:    true,
			Endpoints:  endpoints,
			TimeoutSec: 5,
		},
	}
}

func seedAlert(t *testing.T, st store.Store) domain.Alert {
	t.Helper()
	alert, created, err := st.CreateAlertIfAbsent(context.Background(), domain.Alert{
		UUID:        "d0000000-0000-0000-0000-000000000001",
		Name:        "cpu_usage threshold breach",
		Message:     "metric cpu_usage value 97.5 breached threshold 90",
		Severity:    domain.SeverityWarning,
		Status:      domain.StatusActive,
		Type:        domain.TypeThreshold,
		AssetID:     7,
		AssetName:   "db-primary",
		MetricName:  "cpu_usage",
		MetricValue: 97.5,
		Threshold:   90,
		StartTime:   dispatchBase.Add(-time.Minute),
		CreateTime:  dispatchBase,
		UpdateTime:  dispatchBase,
	})
	if err != nil || !created {
		t.Fatalf("seed alert: created=%v err=%v", created, err)
	}
	return alert
}

func newTestDispatcher(t *testing.T, st store.Store, cfg config.NotifyConfig) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(st, cfg, &clock.Frozen{Current: dispatchBase}, discardLogger())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher
}

func TestDispatchRecordsOutcomes(t *testing.T) {
	t.Parallel()

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer failServer.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig(okServer.URL, failServer.URL))

	if err := dispatcher.Dispatch(context.Background(), alert, nil, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	trail, err := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("notification rows = %d, want 2", len(trail))
	}

	byRecipient := make(map[string]domain.Notification, len(trail))
	for _, row := range trail {
		byRecipient[row.Recipient] = row
	}
	success := byRecipient[okServer.URL]
	if success.Status != domain.NotificationSuccess || success.SentTime == nil {
		t.Fatalf("success row = %+v", success)
	}
	if success.Channel != config.ChannelWebhook || !strings.Contains(success.Content, "cpu_usage") {
		t.Fatalf("success row content = %+v", success)
	}
	failed := byRecipient[failServer.URL]
	if failed.Status != domain.NotificationFailed || !strings.Contains(failed.FailReason, "status=502") {
		t.Fatalf("failed row = %+v", failed)
	}

	// One attempted cycle marks the alert notified.
	stored, err := st.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if !stored.Notified || stored.NotificationCount != 1 {
		t.Fatalf("notified=%v count=%d, want true/1", stored.Notified, stored.NotificationCount)
	}
}

func TestDispatchSeverityFloor(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := webhookConfig(server.URL)
	cfg.Webhook.MinSeverity = string(domain.SeverityCritical)

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, cfg)

	if err := dispatcher.Dispatch(context.Background(), alert, nil, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("WARNING alert must not reach a CRITICAL-floor channel")
	}
	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if len(trail) != 0 {
		t.Fatalf("skipped channel must not record rows, got %d", len(trail))
	}

	critical := alert
	critical.Severity = domain.SeverityCritical
	if err := dispatcher.Dispatch(context.Background(), critical, nil, nil); err != nil {
		t.Fatalf("dispatch critical: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("CRITICAL alert must pass the floor, hits=%d", hits.Load())
	}
}

func TestDispatchUnknownChannelRejected(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig("http://unused.invalid"))

	err := dispatcher.Dispatch(context.Background(), alert, []string{"pager"}, nil)
	if !faults.IsValidation(err) {
		t.Fatalf("unconfigured channel error = %v, want validation fault", err)
	}
	if !strings.Contains(err.Error(), "pager") {
		t.Fatalf("error must name the channel: %v", err)
	}
	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if len(trail) != 0 {
		t.Fatalf("unconfigured channel must not record rows, got %d", len(trail))
	}
	stored, _ := st.GetAlert(context.Background(), alert.ID)
	if stored.NotificationCount != 0 {
		t.Fatalf("rejected dispatch must not count a cycle, count=%d", stored.NotificationCount)
	}
}

func TestDispatchFailedDeliveryCountsCycle(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig(server.URL))

	// Three cycles where every send fails still reach the escalation cap.
	for cycle := 1; cycle <= 3; cycle++ {
		if err := dispatcher.Dispatch(context.Background(), alert, nil, nil); err != nil {
			t.Fatalf("dispatch cycle %d: %v", cycle, err)
		}
		stored, err := st.GetAlert(context.Background(), alert.ID)
		if err != nil {
			t.Fatalf("get alert: %v", err)
		}
		if stored.NotificationCount != cycle {
			t.Fatalf("count after cycle %d = %d", cycle, stored.NotificationCount)
		}
	}

	candidates, err := st.ListEscalatable(context.Background(), dispatchBase, 3)
	if err != nil {
		t.Fatalf("list escalatable: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("alert at the cap must leave escalation scope, got %d", len(candidates))
	}
}

func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	t.Parallel()

	rejectServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer rejectServer.Close()
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer failServer.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig(rejectServer.URL, failServer.URL))

	if err := dispatcher.Dispatch(context.Background(), alert, nil, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	trail, err := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if err != nil || len(trail) != 2 {
		t.Fatalf("trail = %d err=%v, want 2", len(trail), err)
	}
	byRecipient := make(map[string]domain.Notification, len(trail))
	for _, row := range trail {
		byRecipient[row.Recipient] = row
	}
	if row := byRecipient[rejectServer.URL]; row.Status != domain.NotificationFailed || !row.Permanent {
		t.Fatalf("4xx row = %+v, want permanent FAILED", row)
	}
	if row := byRecipient[failServer.URL]; row.Status != domain.NotificationFailed || row.Permanent {
		t.Fatalf("5xx row = %+v, want retryable FAILED", row)
	}

	// Only the transient failure stays eligible for the retry scheduler.
	retryable, err := st.ListFailedNotifications(context.Background(), 3, dispatchBase.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(retryable) != 1 || retryable[0].Recipient != failServer.URL {
		t.Fatalf("retryable rows = %+v", retryable)
	}
}

func TestDispatchRecipientOverride(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig("http://configured.invalid"))

	if err := dispatcher.Dispatch(context.Background(), alert, []string{config.ChannelWebhook}, []string{server.URL}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("override recipient must be used, hits=%d", hits.Load())
	}
	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if len(trail) != 1 || trail[0].Recipient != server.URL {
		t.Fatalf("trail = %+v", trail)
	}
}

func TestRedeliver(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig(server.URL))

	failed, err := st.SaveNotification(context.Background(), domain.Notification{
		AlertID:    alert.ID,
		AlertUUID:  alert.UUID,
		Channel:    config.ChannelWebhook,
		Recipient:  server.URL,
		Content:    "stored body",
		Status:     domain.NotificationFailed,
		FailReason: "webhook status=502",
		CreateTime: dispatchBase,
		UpdateTime: dispatchBase,
	})
	if err != nil {
		t.Fatalf("save failed row: %v", err)
	}

	if err := dispatcher.Redeliver(context.Background(), failed); err != nil {
		t.Fatalf("redeliver: %v", err)
	}

	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	if len(trail) != 1 {
		t.Fatalf("trail rows = %d", len(trail))
	}
	row := trail[0]
	if row.Status != domain.NotificationSuccess || row.RetryCount != 1 || row.SentTime == nil {
		t.Fatalf("retried row = %+v", row)
	}
	stored, _ := st.GetAlert(context.Background(), alert.ID)
	if !stored.Notified {
		t.Fatalf("successful retry must mark the alert notified")
	}
}

func TestRedeliverDroppedChannel(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig("http://unused.invalid"))

	failed, err := st.SaveNotification(context.Background(), domain.Notification{
		AlertID:    alert.ID,
		AlertUUID:  alert.UUID,
		Channel:    "pager",
		Recipient:  "oncall",
		Content:    "stored body",
		Status:     domain.NotificationFailed,
		CreateTime: dispatchBase,
		UpdateTime: dispatchBase,
	})
	if err != nil {
		t.Fatalf("save failed row: %v", err)
	}

	if err := dispatcher.Redeliver(context.Background(), failed); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	row := trail[0]
	if row.Status != domain.NotificationFailed || row.FailReason != "channel no longer configured" {
		t.Fatalf("dropped channel row = %+v", row)
	}
	if row.RetryCount != 1 || !row.Permanent {
		t.Fatalf("retries=%d permanent=%v, want 1/true", row.RetryCount, row.Permanent)
	}
	retryable, _ := st.ListFailedNotifications(context.Background(), 3, dispatchBase.Add(-time.Hour))
	if len(retryable) != 0 {
		t.Fatalf("dropped channel row must leave retry scope, got %d", len(retryable))
	}
}

func TestRedeliverPermanentFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer server.Close()

	st := store.NewMemoryStore(func() time.Time { return dispatchBase })
	alert := seedAlert(t, st)
	dispatcher := newTestDispatcher(t, st, webhookConfig(server.URL))

	failed, err := st.SaveNotification(context.Background(), domain.Notification{
		AlertID:    alert.ID,
		AlertUUID:  alert.UUID,
		Channel:    config.ChannelWebhook,
		Recipient:  server.URL,
		Content:    "stored body",
		Status:     domain.NotificationFailed,
		FailReason: "webhook status=502",
		CreateTime: dispatchBase,
		UpdateTime: dispatchBase,
	})
	if err != nil {
		t.Fatalf("save failed row: %v", err)
	}

	if err := dispatcher.Redeliver(context.Background(), failed); err != nil {
		t.Fatalf("redeliver: %v", err)
	}

	trail, _ := st.ListNotificationsByAlert(context.Background(), alert.ID)
	row := trail[0]
	if row.Status != domain.NotificationFailed || !row.Permanent {
		t.Fatalf("4xx retry row = %+v, want permanent FAILED", row)
	}
	retryable, _ := st.ListFailedNotifications(context.Background(), 3, dispatchBase.Add(-time.Hour))
	if len(retryable) != 0 {
		t.Fatalf("permanent row must not be retried again, got %d", len(retryable))
	}
}
