package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"monalert/internal/app"
	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/test/testutil"
)

// startService runs one service instance from a TOML document until test end.
// Returns the API base URL once the readiness endpoint answers.
func startService(t *testing.T, configBody string) string {
	t.Helper()

	apiPort, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	listen := fmt.Sprintf("127.0.0.1:%d", apiPort)

	path := filepath.Join(t.TempDir(), "monalert.toml")
	body := fmt.Sprintf(configBody, listen)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("service run: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Errorf("service did not shut down")
		}
	})

	baseURL := "http://" + listen
	testutil.WaitForHTTPReady(t, baseURL+"/readyz", 10*time.Second)
	return baseURL
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	response, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return response
}

func decodeAlert(t *testing.T, response *http.Response) domain.Alert {
	t.Helper()
	defer response.Body.Close()
	var alert domain.Alert
	if err := json.NewDecoder(response.Body).Decode(&alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	return alert
}

func TestSingleModeLifecycle(t *testing.T) {
	var webhookHits atomic.Int64
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		webhookHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	baseURL := startService(t, `
[service]
mode = "single"

[api]
listen = "%s"

[notify.webhook]
enabled = true
endpoints = ["`+webhook.URL+`"]
timeout_sec = 5
`)

	event := domain.ThresholdEvent{
		AssetID:    7,
		MetricName: "cpu_usage",
		Value:      97.5,
		Threshold:  90,
		Severity:   domain.SeverityWarning,
		Timestamp:  time.Now().UnixMilli(),
	}

	created := postJSON(t, baseURL+"/events", event)
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("event status = %d", created.StatusCode)
	}
	alert := decodeAlert(t, created)
	if alert.Status != domain.StatusActive {
		t.Fatalf("new alert status = %q", alert.Status)
	}
	if webhookHits.Load() != 1 {
		t.Fatalf("webhook hits = %d, want 1", webhookHits.Load())
	}

	// The same breach merges instead of opening a second alert.
	merged := postJSON(t, baseURL+"/events", event)
	if merged.StatusCode != http.StatusOK {
		t.Fatalf("dedup status = %d", merged.StatusCode)
	}
	if decodeAlert(t, merged).ID != alert.ID {
		t.Fatalf("dedup returned a different alert")
	}

	acked := postJSON(t, fmt.Sprintf("%s/alerts/%d/acknowledge", baseURL, alert.ID),
		map[string]string{"acknowledgedBy": "alice"})
	if acked.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d", acked.StatusCode)
	}
	acked.Body.Close()

	resolved := postJSON(t, fmt.Sprintf("%s/alerts/%d/resolve", baseURL, alert.ID),
		map[string]string{"resolvedBy": "alice", "comment": "restarted worker"})
	if resolved.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resolved.StatusCode)
	}
	resolved.Body.Close()

	closed := postJSON(t, fmt.Sprintf("%s/alerts/%d/close", baseURL, alert.ID),
		map[string]string{"closedBy": "alice"})
	if closed.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", closed.StatusCode)
	}
	if got := decodeAlert(t, closed); got.Status != domain.StatusClosed {
		t.Fatalf("final status = %q", got.Status)
	}

	// A closed key accepts a fresh breach.
	reopened := postJSON(t, baseURL+"/events", event)
	if reopened.StatusCode != http.StatusCreated {
		t.Fatalf("reopen status = %d", reopened.StatusCode)
	}
	if decodeAlert(t, reopened).ID == alert.ID {
		t.Fatalf("reopened breach must be a new alert")
	}
}

func TestNATSModeIngest(t *testing.T) {
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	// Registered before the service so the broker outlives its shutdown.
	t.Cleanup(stopNATS)

	var webhookHits atomic.Int64
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		webhookHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	dbPath := filepath.Join(t.TempDir(), "monalert.db")
	baseURL := startService(t, `
[service]
mode = "nats"

[store]
driver = "sqlite"
path = "`+dbPath+`"

[bus]
url = ["`+natsURL+`"]

[api]
listen = "%s"

[notify.webhook]
enabled = true
endpoints = ["`+webhook.URL+`"]
timeout_sec = 5
`)

	testutil.PublishJSON(t, natsURL, "THRESHOLD_ALERTS", "threshold-alert", domain.ThresholdEvent{
		AssetID:    9,
		MetricName: "disk_usage",
		Value:      95,
		Threshold:  85,
		Severity:   domain.SeverityCritical,
		Timestamp:  time.Now().UnixMilli(),
	})

	alert := waitForActiveAlert(t, baseURL)
	if alert.MetricName != "disk_usage" || alert.Severity != domain.SeverityCritical {
		t.Fatalf("ingested alert = %+v", alert)
	}
	if webhookHits.Load() == 0 {
		t.Fatalf("ingested alert must notify the webhook")
	}

	// An explicit intent re-delivers over the requested channel.
	testutil.PublishJSON(t, natsURL, "ALERT_NOTIFICATIONS", "alert-notification", domain.NotificationIntent{
		AlertID:  alert.ID,
		Channels: []string{"webhook"},
	})

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if webhookHits.Load() >= 2 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("intent delivery did not reach the webhook, hits = %d", webhookHits.Load())
}

// waitForActiveAlert polls the list endpoint until one ACTIVE alert appears.
func waitForActiveAlert(t *testing.T, baseURL string) domain.Alert {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		response, err := http.Get(baseURL + "/alerts")
		if err == nil {
			var alerts []domain.Alert
			decodeErr := json.NewDecoder(response.Body).Decode(&alerts)
			response.Body.Close()
			if decodeErr == nil && len(alerts) > 0 {
				return alerts[0]
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("no alert ingested from the bus")
	return domain.Alert{}
}
