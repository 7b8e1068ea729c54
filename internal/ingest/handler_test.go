package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"monalert/internal/domain"
	"monalert/internal/faults"
)

// fakeBackend scripts engine responses per call.
type fakeBackend struct {
	alert      domain.Alert
	created    bool
	processErr error
	getErr     error
	processed  []domain.ThresholdEvent
}

func (f *fakeBackend) ProcessThresholdEvent(_ context.Context, event domain.ThresholdEvent) (domain.Alert, bool, error) {
	f.processed = append(f.processed, event)
	return f.alert, f.created, f.processErr
}

func (f *fakeBackend) Get(_ context.Context, _ int64) (domain.Alert, error) {
	return f.alert, f.getErr
}

func (f *fakeBackend) GetByUUID(_ context.Context, _ string) (domain.Alert, error) {
	return f.alert, f.getErr
}

// fakeDispatcher records dispatch requests.
type fakeDispatcher struct {
	calls      int
	channels   []string
	recipients []string
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ domain.Alert, channels, recipients []string) error {
	f.calls++
	f.channels = channels
	f.recipients = recipients
	return f.err
}

func newTestHandler(backend *fakeBackend, dispatcher *fakeDispatcher) *Handler {
	return NewHandler(backend, dispatcher, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func eventPayload(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.ThresholdEvent{
		AssetID:    7,
		MetricName: "cpu_usage",
		Value:      97.5,
		Threshold:  90,
		Severity:   domain.SeverityWarning,
		Timestamp:  1772366400000,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func TestHandleThresholdEventCreated(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{alert: domain.Alert{ID: 12}, created: true}
	dispatcher := &fakeDispatcher{}
	handler := newTestHandler(backend, dispatcher)

	if got := handler.HandleThresholdEvent(context.Background(), "threshold-alert", eventPayload(t)); got != dispositionAck {
		t.Fatalf("disposition = %v, want ack", got)
	}
	if len(backend.processed) != 1 || backend.processed[0].MetricName != "cpu_usage" {
		t.Fatalf("processed events = %+v", backend.processed)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("new alerts must dispatch, calls = %d", dispatcher.calls)
	}
}

func TestHandleThresholdEventDeduplicated(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{alert: domain.Alert{ID: 12}, created: false}
	dispatcher := &fakeDispatcher{}
	handler := newTestHandler(backend, dispatcher)

	if got := handler.HandleThresholdEvent(context.Background(), "threshold-alert", eventPayload(t)); got != dispositionAck {
		t.Fatalf("disposition = %v, want ack", got)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("merged events must not re-notify, calls = %d", dispatcher.calls)
	}
}

func TestHandleThresholdEventMalformed(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	dispatcher := &fakeDispatcher{}
	handler := newTestHandler(backend, dispatcher)

	for _, payload := range [][]byte{
		[]byte("not json"),
		[]byte(`{"assetId":0,"metricName":"cpu_usage","severity":"WARNING","timestamp":1}`),
	} {
		if got := handler.HandleThresholdEvent(context.Background(), "threshold-alert", payload); got != dispositionAck {
			t.Fatalf("malformed payload disposition = %v, want ack", got)
		}
	}
	if len(backend.processed) != 0 {
		t.Fatalf("malformed payloads must not reach the engine")
	}
}

func TestHandleThresholdEventFailureModes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want disposition
	}{
		{"transient store failure", faults.MarkTransient(errors.New("database is locked")), dispositionNak},
		{"conflict", faults.Conflict(errors.New("lost insert race")), dispositionNak},
		{"permanent failure", errors.New("constraint violated"), dispositionAck},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			backend := &fakeBackend{processErr: tc.err}
			dispatcher := &fakeDispatcher{}
			handler := newTestHandler(backend, dispatcher)

			if got := handler.HandleThresholdEvent(context.Background(), "threshold-alert", eventPayload(t)); got != tc.want {
				t.Fatalf("disposition = %v, want %v", got, tc.want)
			}
			if dispatcher.calls != 0 {
				t.Fatalf("failed events must not dispatch")
			}
		})
	}
}

func TestHandleNotificationIntent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{alert: domain.Alert{ID: 12, UUID: "u-12"}}
	dispatcher := &fakeDispatcher{}
	handler := newTestHandler(backend, dispatcher)

	payload := []byte(`{"alertId":12,"channels":["email","webhook"],"recipients":["oncall@example.com"]}`)
	if got := handler.HandleNotificationIntent(context.Background(), "alert-notification", payload); got != dispositionAck {
		t.Fatalf("disposition = %v, want ack", got)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("intent must dispatch, calls = %d", dispatcher.calls)
	}
	if len(dispatcher.channels) != 2 || dispatcher.channels[0] != "email" {
		t.Fatalf("channels = %v", dispatcher.channels)
	}
	if len(dispatcher.recipients) != 1 || dispatcher.recipients[0] != "oncall@example.com" {
		t.Fatalf("recipients = %v", dispatcher.recipients)
	}
}

func TestHandleNotificationIntentUnknownAlert(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{getErr: faults.NotFound("alert", "99")}
	dispatcher := &fakeDispatcher{}
	handler := newTestHandler(backend, dispatcher)

	payload := []byte(`{"alertId":99,"channels":["email"]}`)
	if got := handler.HandleNotificationIntent(context.Background(), "alert-notification", payload); got != dispositionAck {
		t.Fatalf("unknown alert disposition = %v, want ack", got)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("unknown alert must not dispatch")
	}
}

func TestHandleNotificationIntentStoreFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{getErr: faults.MarkTransient(errors.New("database is locked"))}
	handler := newTestHandler(backend, &fakeDispatcher{})

	payload := []byte(`{"alertUuid":"u-12","channels":["email"]}`)
	if got := handler.HandleNotificationIntent(context.Background(), "alert-notification", payload); got != dispositionNak {
		t.Fatalf("store failure disposition = %v, want nak", got)
	}
}

func TestHandleNotificationIntentMalformed(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(&fakeBackend{}, &fakeDispatcher{})
	for _, payload := range [][]byte{
		[]byte("not json"),
		[]byte(`{"channels":["email"]}`),
		[]byte(`{"alertId":12,"channels":[]}`),
	} {
		if got := handler.HandleNotificationIntent(context.Background(), "alert-notification", payload); got != dispositionAck {
			t.Fatalf("malformed intent disposition = %v, want ack", got)
		}
	}
}

func TestPayloadSnippetTruncates(t *testing.T) {
	t.Parallel()

	long := make([]byte, payloadSnippetLimit+64)
	for i := range long {
		long[i] = 'x'
	}
	snippet := payloadSnippet(long)
	if len(snippet) != payloadSnippetLimit+3 {
		t.Fatalf("snippet length = %d", len(snippet))
	}
	if snippet[payloadSnippetLimit:] != "..." {
		t.Fatalf("snippet must end with ellipsis")
	}
	if payloadSnippet([]byte("short")) != "short" {
		t.Fatalf("short payloads must pass through")
	}
}
