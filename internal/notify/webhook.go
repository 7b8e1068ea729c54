package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"monalert/internal/config"
	"monalert/internal/faults"
)

// WebhookSender posts alert payloads to configured HTTP endpoints.
// Params: method, headers, and timeout from config; endpoint comes per message.
// Returns: webhook channel sender.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
}

// NewWebhookSender creates the generic HTTP webhook sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	return &WebhookSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return config.ChannelWebhook
}

// Send delivers the alert JSON document to one endpoint URL.
// Params: context and rendered message; recipient holds the endpoint.
// Returns: transient fault for 5xx/transport errors, permanent fault for 4xx.
func (s *WebhookSender) Send(ctx context.Context, message Message) error {
	payload := struct {
		Alert   any    `json:"alert"`
		Content string `json:"content"`
	}{
		Alert:   message.Alert,
		Content: message.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return faults.MarkPermanent(fmt.Errorf("encode webhook payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, message.Recipient, bytes.NewReader(body))
	if err != nil {
		return faults.MarkPermanent(fmt.Errorf("build webhook request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return faults.MarkTransient(fmt.Errorf("webhook send: %w", err))
	}
	defer response.Body.Close()
	return classifyHTTPStatus("webhook", response)
}

// classifyHTTPStatus converts a non-2xx response into a retryability fault.
// Params: sender prefix label and HTTP response pointer.
// Returns: nil for 2xx, permanent fault for 4xx, transient fault otherwise.
func classifyHTTPStatus(prefix string, response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	err := unexpectedStatusError(prefix, response)
	if response.StatusCode >= 400 && response.StatusCode < 500 {
		return faults.MarkPermanent(err)
	}
	return faults.MarkTransient(err)
}

// unexpectedStatusError formats a non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 2048))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
