package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"monalert/internal/config"
	"monalert/internal/faults"
)

// SMSSender posts notification text to an SMS gateway.
// Params: gateway endpoint and timeout from config.
// Returns: SMS channel sender.
type SMSSender struct {
	cfg    config.SMSNotifier
	client *http.Client
}

// NewSMSSender creates the SMS gateway sender.
// Params: SMS notifier config.
// Returns: initialized sender.
func NewSMSSender(cfg config.SMSNotifier) *SMSSender {
	return &SMSSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *SMSSender) Channel() string {
	return config.ChannelSMS
}

// Send posts one message to the gateway for one phone number.
// Params: context and rendered message.
// Returns: transient fault for 5xx/transport errors, permanent fault for 4xx.
func (s *SMSSender) Send(ctx context.Context, message Message) error {
	payload := struct {
		Phone   string `json:"phone"`
		Content string `json:"content"`
	}{
		Phone:   message.Recipient,
		Content: message.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return faults.MarkPermanent(fmt.Errorf("encode sms payload: %w", err))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return faults.MarkPermanent(fmt.Errorf("build sms request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return faults.MarkTransient(fmt.Errorf("sms send: %w", err))
	}
	defer response.Body.Close()
	return classifyHTTPStatus("sms gateway", response)
}
