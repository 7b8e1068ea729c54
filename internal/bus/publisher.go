package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"monalert/internal/config"

	"github.com/nats-io/nats.go"
)

const outboundStreamMaxAge = 7 * 24 * time.Hour

// Publisher publishes lifecycle records to outbound bus topics.
// Params: subject key and JSON-serializable payload.
// Returns: publish error; callers treat delivery as best-effort.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

// NATSPublisher publishes records into one JetStream outbound stream.
// Params: NATS connection and JetStream context.
// Returns: bus publisher implementation.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewNATSPublisher connects to the bus and ensures the outbound stream exists.
// Params: bus config with URL list and fixed stream/subject names.
// Returns: initialized publisher or setup error.
func NewNATSPublisher(cfg config.BusConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for bus: %w", err)
	}
	subjects := []string{cfg.StatusSubject, cfg.EscalationSubject}
	if err := EnsureStream(js, cfg.OutboundStream, subjects, nats.LimitsPolicy, outboundStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js}, nil
}

// Publish serializes payload and publishes it to one subject.
// Params: context, subject key, and payload value.
// Returns: marshal or publish error.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bus payload: %w", err)
	}
	if _, err := p.js.Publish(subject, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %q: %w", subject, err)
	}
	return nil
}

// Close closes the publisher NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

// EnsureStream ensures one JetStream stream exists with provided options.
// Params: JetStream context and stream settings.
// Returns: stream create/lookup error.
func EnsureStream(
	js nats.JetStreamContext,
	streamName string,
	subjects []string,
	retention nats.RetentionPolicy,
	maxAge time.Duration,
) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  subjects,
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

// NopPublisher drops all publishes for single-instance mode.
// Params: none.
// Returns: publisher that records nothing.
type NopPublisher struct{}

// Publish drops the payload.
// Params: context, subject, payload.
// Returns: nil.
func (NopPublisher) Publish(context.Context, string, any) error {
	return nil
}

// Close releases nothing.
// Params: none.
// Returns: nil.
func (NopPublisher) Close() error {
	return nil
}
