package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"monalert/internal/bus"
	"monalert/internal/config"

	"github.com/nats-io/nats.go"
)

const inboundStreamMaxAge = 24 * time.Hour

// Consumer runs the JetStream queue consumers for both inbound topics.
// Params: NATS connection plus threshold and intent subscriptions.
// Returns: bus ingest lifecycle handle.
type Consumer struct {
	nc        *nats.Conn
	threshold *nats.Subscription
	intents   *nats.Subscription
	nackDelay time.Duration
	logger    *slog.Logger
}

// NewConsumer connects to the bus and starts both queue consumers.
// Params: bus config, consumer tuning, message handler, and logger.
// Returns: started consumer or initialization error.
func NewConsumer(
	busCfg config.BusConfig,
	tuning config.ConsumerConfig,
	handler *Handler,
	logger *slog.Logger,
) (*Consumer, error) {
	nc, err := nats.Connect(strings.Join(busCfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	if err := bus.EnsureStream(js, busCfg.ThresholdStream, []string{busCfg.ThresholdSubject}, nats.LimitsPolicy, inboundStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	if err := bus.EnsureStream(js, busCfg.IntentStream, []string{busCfg.IntentSubject}, nats.LimitsPolicy, inboundStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}

	consumer := &Consumer{
		nc:        nc,
		nackDelay: time.Duration(tuning.NackDelayMS) * time.Millisecond,
		logger:    logger,
	}

	thresholdSub, err := consumer.subscribe(js, busCfg, tuning, queueSpec{
		stream:   busCfg.ThresholdStream,
		subject:  busCfg.ThresholdSubject,
		durable:  busCfg.ThresholdConsumer,
		dispatch: handler.HandleThresholdEvent,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	consumer.threshold = thresholdSub

	intentSub, err := consumer.subscribe(js, busCfg, tuning, queueSpec{
		stream:   busCfg.IntentStream,
		subject:  busCfg.IntentSubject,
		durable:  busCfg.IntentConsumer,
		dispatch: handler.HandleNotificationIntent,
	})
	if err != nil {
		_ = consumer.Close()
		return nil, err
	}
	consumer.intents = intentSub
	return consumer, nil
}

// queueSpec describes one durable queue subscription.
// Params: stream binding, subject, durable name, and message callback.
// Returns: subscription settings for subscribe.
type queueSpec struct {
	stream   string
	subject  string
	durable  string
	dispatch func(ctx context.Context, topic string, raw []byte) disposition
}

// subscribe starts one durable queue subscription.
// Params: JetStream context, bus/tuning config, and subscription spec.
// Returns: active subscription or subscribe error.
func (c *Consumer) subscribe(
	js nats.JetStreamContext,
	busCfg config.BusConfig,
	tuning config.ConsumerConfig,
	spec queueSpec,
) (*nats.Subscription, error) {
	subOpts := []nats.SubOpt{
		nats.BindStream(spec.stream),
		nats.Durable(spec.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(tuning.AckWaitSec) * time.Second),
		nats.MaxDeliver(tuning.MaxDeliver),
		nats.MaxAckPending(tuning.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(spec.subject, busCfg.DeliverGroup, func(message *nats.Msg) {
		switch spec.dispatch(context.Background(), spec.subject, message.Data) {
		case dispositionNak:
			c.nackMessage(message)
		default:
			c.ackMessage(message)
		}
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", spec.subject, busCfg.DeliverGroup, err)
	}
	return sub, nil
}

// ackMessage acknowledges one settled message and logs ack failures.
// Params: JetStream message.
// Returns: none.
func (c *Consumer) ackMessage(message *nats.Msg) {
	if err := message.Ack(); err != nil {
		c.logger.Warn("nats ingest ack failed", "subject", message.Subject, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver one message and logs nack failures.
// Params: JetStream message.
// Returns: none.
func (c *Consumer) nackMessage(message *nats.Msg) {
	var err error
	if c.nackDelay > 0 {
		err = message.NakWithDelay(c.nackDelay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		c.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains both subscriptions and closes the connection.
// Params: none.
// Returns: first drain error.
func (c *Consumer) Close() error {
	var drainErr error
	for _, sub := range []*nats.Subscription{c.threshold, c.intents} {
		if sub == nil {
			continue
		}
		if err := sub.Drain(); err != nil && drainErr == nil {
			drainErr = err
		}
	}
	c.nc.Close()
	return drainErr
}
