package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/infrastructure/resilience"
)

// Priority bands map task priorities onto separate subjects so premium work
// never queues behind a free-tier backlog.
const (
	bandHigh     = "high"
	bandStandard = "standard"
	bandLow      = "low"
)

var bands = []string{bandHigh, bandStandard, bandLow}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	PollInterval         time.Duration
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

// Transport is the NATS-backed queue transport. One synchronous subscription
// per priority band; Dequeue polls bands in priority order so higher bands
// drain first.
type Transport struct {
	conn         *nats.Conn
	prefix       string
	subs         []*nats.Subscription
	pollInterval time.Duration
	executor     *resilience.Executor
	logger       *slog.Logger
}

func New(url, subjectPrefix string) (*Transport, error) {
	return NewWithOptions(url, subjectPrefix, Options{})
}

func NewWithOptions(url, subjectPrefix string, options Options) (*Transport, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("ragpipe"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	t := &Transport{
		conn:         conn,
		prefix:       subjectPrefix,
		pollInterval: pollInterval,
		executor:     options.ResilienceExecutor,
		logger:       logger,
	}
	for _, band := range bands {
		sub, err := conn.QueueSubscribeSync(t.subject(band), "workers")
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", t.subject(band), err)
		}
		t.subs = append(t.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return t, nil
}

func (t *Transport) Close() {
	for _, sub := range t.subs {
		_ = sub.Drain()
	}
	if t.conn != nil {
		if err := t.conn.FlushTimeout(5 * time.Second); err != nil {
			t.logger.Warn("nats flush on close", "error", err)
		}
		t.conn.Close()
	}
}

func (t *Transport) Enqueue(ctx context.Context, msg ports.TaskMessage) error {
	return t.publish(ctx, t.subject(bandFor(msg.Priority)), msg)
}

// Dequeue polls each band's subscription in priority order until a message
// arrives or ctx is done.
func (t *Transport) Dequeue(ctx context.Context) (ports.TaskMessage, error) {
	for {
		for _, sub := range t.subs {
			natsMsg, err := sub.NextMsg(t.pollInterval)
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if err != nil {
				return ports.TaskMessage{}, fmt.Errorf("nats next: %w", err)
			}
			var msg ports.TaskMessage
			if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
				t.logger.Error("dropping undecodable task message", "subject", natsMsg.Subject, "error", err)
				continue
			}
			return msg, nil
		}
		if err := ctx.Err(); err != nil {
			return ports.TaskMessage{}, err
		}
	}
}

// Ack is a no-op: core NATS removes a message on delivery, and the task row
// in the repository is the source of truth for attempt bookkeeping.
func (t *Transport) Ack(context.Context, ports.TaskMessage) error { return nil }

// Nack republishes to the message's own band for redelivery.
func (t *Transport) Nack(ctx context.Context, msg ports.TaskMessage) error {
	return t.Enqueue(ctx, msg)
}

func (t *Transport) DeadLetter(ctx context.Context, msg ports.TaskMessage) error {
	return t.publish(ctx, t.prefix+".dead", msg)
}

func (t *Transport) publish(ctx context.Context, subject string, msg ports.TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	call := func(context.Context) error {
		if err := t.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}
	if t.executor != nil {
		return t.executor.Execute(ctx, "nats.publish", call, classifyTransportError)
	}
	return call(ctx)
}

func (t *Transport) subject(band string) string {
	return t.prefix + ".tasks." + band
}

func bandFor(priority int) string {
	switch {
	case priority >= 8:
		return bandHigh
	case priority >= 4:
		return bandStandard
	default:
		return bandLow
	}
}

func classifyTransportError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
