// Package nats carries message contexts over NATS message headers.
//
// Core NATS has no acknowledgment, so converted messages carry acking only
// when SubscriberConfig.JetStream is set.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/fxsml/msgctx"
	"github.com/fxsml/msgctx/pipeline"
)

// CorrelationHeader carries the textual correlation id next to the context.
const CorrelationHeader = "Correlation-Id"

// Conn is the publishing subset of *nats.Conn.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// HeaderFrom returns the context header of m, or nil.
func HeaderFrom(m *nats.Msg) []byte {
	if m == nil || m.Header == nil {
		return nil
	}
	v := m.Header.Get(msgctx.HeaderKey)
	if v == "" {
		return nil
	}
	return []byte(v)
}

// Inject writes header into m, allocating the header map if needed.
func Inject(m *nats.Msg, header []byte) {
	if m.Header == nil {
		m.Header = nats.Header{}
	}
	m.Header.Set(msgctx.HeaderKey, string(header))
}

// Extract registers the context carried by m and returns ctx carrying it.
func Extract[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], m *nats.Msg) (context.Context, C, error) {
	return p.Extract(ctx, HeaderFrom(m))
}

// Publisher publishes pipeline messages stamped with their context header.
type Publisher[C msgctx.MessageContext] struct {
	conn     Conn
	provider *msgctx.Provider[C]
	logger   *slog.Logger
}

// NewPublisher creates a publisher on conn. If logger is nil, uses
// slog.Default().
func NewPublisher[C msgctx.MessageContext](conn Conn, provider *msgctx.Provider[C], logger *slog.Logger) *Publisher[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher[C]{conn: conn, provider: provider, logger: logger}
}

// Publish stamps msg with the ambient correlation of ctx, unless it already
// carries a header, and publishes it to subject.
func (p *Publisher[C]) Publish(ctx context.Context, subject string, msg *pipeline.Message) error {
	id, err := pipeline.Stamp(ctx, p.provider, msg)
	if err != nil {
		return err
	}

	if err := p.conn.PublishMsg(ToMsg(subject, msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.DebugContext(msgctx.WithCorrelationID(ctx, id), "Published message",
		slog.String("subject", subject),
		slog.String("correlationid", id.String()),
	)
	return nil
}

// ToMsg converts msg into a NATS message for subject.
func ToMsg(subject string, msg *pipeline.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Data
	if header := msg.ContextHeader(); header != nil {
		Inject(m, header)
	}
	if id := msg.CorrelationID(); id != "" {
		m.Header.Set(CorrelationHeader, id)
	}
	if typ, ok := msg.Attributes[pipeline.AttrType].(string); ok {
		m.Header.Set("Ce-Type", typ)
	}
	return m
}

// SubscriberConfig configures ToMessage and Messages.
type SubscriberConfig struct {
	// JetStream bridges acking to m.Ack and m.Nak.
	JetStream bool

	// BufferSize is the output channel buffer size.
	// Default is 256.
	BufferSize int

	// Logger for operational logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (c SubscriberConfig) applyDefaults() SubscriberConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ToMessage converts a NATS message into a pipeline message.
func ToMessage(m *nats.Msg, config SubscriberConfig) *pipeline.Message {
	config = config.applyDefaults()

	var msg *pipeline.Message
	var acking *pipeline.Acking
	if config.JetStream {
		acking = pipeline.NewAcking(
			func() {
				if err := m.Ack(); err != nil {
					config.Logger.ErrorContext(pipeline.WithCorrelation(context.Background(), msg), "Failed to ack message",
						slog.String("subject", m.Subject),
						slog.Any("error", err),
					)
				}
			},
			func(err error) {
				logCtx := pipeline.WithCorrelation(context.Background(), msg)
				config.Logger.WarnContext(logCtx, "Message nacked",
					slog.String("subject", m.Subject),
					slog.Any("error", err),
				)
				if err := m.Nak(); err != nil {
					config.Logger.ErrorContext(logCtx, "Failed to nak message",
						slog.String("subject", m.Subject),
						slog.Any("error", err),
					)
				}
			},
		)
	}

	attrs := pipeline.Attributes{
		"subject":    m.Subject,
		"nats.reply": m.Reply,
	}
	if m.Header != nil {
		if id := m.Header.Get(CorrelationHeader); id != "" {
			attrs[pipeline.AttrCorrelationID] = id
		}
		if typ := m.Header.Get("Ce-Type"); typ != "" {
			attrs[pipeline.AttrType] = typ
		}
	}
	if header := HeaderFrom(m); header != nil {
		attrs[pipeline.AttrMessageContext] = header
	}

	msg = pipeline.New(m.Data, attrs, acking)
	return msg
}

// Messages converts NATS messages into pipeline messages until in is closed
// or ctx is canceled. Feed it from a channel subscription:
//
//	in := make(chan *nats.Msg, 64)
//	sub, err := conn.ChanSubscribe("orders.>", in)
func Messages(ctx context.Context, in <-chan *nats.Msg, config SubscriberConfig) <-chan *pipeline.Message {
	config = config.applyDefaults()
	out := make(chan *pipeline.Message, config.BufferSize)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					config.Logger.DebugContext(ctx, "NATS message channel closed")
					return
				}
				select {
				case out <- ToMessage(m, config):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
