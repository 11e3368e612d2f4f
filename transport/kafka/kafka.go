// Package kafka carries message contexts in Kafka record headers.
//
// Kafka has no per-message negative acknowledgment. Converted messages ack
// by committing the record through a Committer; a nack leaves the offset
// uncommitted so the record is redelivered after a rebalance or restart.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/fxsml/msgctx"
	"github.com/fxsml/msgctx/pipeline"
)

// Writer is the subset of *kafka.Writer used for publishing.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Committer is the subset of *kafka.Reader used for acknowledgment.
type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// HeaderFrom returns the first context header of m, or nil.
func HeaderFrom(m kafka.Message) []byte {
	for _, h := range m.Headers {
		if h.Key == msgctx.HeaderKey {
			return h.Value
		}
	}
	return nil
}

// Inject sets the context header of m, replacing an existing one.
func Inject(m *kafka.Message, header []byte) {
	setHeader(m, msgctx.HeaderKey, header)
}

func setHeader(m *kafka.Message, key string, value []byte) {
	for i, h := range m.Headers {
		if h.Key == key {
			m.Headers[i].Value = value
			return
		}
	}
	m.Headers = append(m.Headers, kafka.Header{Key: key, Value: value})
}

// Extract registers the context carried by m and returns ctx carrying it.
func Extract[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], m kafka.Message) (context.Context, C, error) {
	return p.Extract(ctx, HeaderFrom(m))
}

// Publisher publishes pipeline messages stamped with their context header.
type Publisher[C msgctx.MessageContext] struct {
	writer   Writer
	provider *msgctx.Provider[C]
	logger   *slog.Logger
}

// NewPublisher creates a publisher on w. If logger is nil, uses
// slog.Default().
func NewPublisher[C msgctx.MessageContext](w Writer, provider *msgctx.Provider[C], logger *slog.Logger) *Publisher[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher[C]{writer: w, provider: provider, logger: logger}
}

// Publish stamps every message with the ambient correlation of ctx, unless
// it already carries a header, and writes them to topic in one batch.
// An empty topic leaves routing to the writer's own Topic.
func (p *Publisher[C]) Publish(ctx context.Context, topic string, msgs ...*pipeline.Message) error {
	records := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		if _, err := pipeline.Stamp(ctx, p.provider, msg); err != nil {
			return err
		}
		records = append(records, ToRecord(topic, msg))
	}

	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "Published messages", "topic", topic, "count", len(records))
	return nil
}

// ToRecord converts msg into a Kafka record. The key attribute becomes the
// record key, keeping a flow on one partition when keyed by correlation.
func ToRecord(topic string, msg *pipeline.Message) kafka.Message {
	record := kafka.Message{
		Topic: topic,
		Value: msg.Data,
	}
	if key, ok := msg.Attributes["key"].(string); ok {
		record.Key = []byte(key)
	}
	if header := msg.ContextHeader(); header != nil {
		Inject(&record, header)
	}
	if id := msg.CorrelationID(); id != "" {
		setHeader(&record, pipeline.AttrCorrelationID, []byte(id))
	}
	if typ, ok := msg.Attributes[pipeline.AttrType].(string); ok {
		setHeader(&record, "ce_type", []byte(typ))
	}
	return record
}

// SubscriberConfig configures ToMessage.
type SubscriberConfig struct {
	// Committer commits acked records. If nil, messages carry no acking.
	Committer Committer

	// Logger for operational logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (c SubscriberConfig) applyDefaults() SubscriberConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ToMessage converts a Kafka record into a pipeline message.
func ToMessage(ctx context.Context, m kafka.Message, config SubscriberConfig) *pipeline.Message {
	config = config.applyDefaults()

	var msg *pipeline.Message
	var acking *pipeline.Acking
	if config.Committer != nil {
		acking = pipeline.NewAcking(
			func() {
				if err := config.Committer.CommitMessages(ctx, m); err != nil {
					config.Logger.ErrorContext(pipeline.WithCorrelation(ctx, msg), "Failed to commit message",
						"topic", m.Topic,
						"partition", m.Partition,
						"offset", m.Offset,
						"error", err,
					)
				}
			},
			func(err error) {
				config.Logger.WarnContext(pipeline.WithCorrelation(ctx, msg), "Message nacked, will be redelivered",
					"topic", m.Topic,
					"partition", m.Partition,
					"offset", m.Offset,
					"error", err,
				)
			},
		)
	}

	attrs := pipeline.Attributes{
		"topic":           m.Topic,
		"key":             string(m.Key),
		"kafka.partition": m.Partition,
		"kafka.offset":    m.Offset,
	}
	if !m.Time.IsZero() {
		attrs["time"] = m.Time
	}
	for _, h := range m.Headers {
		switch h.Key {
		case msgctx.HeaderKey:
			attrs[pipeline.AttrMessageContext] = h.Value
		case pipeline.AttrCorrelationID:
			attrs[pipeline.AttrCorrelationID] = string(h.Value)
		case "ce_type":
			attrs[pipeline.AttrType] = string(h.Value)
		}
	}

	msg = pipeline.New(m.Value, attrs, acking)
	return msg
}
