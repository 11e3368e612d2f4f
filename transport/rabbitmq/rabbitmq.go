// Package rabbitmq carries message contexts over RabbitMQ.
//
// The serialized context travels in the msgctx.HeaderKey entry of the AMQP
// headers table. The correlation id is also written to the standard
// CorrelationId property so that tooling without msgctx can follow a flow.
//
// # Usage
//
//	pub := rabbitmq.NewPublisher(ch, provider, rabbitmq.PublisherConfig{Exchange: "orders"})
//	err := pub.Publish(ctx, "orders.created", msg)
//
//	msgs := rabbitmq.Messages(ctx, deliveries, rabbitmq.SubscriberConfig{})
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fxsml/msgctx"
	"github.com/fxsml/msgctx/pipeline"
)

// Channel is the publishing subset of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// HeaderFrom returns the context header from an AMQP headers table, or nil.
func HeaderFrom(headers amqp.Table) []byte {
	switch v := headers[msgctx.HeaderKey].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// Inject writes header into headers, allocating the table if needed.
func Inject(headers amqp.Table, header []byte) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	headers[msgctx.HeaderKey] = string(header)
	return headers
}

// Extract registers the context carried by d and returns ctx carrying it.
// A delivery without a context header yields msgctx.ErrMalformedContext.
func Extract[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], d amqp.Delivery) (context.Context, C, error) {
	return p.Extract(ctx, HeaderFrom(d.Headers))
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Exchange to publish to. Empty means the default exchange.
	Exchange string

	// Mandatory asks the broker to return unroutable messages.
	Mandatory bool

	// DeliveryMode is amqp.Transient or amqp.Persistent.
	// Default is amqp.Persistent.
	DeliveryMode uint8

	// Logger for operational logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (c PublisherConfig) applyDefaults() PublisherConfig {
	if c.DeliveryMode == 0 {
		c.DeliveryMode = amqp.Persistent
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Publisher publishes pipeline messages stamped with their context header.
type Publisher[C msgctx.MessageContext] struct {
	ch       Channel
	provider *msgctx.Provider[C]
	config   PublisherConfig
}

// NewPublisher creates a publisher on ch.
func NewPublisher[C msgctx.MessageContext](ch Channel, provider *msgctx.Provider[C], config PublisherConfig) *Publisher[C] {
	return &Publisher[C]{
		ch:       ch,
		provider: provider,
		config:   config.applyDefaults(),
	}
}

// Publish stamps msg with the ambient correlation of ctx, unless it already
// carries a header, and publishes it with routingKey.
func (p *Publisher[C]) Publish(ctx context.Context, routingKey string, msg *pipeline.Message) error {
	id, err := pipeline.Stamp(ctx, p.provider, msg)
	if err != nil {
		return err
	}

	pub := ToPublishing(msg)
	pub.DeliveryMode = p.config.DeliveryMode
	if pub.Timestamp.IsZero() {
		pub.Timestamp = time.Now()
	}

	err = p.ch.PublishWithContext(ctx, p.config.Exchange, routingKey, p.config.Mandatory, false, pub)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	p.config.Logger.DebugContext(msgctx.WithCorrelationID(ctx, id), "Published message",
		"routing_key", routingKey,
		"correlationid", pub.CorrelationId,
	)
	return nil
}

// ToPublishing converts msg into an AMQP publishing.
func ToPublishing(msg *pipeline.Message) amqp.Publishing {
	pub := amqp.Publishing{Body: msg.Data}
	if id, ok := msg.Attributes[pipeline.AttrID].(string); ok {
		pub.MessageId = id
	}
	if typ, ok := msg.Attributes[pipeline.AttrType].(string); ok {
		pub.Type = typ
	}
	if ct, ok := msg.Attributes["datacontenttype"].(string); ok {
		pub.ContentType = ct
	}
	pub.CorrelationId = msg.CorrelationID()
	if header := msg.ContextHeader(); header != nil {
		pub.Headers = Inject(nil, header)
	}
	return pub
}

// SubscriberConfig configures Messages.
type SubscriberConfig struct {
	// AutoAck must match the consumer's auto-ack mode. When true, messages
	// are delivered without acking callbacks.
	AutoAck bool

	// Requeue nacked deliveries. Default false sends them to the
	// dead-letter exchange, if any.
	Requeue bool

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

// Messages converts deliveries into pipeline messages until deliveries is
// closed or ctx is canceled.
func Messages(ctx context.Context, deliveries <-chan amqp.Delivery, config SubscriberConfig) <-chan *pipeline.Message {
	config = config.applyDefaults()
	out := make(chan *pipeline.Message, config.BufferSize)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					config.Logger.DebugContext(ctx, "Delivery channel closed")
					return
				}
				select {
				case out <- ToMessage(d, config):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// ToMessage converts a delivery into a pipeline message. Acking is bridged
// to the delivery unless config.AutoAck is set.
func ToMessage(d amqp.Delivery, config SubscriberConfig) *pipeline.Message {
	config = config.applyDefaults()

	var msg *pipeline.Message
	var acking *pipeline.Acking
	if !config.AutoAck {
		acking = pipeline.NewAcking(
			func() {
				if err := d.Ack(false); err != nil {
					config.Logger.ErrorContext(pipeline.WithCorrelation(context.Background(), msg), "Failed to ack message",
						"delivery_tag", d.DeliveryTag,
						"error", err,
					)
				}
			},
			func(err error) {
				logCtx := pipeline.WithCorrelation(context.Background(), msg)
				config.Logger.WarnContext(logCtx, "Message nacked",
					"delivery_tag", d.DeliveryTag,
					"error", err,
				)
				if err := d.Nack(false, config.Requeue); err != nil {
					config.Logger.ErrorContext(logCtx, "Failed to nack message",
						"delivery_tag", d.DeliveryTag,
						"error", err,
					)
				}
			},
		)
	}

	attrs := pipeline.Attributes{
		"topic":                d.RoutingKey,
		"rabbitmq.exchange":    d.Exchange,
		"rabbitmq.redelivered": d.Redelivered,
	}
	if d.MessageId != "" {
		attrs[pipeline.AttrID] = d.MessageId
	}
	if d.Type != "" {
		attrs[pipeline.AttrType] = d.Type
	}
	if d.ContentType != "" {
		attrs["datacontenttype"] = d.ContentType
	}
	if !d.Timestamp.IsZero() {
		attrs["time"] = d.Timestamp
	}
	if d.CorrelationId != "" {
		attrs[pipeline.AttrCorrelationID] = d.CorrelationId
	}
	if header := HeaderFrom(d.Headers); header != nil {
		attrs[pipeline.AttrMessageContext] = header
	}

	msg = pipeline.New(d.Body, attrs, acking)
	return msg
}
