package pipeline

import (
	"context"

	"github.com/fxsml/msgctx"
)

// Attributes is a map of message attributes. Keys follow CloudEvents naming.
//
// Thread safety: Attributes is not safe for concurrent read/write access.
type Attributes map[string]any

// Attribute keys used by this package.
const (
	// AttrID is the unique message identifier.
	AttrID = "id"
	// AttrType is the message type (e.g., "order.created").
	AttrType = "type"
	// AttrCorrelationID is the textual correlation id.
	AttrCorrelationID = "correlationid"
	// AttrMessageContext holds the serialized context header as []byte.
	AttrMessageContext = "messagecontext"
)

// Message is a broker-neutral message: the raw body plus attributes and
// optional acknowledgment callbacks.
type Message struct {
	Data       []byte
	Attributes Attributes

	acking *Acking
}

// New creates a message. Pass nil acking for messages that need no
// acknowledgment (e.g., outbound messages).
func New(data []byte, attrs Attributes, acking *Acking) *Message {
	if attrs == nil {
		attrs = make(Attributes)
	}
	return &Message{
		Data:       data,
		Attributes: attrs,
		acking:     acking,
	}
}

// Ack acknowledges successful processing.
// Returns false if the message has no acking or was already nacked.
func (m *Message) Ack() bool {
	return m.acking.ack()
}

// Nack negatively acknowledges the message.
// Returns false if the message has no acking or was already acked.
func (m *Message) Nack(err error) bool {
	return m.acking.nack(err)
}

// ContextHeader returns the serialized context header, or nil if absent.
// String values are accepted for transports that carry text headers.
func (m *Message) ContextHeader() []byte {
	switch v := m.Attributes[AttrMessageContext].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// SetContextHeader stores the serialized context header.
func (m *Message) SetContextHeader(header []byte) {
	if m.Attributes == nil {
		m.Attributes = make(Attributes)
	}
	m.Attributes[AttrMessageContext] = header
}

// CorrelationID returns the correlationid attribute, or "" if absent.
func (m *Message) CorrelationID() string {
	id, _ := m.Attributes[AttrCorrelationID].(string)
	return id
}

// WithCorrelation returns ctx carrying the correlationid attribute of msg as
// ambient correlation. ctx is returned unchanged if msg is nil or the
// attribute is absent or invalid.
func WithCorrelation(ctx context.Context, msg *Message) context.Context {
	if msg == nil {
		return ctx
	}
	id, err := msgctx.ParseCorrelationID(msg.CorrelationID())
	if err != nil {
		return ctx
	}
	return msgctx.WithCorrelationID(ctx, id)
}
