package msgctx

import (
	"context"

	"github.com/google/uuid"
)

// HeaderKey is the transport header that carries the serialized context.
const HeaderKey = "message_context"

// IDGenerator generates correlation ids.
type IDGenerator func() uuid.UUID

// DefaultIDGenerator is used when neither an explicit nor an ambient id is
// available. Replace it in tests that need deterministic ids.
var DefaultIDGenerator IDGenerator = uuid.New

// NewCorrelationID returns a fresh RFC 4122 v4 correlation id.
func NewCorrelationID() uuid.UUID {
	return DefaultIDGenerator()
}

// ParseCorrelationID parses the textual form of a correlation id.
// The empty string parses to uuid.Nil.
func ParseCorrelationID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

type contextKey string

const (
	correlationIDKey  contextKey = "msgctx.correlationid"
	messageContextKey contextKey = "msgctx.messagecontext"
)

// WithCorrelationID returns a context carrying id as the ambient correlation.
// A nil id leaves ctx unchanged.
func WithCorrelationID(ctx context.Context, id uuid.UUID) context.Context {
	if id == uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the ambient correlation id.
// Returns uuid.Nil outside any flow.
func CorrelationIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	id, _ := ctx.Value(correlationIDKey).(uuid.UUID)
	return id
}

// WithMessageContext stores mc in ctx and makes its id the ambient correlation.
func WithMessageContext[C MessageContext](ctx context.Context, mc C) context.Context {
	ctx = context.WithValue(ctx, messageContextKey, mc)
	return WithCorrelationID(ctx, mc.GlobalRequestID())
}

// MessageContextFromContext returns the message context stored by
// WithMessageContext. The boolean is false if none of type C is present.
func MessageContextFromContext[C MessageContext](ctx context.Context) (C, bool) {
	var zero C
	if ctx == nil {
		return zero, false
	}
	mc, ok := ctx.Value(messageContextKey).(C)
	return mc, ok
}
