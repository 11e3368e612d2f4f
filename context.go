package msgctx

import (
	"context"

	"github.com/google/uuid"
)

// MessageContext is the correlation state attached to a logical request/reply
// or event chain. Its id never changes after creation; it is the store key.
type MessageContext interface {
	GlobalRequestID() uuid.UUID
}

// Factory creates a context for an id that has no registered context yet.
// The returned context must report id as its GlobalRequestID.
//
// NewContext may block (remote lookups, async initialization); it only ever
// blocks the flow that requested the context.
type Factory[C MessageContext] interface {
	NewContext(ctx context.Context, id uuid.UUID) (C, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc[C MessageContext] func(ctx context.Context, id uuid.UUID) (C, error)

// NewContext calls f(ctx, id).
func (f FactoryFunc[C]) NewContext(ctx context.Context, id uuid.UUID) (C, error) {
	return f(ctx, id)
}
