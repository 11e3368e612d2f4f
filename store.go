package msgctx

import (
	"context"

	"github.com/google/uuid"
)

// Store maps correlation ids to contexts. Implementations must be safe for
// concurrent use; no caller ever observes a partially written context.
//
// For every id present, the stored context's GlobalRequestID equals id.
type Store[C MessageContext] interface {
	// Get returns the context registered for id.
	// The boolean is false if id is uuid.Nil or unknown.
	Get(ctx context.Context, id uuid.UUID) (C, bool, error)

	// LoadOrStore registers mc under id unless id is already present.
	// It returns the registered context and whether it was already present.
	// Exactly one of several concurrent callers for the same id stores.
	LoadOrStore(ctx context.Context, id uuid.UUID, mc C) (actual C, loaded bool, err error)

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
