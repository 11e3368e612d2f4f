package msgctx

import (
	"context"

	"github.com/google/uuid"
)

// ExtractResult is delivered by ExtractAsync.
type ExtractResult[C MessageContext] struct {
	// Ctx carries the extracted context as ambient correlation.
	// On error it is the ctx passed to ExtractAsync.
	Ctx            context.Context
	MessageContext C
	Err            error
}

// HeaderResult is delivered by OutboundHeaderAsync.
type HeaderResult struct {
	Header []byte
	ID     uuid.UUID
	Err    error
}

// ExtractAsync runs Extract on its own goroutine. The returned channel
// delivers exactly one result and is then closed.
func (p *Provider[C]) ExtractAsync(ctx context.Context, raw []byte) <-chan ExtractResult[C] {
	out := make(chan ExtractResult[C], 1)
	go func() {
		defer close(out)
		rctx, mc, err := p.Extract(ctx, raw)
		out <- ExtractResult[C]{Ctx: rctx, MessageContext: mc, Err: err}
	}()
	return out
}

// OutboundHeaderAsync runs OutboundHeader on its own goroutine, so a slow
// factory or serializer never blocks the caller. The returned channel
// delivers exactly one result and is then closed.
func (p *Provider[C]) OutboundHeaderAsync(ctx context.Context, id uuid.UUID) <-chan HeaderResult {
	out := make(chan HeaderResult, 1)
	go func() {
		defer close(out)
		header, resolved, err := p.outbound(ctx, id)
		out <- HeaderResult{Header: header, ID: resolved, Err: err}
	}()
	return out
}
