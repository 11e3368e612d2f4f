package msgctx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
)

// Basic is the default message context. Field names on the wire use the
// GlobalRequestId spelling understood by existing consumers.
//
// An empty Trace is not encoded, so it decodes as nil.
type Basic struct {
	ID        uuid.UUID         `json:"GlobalRequestId"`
	Source    string            `json:"Source,omitempty"`
	CreatedAt time.Time         `json:"CreatedAt,omitzero"`
	Trace     map[string]string `json:"Trace,omitempty"`
}

// GlobalRequestID implements MessageContext.
func (b Basic) GlobalRequestID() uuid.UUID {
	return b.ID
}

// TraceContext returns ctx enriched with the trace context captured when b
// was created. Uses propagation.TraceContext{} if p is nil, matching the
// BasicFactory default.
func (b Basic) TraceContext(ctx context.Context, p propagation.TextMapPropagator) context.Context {
	if len(b.Trace) == 0 {
		return ctx
	}
	if p == nil {
		p = propagation.TraceContext{}
	}
	return p.Extract(ctx, propagation.MapCarrier(b.Trace))
}

// BasicFactory creates Basic contexts.
type BasicFactory struct {
	// Source is copied into every created context.
	Source string

	// Propagator captures the active trace context into Basic.Trace.
	// Default is propagation.TraceContext{}.
	Propagator propagation.TextMapPropagator

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// NewContext implements Factory.
func (f BasicFactory) NewContext(ctx context.Context, id uuid.UUID) (Basic, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	b := Basic{
		ID:        id,
		Source:    f.Source,
		CreatedAt: now().UTC(),
	}

	p := f.Propagator
	if p == nil {
		p = propagation.TraceContext{}
	}
	carrier := propagation.MapCarrier{}
	p.Inject(ctx, carrier)
	if len(carrier) > 0 {
		b.Trace = carrier
	}
	return b, nil
}

var (
	_ MessageContext  = Basic{}
	_ Factory[Basic]  = BasicFactory{}
	_ Factory[*Basic] = FactoryFunc[*Basic](nil)
)
