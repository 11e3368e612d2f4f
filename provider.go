package msgctx

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// TracerName is the instrumentation name used for provider spans.
const TracerName = "github.com/fxsml/msgctx"

// ProviderConfig configures a Provider.
type ProviderConfig[C MessageContext] struct {
	// Store holds registered contexts.
	// Default is an unbounded MemoryStore.
	Store Store[C]

	// Factory creates contexts for ids without a registered context.
	// Required for outbound headers of unknown ids.
	Factory Factory[C]

	// Serializer encodes the context envelope.
	// Default is JSON.
	Serializer Serializer

	// Logger for operational logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// Tracer for provider spans. If nil, uses the global tracer provider.
	Tracer trace.Tracer
}

func (c ProviderConfig[C]) applyDefaults() ProviderConfig[C] {
	if c.Store == nil {
		c.Store = NewMemoryStore[C](MemoryStoreConfig{})
	}
	if c.Serializer == nil {
		c.Serializer = NewJSONSerializer()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(TracerName)
	}
	return c
}

// Provider extracts contexts from inbound header bytes and produces header
// bytes for outbound messages. It is safe for concurrent use.
type Provider[C MessageContext] struct {
	store      Store[C]
	factory    Factory[C]
	serializer Serializer
	logger     *slog.Logger
	tracer     trace.Tracer

	creating singleflight.Group
}

// NewProvider creates a provider with the given configuration.
func NewProvider[C MessageContext](cfg ProviderConfig[C]) *Provider[C] {
	cfg = cfg.applyDefaults()
	return &Provider[C]{
		store:      cfg.Store,
		factory:    cfg.Factory,
		serializer: cfg.Serializer,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
	}
}

// Store returns the provider's store.
func (p *Provider[C]) Store() Store[C] {
	return p.store
}

// Extract decodes inbound header bytes, registers the context under its id
// and returns ctx carrying the context as the ambient correlation.
//
// Returns a *MalformedContextError if raw is not UTF-8 text or does not
// decode to a context with an id. Nothing is registered in that case.
// If the id is already registered, the registered context is kept and the
// decoded one is returned.
func (p *Provider[C]) Extract(ctx context.Context, raw []byte) (context.Context, C, error) {
	var zero C

	spanCtx, span := p.tracer.Start(ctx, "msgctx.extract")
	defer span.End()

	mc, err := p.decode(raw)
	if err != nil {
		recordError(span, err)
		p.logger.WarnContext(spanCtx, "Rejected malformed message context", "error", err, "size", len(raw))
		return ctx, zero, err
	}

	id := mc.GlobalRequestID()
	span.SetAttributes(attribute.String("msgctx.correlation_id", id.String()))

	_, loaded, err := p.store.LoadOrStore(spanCtx, id, mc)
	if err != nil {
		err = fmt.Errorf("msgctx: register context %s: %w", id, err)
		recordError(span, err)
		return ctx, zero, err
	}
	if !loaded {
		p.logger.DebugContext(WithCorrelationID(spanCtx, id), "Registered inbound message context", "correlationid", id)
	}

	return WithMessageContext(ctx, mc), mc, nil
}

// OutboundHeader returns the serialized context for id.
//
// A uuid.Nil id resolves to the ambient correlation of ctx, and to a fresh
// id if ctx carries none. An unregistered id gets a context from the
// factory, created at most once per id.
func (p *Provider[C]) OutboundHeader(ctx context.Context, id uuid.UUID) ([]byte, error) {
	header, _, err := p.outbound(ctx, id)
	return header, err
}

// OutboundHeaderWithID is OutboundHeader for the ambient correlation of ctx.
// It also returns the id that was used.
func (p *Provider[C]) OutboundHeaderWithID(ctx context.Context) ([]byte, uuid.UUID, error) {
	return p.outbound(ctx, uuid.Nil)
}

// Lookup returns the context registered for id without creating one.
func (p *Provider[C]) Lookup(ctx context.Context, id uuid.UUID) (C, bool, error) {
	return p.store.Get(ctx, id)
}

// Current returns the context of the ambient correlation of ctx.
func (p *Provider[C]) Current(ctx context.Context) (C, bool, error) {
	if mc, ok := MessageContextFromContext[C](ctx); ok {
		return mc, true, nil
	}
	return p.store.Get(ctx, CorrelationIDFromContext(ctx))
}

// Complete releases the context of a finished flow. A uuid.Nil id resolves
// to the ambient correlation of ctx.
func (p *Provider[C]) Complete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		id = CorrelationIDFromContext(ctx)
	}
	if id == uuid.Nil {
		return nil
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("msgctx: complete %s: %w", id, err)
	}
	p.logger.DebugContext(WithCorrelationID(ctx, id), "Completed message context", "correlationid", id)
	return nil
}

func (p *Provider[C]) outbound(ctx context.Context, id uuid.UUID) ([]byte, uuid.UUID, error) {
	id = p.resolve(ctx, id)

	ctx, span := p.tracer.Start(ctx, "msgctx.outbound",
		trace.WithAttributes(attribute.String("msgctx.correlation_id", id.String())),
	)
	defer span.End()

	mc, err := p.getOrCreate(ctx, id)
	if err != nil {
		recordError(span, err)
		return nil, id, err
	}

	data, err := p.serializer.Marshal(mc)
	if err != nil {
		err = fmt.Errorf("msgctx: encode context %s: %w", id, err)
		recordError(span, err)
		return nil, id, err
	}
	return data, id, nil
}

func (p *Provider[C]) resolve(ctx context.Context, id uuid.UUID) uuid.UUID {
	if id != uuid.Nil {
		return id
	}
	if id = CorrelationIDFromContext(ctx); id != uuid.Nil {
		return id
	}
	return NewCorrelationID()
}

// getOrCreate collapses concurrent creators of the same id into one factory
// call. The first caller's ctx is the one passed to the factory.
func (p *Provider[C]) getOrCreate(ctx context.Context, id uuid.UUID) (C, error) {
	var zero C

	mc, ok, err := p.store.Get(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("msgctx: lookup %s: %w", id, err)
	}
	if ok {
		return mc, nil
	}

	v, err, _ := p.creating.Do(id.String(), func() (any, error) {
		mc, ok, err := p.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("msgctx: lookup %s: %w", id, err)
		}
		if ok {
			return mc, nil
		}

		if p.factory == nil {
			return nil, ErrNoFactory
		}
		mc, err = p.factory.NewContext(ctx, id)
		if err != nil {
			return nil, err
		}
		if got := mc.GlobalRequestID(); got != id {
			return nil, fmt.Errorf("%w: want %s, got %s", ErrIDMismatch, id, got)
		}

		actual, loaded, err := p.store.LoadOrStore(ctx, id, mc)
		if err != nil {
			return nil, fmt.Errorf("msgctx: register context %s: %w", id, err)
		}
		if !loaded {
			p.logger.DebugContext(WithCorrelationID(ctx, id), "Created message context", "correlationid", id)
		}
		return actual, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(C), nil
}

func (p *Provider[C]) decode(raw []byte) (C, error) {
	var mc C
	if len(raw) == 0 {
		return mc, &MalformedContextError{Reason: "empty header"}
	}
	if !utf8.Valid(raw) {
		return mc, &MalformedContextError{Reason: "header is not valid UTF-8"}
	}
	if err := p.serializer.Unmarshal(raw, &mc); err != nil {
		return mc, &MalformedContextError{Reason: "decode", Err: err}
	}
	if isNil(mc) {
		return mc, &MalformedContextError{Reason: "null context"}
	}
	if mc.GlobalRequestID() == uuid.Nil {
		return mc, &MalformedContextError{Reason: "missing GlobalRequestId"}
	}
	return mc, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
