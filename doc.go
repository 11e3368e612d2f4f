// Package msgctx attaches a serializable correlation context to outbound
// messages and recovers it from inbound ones, so that a request and its
// replies (or a chain of derived events) can be associated across a broker
// that has no notion of a call stack.
//
// The package centers around the [Provider], which turns inbound header bytes
// into a [MessageContext] and produces header bytes for outbound messages.
// Contexts are kept in a [Store] keyed by their correlation id.
//
// # Quick Start
//
//	provider := msgctx.NewProvider[msgctx.Basic](msgctx.ProviderConfig[msgctx.Basic]{
//		Factory: msgctx.BasicFactory{Source: "/orders"},
//	})
//
//	// consumer side
//	ctx, mc, err := provider.Extract(ctx, rabbitmq.HeaderFrom(delivery.Headers))
//
//	// producer side, same flow: resolves the id carried by ctx
//	header, err := provider.OutboundHeader(ctx, uuid.Nil)
//
// # Ambient Correlation
//
// The "current" correlation id travels in the [context.Context] of a flow.
// [Provider.Extract] returns a derived context carrying the extracted id, and
// [Provider.OutboundHeader] falls back to it when no explicit id is given.
// Concurrent flows never share a slot because each has its own context.
//
// # Store Lifetime
//
// [MemoryStore] keeps contexts for the process lifetime unless TTL or
// MaxEntries is configured. Call [Provider.Complete] once a flow finished to
// release its entry explicitly. Distributed and durable stores live in
// store/redisstore and store/badgerstore.
//
// # Subpackages
//
//   - pipeline: message middleware (correlation, handler invocation, acking)
//     and a concurrent runner
//   - transport/rabbitmq, transport/nats, transport/kafka,
//     transport/cloudevents: carriage of the [HeaderKey] header per broker
//   - store/redisstore, store/badgerstore: shared and durable stores
//   - config: YAML and environment configuration
package msgctx
