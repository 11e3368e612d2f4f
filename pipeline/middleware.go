// Package pipeline is the message-processing boundary msgctx plugs into:
// a ProcessFunc chain where correlation, handler invocation and acking are
// separate middleware stages.
//
//	fn := pipeline.Chain(
//		pipeline.Invoke(handleOrder, nil),
//		pipeline.Recover(),
//		pipeline.AutoAck(),
//		pipeline.Correlate(provider),
//	)
//	outputs, err := fn(ctx, msg)
package pipeline

import "context"

// ProcessFunc processes a message and returns zero or more outputs.
type ProcessFunc func(ctx context.Context, msg *Message) ([]*Message, error)

// Middleware wraps a ProcessFunc with additional behavior.
type Middleware func(ProcessFunc) ProcessFunc

// Chain wraps fn with mws. The last middleware is the outermost, so it sees
// the message first.
func Chain(fn ProcessFunc, mws ...Middleware) ProcessFunc {
	for _, mw := range mws {
		fn = mw(fn)
	}
	return fn
}
