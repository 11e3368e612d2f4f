package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fxsml/msgctx"
)

// Correlate extracts the inbound context header into ctx before next runs,
// and stamps every output lacking a header with the context of the flow.
// An inbound message without a correlationid attribute gets the extracted id.
//
// A message without a header starts a new correlation. A malformed header
// nacks the message and fails it with the provider's
// *msgctx.MalformedContextError, so it is settled even when Correlate is
// outside AutoAck.
func Correlate[C msgctx.MessageContext](p *msgctx.Provider[C]) Middleware {
	return func(next ProcessFunc) ProcessFunc {
		return func(ctx context.Context, msg *Message) ([]*Message, error) {
			if header := msg.ContextHeader(); header != nil {
				var err error
				var mc C
				ctx, mc, err = p.Extract(ctx, header)
				if err != nil {
					msg.Nack(err)
					return nil, err
				}
				if msg.CorrelationID() == "" {
					msg.Attributes[AttrCorrelationID] = mc.GlobalRequestID().String()
				}
			} else if msgctx.CorrelationIDFromContext(ctx) == uuid.Nil {
				ctx = msgctx.WithCorrelationID(ctx, msgctx.NewCorrelationID())
			}

			outputs, err := next(ctx, msg)
			if err != nil {
				return nil, err
			}
			if len(outputs) == 0 {
				return outputs, nil
			}

			header, id, err := p.OutboundHeaderWithID(ctx)
			if err != nil {
				return nil, err
			}
			for _, out := range outputs {
				if out.ContextHeader() != nil {
					continue
				}
				out.SetContextHeader(header)
				out.Attributes[AttrCorrelationID] = id.String()
			}
			return outputs, nil
		}
	}
}

// Stamp sets the context header and correlationid attribute of msg from the
// ambient correlation of ctx, unless msg already carries a header.
// Returns the correlation id of msg, which is uuid.Nil for a preset header
// without a correlationid attribute.
func Stamp[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], msg *Message) (uuid.UUID, error) {
	if header := msg.ContextHeader(); header != nil {
		id, err := msgctx.ParseCorrelationID(msg.CorrelationID())
		if err != nil {
			return uuid.Nil, fmt.Errorf("pipeline: correlationid attribute: %w", err)
		}
		return id, nil
	}

	header, id, err := p.OutboundHeaderWithID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	msg.SetContextHeader(header)
	msg.Attributes[AttrCorrelationID] = id.String()
	return id, nil
}
