package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxsml/msgctx"
)

// ErrDecodeBody is returned when a message body cannot be decoded into the
// handler's input type.
var ErrDecodeBody = errors.New("pipeline: decode body")

// HandlerFunc consumes a decoded message body.
type HandlerFunc[T any] func(ctx context.Context, body T) ([]*Message, error)

// Invoke returns the handler invocation stage: it decodes the message body
// into T and calls fn. Errors returned by fn are passed on unchanged.
// Acknowledgment is left to the surrounding middleware (see AutoAck).
//
// A []byte handler receives the raw body. A nil serializer means JSON.
func Invoke[T any](fn HandlerFunc[T], s msgctx.Serializer) ProcessFunc {
	if s == nil {
		s = msgctx.NewJSONSerializer()
	}
	return func(ctx context.Context, msg *Message) ([]*Message, error) {
		var body T
		if raw, ok := any(&body).(*[]byte); ok {
			*raw = msg.Data
		} else if err := s.Unmarshal(msg.Data, &body); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecodeBody, err)
		}
		return fn(ctx, body)
	}
}
