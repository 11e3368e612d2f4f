package pipeline

import "context"

// AutoAck returns middleware that acks messages on success and nacks them
// on error. The error is returned unchanged.
func AutoAck() Middleware {
	return func(next ProcessFunc) ProcessFunc {
		return func(ctx context.Context, msg *Message) ([]*Message, error) {
			results, err := next(ctx, msg)
			if err != nil {
				msg.Nack(err)
				return nil, err
			}
			msg.Ack()
			return results, nil
		}
	}
}
