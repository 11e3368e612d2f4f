package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownDropped is reported for a message whose outputs could not be
// forwarded before a forced shutdown.
var ErrShutdownDropped = errors.New("pipeline: message dropped on shutdown")

// RunConfig configures Run.
type RunConfig struct {
	// Concurrency sets the number of workers.
	// Default is 1.
	Concurrency int

	// BufferSize sets the output channel buffer size.
	// Default is 0 (unbuffered).
	BufferSize int

	// ErrorHandler is called with the input message when fn fails. ctx
	// carries the correlationid attribute of msg as ambient correlation.
	// Default logs the error.
	ErrorHandler func(ctx context.Context, msg *Message, err error)

	// ShutdownTimeout controls shutdown on context cancellation.
	// If <= 0, workers stop forwarding immediately.
	// If > 0, workers get this long to finish before they are stopped.
	ShutdownTimeout time.Duration

	// Logger for the default ErrorHandler. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (c RunConfig) applyDefaults() RunConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ErrorHandler == nil {
		logger := c.Logger
		c.ErrorHandler = func(ctx context.Context, msg *Message, err error) {
			logger.ErrorContext(ctx, "Message processing failed",
				"id", msg.Attributes[AttrID],
				"correlationid", msg.CorrelationID(),
				"error", err,
			)
		}
	}
	return c
}

// Run processes messages from in with fn on Concurrency workers and returns
// the outputs. fn receives ctx as is; Correlate binds the correlation of each
// message to a ctx of its own. ErrorHandler receives a ctx derived from ctx
// per failed message.
//
// The output channel is closed once in is closed and all workers are done,
// or after a forced shutdown.
func Run(ctx context.Context, in <-chan *Message, fn ProcessFunc, cfg RunConfig) <-chan *Message {
	cfg = cfg.applyDefaults()
	out := make(chan *Message, cfg.BufferSize)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for range cfg.Concurrency {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case msg, ok := <-in:
					if !ok {
						return
					}
					outputs, err := fn(ctx, msg)
					if err != nil {
						cfg.ErrorHandler(WithCorrelation(ctx, msg), msg, err)
						continue
					}
					for _, o := range outputs {
						select {
						case out <- o:
						case <-done:
							cfg.ErrorHandler(WithCorrelation(ctx, msg), msg, ErrShutdownDropped)
							return
						}
					}
				}
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	go func() {
		defer close(out)
		select {
		case <-finished:
			return
		case <-ctx.Done():
		}
		if cfg.ShutdownTimeout > 0 {
			select {
			case <-finished:
				return
			case <-time.After(cfg.ShutdownTimeout):
			}
		}
		close(done)
		<-finished
	}()

	return out
}

