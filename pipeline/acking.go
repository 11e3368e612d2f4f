package pipeline

import "sync"

// Acking settles a message exactly once: either ack or nack, never both.
// It is safe for concurrent use.
type Acking struct {
	mu      sync.Mutex
	ackFn   func()
	nackFn  func(error)
	settled bool
	acked   bool
	nackErr error
}

// NewAcking creates an Acking. Returns nil if either callback is nil.
func NewAcking(ack func(), nack func(error)) *Acking {
	if ack == nil || nack == nil {
		return nil
	}
	return &Acking{
		ackFn:  ack,
		nackFn: nack,
	}
}

// Err returns the nack error, or nil if pending or acked.
func (a *Acking) Err() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nackErr
}

func (a *Acking) ack() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled {
		return a.acked
	}
	a.settled = true
	a.acked = true
	a.ackFn()
	return true
}

func (a *Acking) nack(err error) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled {
		return !a.acked
	}
	a.settled = true
	a.nackErr = err
	a.nackFn(err)
	return true
}
