package msgctx

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStoreConfig configures a MemoryStore.
// The zero value keeps every context for the process lifetime.
type MemoryStoreConfig struct {
	// TTL bounds how long a context stays registered after insertion.
	// Zero disables expiry.
	TTL time.Duration

	// MaxEntries bounds the number of registered contexts. When exceeded,
	// the oldest insertion is evicted. Zero disables the bound.
	MaxEntries int
}

type memoryEntry[C MessageContext] struct {
	value   C
	expires time.Time
	elem    *list.Element
}

// MemoryStore is a process-local Store.
type MemoryStore[C MessageContext] struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry[C]
	order   *list.List // uuid.UUID, oldest first

	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[C MessageContext](cfg MemoryStoreConfig) *MemoryStore[C] {
	return &MemoryStore[C]{
		entries:    make(map[uuid.UUID]*memoryEntry[C]),
		order:      list.New(),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
	}
}

// Get implements Store. Expired entries are reported as absent.
func (s *MemoryStore[C]) Get(_ context.Context, id uuid.UUID) (C, bool, error) {
	var zero C
	if id == uuid.Nil {
		return zero, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		return zero, false, nil
	}
	return e.value, true, nil
}

// LoadOrStore implements Store.
func (s *MemoryStore[C]) LoadOrStore(_ context.Context, id uuid.UUID, mc C) (C, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		if !s.expired(e) {
			return e.value, true, nil
		}
		s.remove(id, e)
	}

	e := &memoryEntry[C]{value: mc}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	e.elem = s.order.PushBack(id)
	s.entries[id] = e

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		oldest := s.order.Front()
		oldID := oldest.Value.(uuid.UUID)
		s.remove(oldID, s.entries[oldID])
	}
	return mc, false, nil
}

// Delete implements Store.
func (s *MemoryStore[C]) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		s.remove(id, e)
	}
	return nil
}

// Len returns the number of live contexts.
func (s *MemoryStore[C]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Sweep removes expired contexts and returns how many were removed.
func (s *MemoryStore[C]) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if s.expired(e) {
			s.remove(id, e)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is canceled.
func (s *MemoryStore[C]) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore[C]) expired(e *memoryEntry[C]) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}

// remove must be called with mu held.
func (s *MemoryStore[C]) remove(id uuid.UUID, e *memoryEntry[C]) {
	s.order.Remove(e.elem)
	delete(s.entries, id)
}

var _ Store[Basic] = (*MemoryStore[Basic])(nil)
