// Package badgerstore provides a msgctx.Store persisted in BadgerDB, so that
// registered contexts survive a process restart.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fxsml/msgctx"
)

// maxConflictRetries bounds retries of a LoadOrStore transaction that lost a
// race against a concurrent writer of the same key.
const maxConflictRetries = 8

// OpenConfig holds configuration for opening a BadgerDB.
type OpenConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes (slower but safer).
	SyncWrites bool

	// Logger for BadgerDB operations. Nil disables badger logging.
	Logger badger.Logger
}

// Open opens a BadgerDB with the given configuration.
func Open(cfg OpenConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}
	opts = opts.WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return db, nil
}

// Config configures a Store.
type Config struct {
	// KeyPrefix is prepended to every correlation id.
	// Default is "msgctx/".
	KeyPrefix string

	// TTL is applied to every registered context. Zero keeps entries forever.
	TTL time.Duration

	// Serializer encodes stored contexts. Default is JSON.
	Serializer msgctx.Serializer
}

func (c *Config) setDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "msgctx/"
	}
	if c.Serializer == nil {
		c.Serializer = msgctx.NewJSONSerializer()
	}
}

// Store implements msgctx.Store on BadgerDB.
type Store[C msgctx.MessageContext] struct {
	db         *badger.DB
	prefix     string
	ttl        time.Duration
	serializer msgctx.Serializer
}

// New creates a store using db. The caller owns db.
func New[C msgctx.MessageContext](db *badger.DB, cfg Config) *Store[C] {
	cfg.setDefaults()
	return &Store[C]{
		db:         db,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		serializer: cfg.Serializer,
	}
}

func (s *Store[C]) key(id uuid.UUID) []byte {
	return []byte(s.prefix + id.String())
}

// Get implements msgctx.Store.
func (s *Store[C]) Get(_ context.Context, id uuid.UUID) (C, bool, error) {
	var mc C
	if id == uuid.Nil {
		return mc, false, nil
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		mc, found, err = s.read(txn, id)
		return err
	})
	return mc, found, err
}

// LoadOrStore implements msgctx.Store. Badger aborts one of two transactions
// that both read the absent key and write it; the loser retries and loads.
func (s *Store[C]) LoadOrStore(_ context.Context, id uuid.UUID, mc C) (C, bool, error) {
	data, err := s.serializer.Marshal(mc)
	if err != nil {
		return mc, false, fmt.Errorf("failed to encode context %s: %w", id, err)
	}

	for range maxConflictRetries {
		var (
			actual = mc
			loaded bool
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			existing, ok, err := s.read(txn, id)
			if err != nil {
				return err
			}
			if ok {
				actual, loaded = existing, true
				return nil
			}

			entry := badger.NewEntry(s.key(id), data)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			return txn.SetEntry(entry)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return mc, false, err
		}
		return actual, loaded, nil
	}
	return mc, false, fmt.Errorf("failed to store context %s: %w", id, badger.ErrConflict)
}

// Delete implements msgctx.Store.
func (s *Store[C]) Delete(_ context.Context, id uuid.UUID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete context %s: %w", id, err)
	}
	return nil
}

func (s *Store[C]) read(txn *badger.Txn, id uuid.UUID) (C, bool, error) {
	var mc C
	item, err := txn.Get(s.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return mc, false, nil
	}
	if err != nil {
		return mc, false, fmt.Errorf("failed to get context %s: %w", id, err)
	}

	err = item.Value(func(val []byte) error {
		if err := s.serializer.Unmarshal(val, &mc); err != nil {
			return fmt.Errorf("failed to decode context %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return mc, false, err
	}
	return mc, true, nil
}

var _ msgctx.Store[msgctx.Basic] = (*Store[msgctx.Basic])(nil)

// NewLogger adapts l to badger.Logger. Badger's info and debug chatter is
// logged at debug level.
func NewLogger(l *slog.Logger) badger.Logger {
	if l == nil {
		l = slog.Default()
	}
	return badgerLogger{l: l.With("component", "badger")}
}

type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
