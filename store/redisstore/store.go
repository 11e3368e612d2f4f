// Package redisstore provides a msgctx.Store backed by Redis, so that
// several processes consuming the same queues share one view of the
// registered contexts.
//
// Insert-if-absent maps to SET NX; expiry maps to the key TTL.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fxsml/msgctx"
)

// maxLoadAttempts bounds retries when a key expires between SET NX and GET.
const maxLoadAttempts = 3

// Config configures a Store.
type Config struct {
	// KeyPrefix is prepended to every correlation id.
	// Default is "msgctx:".
	KeyPrefix string

	// TTL is applied to every registered context. Zero keeps keys forever.
	TTL time.Duration

	// Serializer encodes stored contexts. Default is JSON.
	Serializer msgctx.Serializer
}

func (c *Config) setDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "msgctx:"
	}
	if c.Serializer == nil {
		c.Serializer = msgctx.NewJSONSerializer()
	}
}

// Store implements msgctx.Store on Redis.
type Store[C msgctx.MessageContext] struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	serializer msgctx.Serializer
}

// New creates a store using rdb. The caller owns rdb.
func New[C msgctx.MessageContext](rdb redis.UniversalClient, cfg Config) *Store[C] {
	cfg.setDefaults()
	return &Store[C]{
		rdb:        rdb,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		serializer: cfg.Serializer,
	}
}

// Key returns the Redis key for id.
func (s *Store[C]) Key(id uuid.UUID) string {
	return s.prefix + id.String()
}

// Get implements msgctx.Store.
func (s *Store[C]) Get(ctx context.Context, id uuid.UUID) (C, bool, error) {
	var mc C
	if id == uuid.Nil {
		return mc, false, nil
	}

	key := s.Key(id)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return mc, false, nil
	}
	if err != nil {
		return mc, false, fmt.Errorf("getting key %s: %w", key, err)
	}

	if err := s.serializer.Unmarshal(data, &mc); err != nil {
		return mc, false, fmt.Errorf("decoding key %s: %w", key, err)
	}
	return mc, true, nil
}

// LoadOrStore implements msgctx.Store.
func (s *Store[C]) LoadOrStore(ctx context.Context, id uuid.UUID, mc C) (C, bool, error) {
	key := s.Key(id)
	data, err := s.serializer.Marshal(mc)
	if err != nil {
		return mc, false, fmt.Errorf("encoding context %s: %w", id, err)
	}

	for range maxLoadAttempts {
		set, err := s.rdb.SetNX(ctx, key, data, s.ttl).Result()
		if err != nil {
			return mc, false, fmt.Errorf("setting key %s: %w", key, err)
		}
		if set {
			return mc, false, nil
		}

		existing, ok, err := s.Get(ctx, id)
		if err != nil {
			return mc, false, err
		}
		if ok {
			return existing, true, nil
		}
	}
	return mc, false, fmt.Errorf("setting key %s: value kept expiring", key)
}

// Delete implements msgctx.Store.
func (s *Store[C]) Delete(ctx context.Context, id uuid.UUID) error {
	key := s.Key(id)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

var _ msgctx.Store[msgctx.Basic] = (*Store[msgctx.Basic])(nil)
