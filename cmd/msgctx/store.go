package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fxsml/msgctx"
	"github.com/fxsml/msgctx/store/badgerstore"
	"github.com/fxsml/msgctx/store/redisstore"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeBadger = "badger"
)

// openProvider builds a provider on the configured store. The returned close
// function releases the store's connections.
func (a *app) openProvider(ctx context.Context) (*msgctx.Provider[msgctx.Basic], func() error, error) {
	store, closeFn, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	p := msgctx.NewProvider(msgctx.ProviderConfig[msgctx.Basic]{
		Store:   store,
		Factory: msgctx.BasicFactory{Source: a.cfg.Source},
		Logger:  a.logger,
	})
	return p, closeFn, nil
}

func (a *app) openStore(ctx context.Context) (msgctx.Store[msgctx.Basic], func() error, error) {
	switch a.cfg.Store {
	case storeMemory:
		s := msgctx.NewMemoryStore[msgctx.Basic](msgctx.MemoryStoreConfig{TTL: a.cfg.TTL})
		return s, func() error { return nil }, nil

	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.logger.Debug("Connected to redis", "addr", a.cfg.Redis.Addr)
		s := redisstore.New[msgctx.Basic](rdb, redisstore.Config{
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			TTL:       a.cfg.TTL,
		})
		return s, rdb.Close, nil

	case storeBadger:
		db, err := badgerstore.Open(badgerstore.OpenConfig{
			Path:   a.cfg.Badger.Path,
			Logger: badgerstore.NewLogger(a.logger),
		})
		if err != nil {
			return nil, nil, err
		}
		a.logger.Debug("Opened badger store", "path", a.cfg.Badger.Path)
		return badgerstore.New[msgctx.Basic](db, badgerstore.Config{TTL: a.cfg.TTL}), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (want %s, %s or %s)", a.cfg.Store, storeMemory, storeRedis, storeBadger)
	}
}
