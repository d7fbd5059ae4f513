package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/high-moctane/feedsearch"
	"github.com/high-moctane/feedsearch/store/sqlite"
	_ "modernc.org/sqlite"
)

// backend is the store selected by store_backend.
type backend struct {
	store   feedsearch.PostStore
	follows feedsearch.FollowStore

	// composite is set for the memory and pebble backends, whose text
	// index is a bleve index next to the primary store.
	composite *feedsearch.CompositeStore
	// sqlStore is set for the sqlite backend.
	sqlStore *sqlite.Store

	// OnIndexChanged is called whenever the text index is rebuilt or
	// dropped.
	OnIndexChanged func()

	closers []func() error
}

func openBackend(ctx context.Context, cfg *feedsearch.Config, logger *slog.Logger) (b *backend, err error) {
	b = &backend{}
	defer func() {
		if err != nil {
			err = errors.Join(err, b.Close())
		}
	}()

	switch cfg.StoreBackend {
	case feedsearch.BackendMemory:
		primary := feedsearch.NewInMemoryStore()
		if err := b.attachBleve(primary, "", logger); err != nil {
			return nil, err
		}
		b.follows = primary

	case feedsearch.BackendPebble:
		primary, err := feedsearch.NewPebbleStore(cfg.PebblePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble: %w", err)
		}
		b.closers = append(b.closers, primary.Close)
		if err := b.attachBleve(primary, cfg.BlevePath, logger); err != nil {
			return nil, err
		}
		b.follows = primary

	case feedsearch.BackendSQLite:
		db, err := sql.Open(sqlite.DriverName, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		store, err := sqlite.NewStore(ctx, db, &sqlite.StoreOption{
			TextIndex:      true,
			OnIndexChanged: b.indexChanged,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		b.sqlStore = store
		b.store = store
		b.follows = store

	default:
		return nil, fmt.Errorf("%w: store backend %q", feedsearch.ErrInvalidConfig, cfg.StoreBackend)
	}

	logger.InfoContext(ctx, "store opened", "backend", cfg.StoreBackend)
	return b, nil
}

func (b *backend) attachBleve(primary feedsearch.PostStore, path string, logger *slog.Logger) error {
	index, err := feedsearch.NewBleveIndex(&feedsearch.BleveIndexOptions{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open bleve index: %w", err)
	}
	b.closers = append(b.closers, index.Close)

	b.composite = feedsearch.NewCompositeStore(primary, index, &feedsearch.CompositeStoreOptions{
		Logger:         logger,
		OnIndexChanged: b.indexChanged,
	})
	b.store = b.composite
	return nil
}

// rebuildTextIndex reindexes every post and returns how many were visited,
// or -1 when the backend does not report a count.
func (b *backend) rebuildTextIndex(ctx context.Context) (int, error) {
	if b.composite != nil {
		return b.composite.RebuildTextIndex(ctx)
	}
	if b.sqlStore != nil {
		return -1, b.sqlStore.EnsureTextIndex(ctx)
	}
	return 0, feedsearch.ErrTextIndexUnavailable
}

func (b *backend) indexChanged() {
	if b.OnIndexChanged != nil {
		b.OnIndexChanged()
	}
}

// Close closes in reverse open order.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}
