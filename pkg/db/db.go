// Package db wraps the embedded BadgerDB instance shared by the engine's
// durable components: the config store, the identity registry, the local
// safe index and the write-ahead journal.
//
// BadgerDB provides serializable transactions with MVCC snapshots, so every
// read-only transaction observes a consistent view even while writers
// commit concurrently. With SyncWrites enabled a committed transaction is
// fsynced before Update returns.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittosafe/internal/logger"
)

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database is closed")

// Config contains the database options.
type Config struct {
	// Path is the directory where BadgerDB stores its files
	Path string `mapstructure:"path"`

	// InMemory keeps everything in RAM (tests only); Path is ignored
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`

	// MemTableSizeMB bounds BadgerDB's memtable, and with it the size of a
	// single transaction (default: BadgerDB's)
	MemTableSizeMB int64 `mapstructure:"memtable_mb"`
}

// DB is a handle on the engine database. Safe for concurrent use.
type DB struct {
	mu     sync.RWMutex
	db     *badger.DB
	config Config
}

// Open opens (or creates) the database described by config.
func Open(ctx context.Context, config Config) (*DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bdb, err := openBadger(config)
	if err != nil {
		return nil, err
	}

	logger.Debug("Database opened: path=%s in_memory=%v sync_writes=%v",
		config.Path, config.InMemory, config.SyncWrites)

	return &DB{db: bdb, config: config}, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, Config{InMemory: true})
}

func openBadger(config Config) (*badger.DB, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		if err := os.MkdirAll(config.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		opts = badger.DefaultOptions(config.Path)
	}

	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None) // values are small or already encrypted
	opts = opts.WithSyncWrites(config.SyncWrites)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	if config.MemTableSizeMB > 0 {
		opts = opts.WithMemTableSize(config.MemTableSizeMB << 20)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}
	return bdb, nil
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return ErrClosed
	}
	return d.db.View(fn)
}

// Update runs fn in a read-write transaction and commits it.
//
// Badger reports write-write conflicts as badger.ErrConflict; callers that
// implement optimistic concurrency translate it themselves.
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return ErrClosed
	}
	return d.db.Update(fn)
}

// Path returns the database directory ("" for in-memory databases).
func (d *DB) Path() string {
	return d.config.Path
}

// Reset wipes the database back to its initial empty state.
//
// On-disk databases are closed, removed and reopened; in-memory databases
// drop all keys. Callers must make sure nothing else uses the database
// while Reset runs.
func (d *DB) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return ErrClosed
	}

	if d.config.InMemory {
		return d.db.DropAll()
	}

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	d.db = nil

	if err := os.RemoveAll(d.config.Path); err != nil {
		return fmt.Errorf("failed to remove database directory: %w", err)
	}

	bdb, err := openBadger(d.config)
	if err != nil {
		return err
	}
	d.db = bdb

	logger.Info("Database reset: path=%s", d.config.Path)
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
