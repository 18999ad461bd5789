package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/linkaudit/internal/common"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	mu     sync.RWMutex
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	// Ensure the directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db := &BadgerDB{logger: logger, config: config}
	store, err := db.open()
	if err != nil {
		return nil, err
	}
	db.store = store

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")
	return db, nil
}

func (b *BadgerDB) open() (*badgerhold.Store, error) {
	b.logger.Debug().Str("path", b.config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = b.config.Path
	options.ValueDir = b.config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store
}

// Reopen closes the current handle, if any, and opens a fresh one
func (b *BadgerDB) Reopen() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("Closing stale Badger handle failed")
		}
		b.store = nil
	}

	store, err := b.open()
	if err != nil {
		return err
	}
	b.store = store
	b.logger.Info().Str("path", b.config.Path).Msg("Badger database reopened")
	return nil
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil {
		err := b.store.Close()
		b.store = nil
		return err
	}
	return nil
}

// IsConnectionError reports errors that a reopen may cure
func IsConnectionError(err error) bool {
	return errors.Is(err, badgerdb.ErrDBClosed) ||
		errors.Is(err, badgerdb.ErrBlockedWrites) ||
		errors.Is(err, errNoHandle)
}

var errNoHandle = errors.New("badger database is not open")

// handle returns the open store or errNoHandle
func (b *BadgerDB) handle() (*badgerhold.Store, error) {
	store := b.Store()
	if store == nil {
		return nil, errNoHandle
	}
	return store, nil
}
