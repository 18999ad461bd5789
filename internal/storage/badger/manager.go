package badger

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// Manager implements interfaces.AuditStore for Badger
type Manager struct {
	*CollectionStorage
	*ResourceStorage
	*MessageStorage

	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.AuditStore = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		CollectionStorage: NewCollectionStorage(db, logger),
		ResourceStorage:   NewResourceStorage(db, logger),
		MessageStorage:    NewMessageStorage(db, logger),
		db:                db,
		logger:            logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// Reconnect reopens the database after a lost connection
func (m *Manager) Reconnect(ctx context.Context) error {
	m.logger.Warn().Msg("Reconnecting Badger storage")
	return m.db.Reopen()
}

// LoadCollectionsFromFile seeds the collection registry from a TOML file
func (m *Manager) LoadCollectionsFromFile(ctx context.Context, path string) error {
	return LoadCollectionsFromFile(ctx, m.CollectionStorage, path, m.logger)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
