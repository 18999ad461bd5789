package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// CollectionStorage implements interfaces.CollectionStorage for Badger
type CollectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCollectionStorage creates a new CollectionStorage instance
func NewCollectionStorage(db *BadgerDB, logger arbor.ILogger) *CollectionStorage {
	return &CollectionStorage{db: db, logger: logger}
}

var _ interfaces.CollectionStorage = (*CollectionStorage)(nil)

// GetActiveCollections returns every active collection ordered by key
func (s *CollectionStorage) GetActiveCollections(ctx context.Context) ([]*models.CollectionRecord, error) {
	store, err := s.db.handle()
	if err != nil {
		return nil, err
	}

	var records []models.CollectionRecord
	if err := store.Find(&records, badgerhold.Where("Active").Eq(true).SortBy("Key")); err != nil {
		return nil, fmt.Errorf("failed to list active collections: %w", err)
	}

	out := make([]*models.CollectionRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out, nil
}

// GetCollection returns one collection or interfaces.ErrNotFound
func (s *CollectionStorage) GetCollection(ctx context.Context, key string) (*models.CollectionRecord, error) {
	store, err := s.db.handle()
	if err != nil {
		return nil, err
	}

	var record models.CollectionRecord
	err = store.Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", key, err)
	}
	return &record, nil
}

// SaveCollection inserts or replaces a collection
func (s *CollectionStorage) SaveCollection(ctx context.Context, c *models.CollectionRecord) error {
	store, err := s.db.handle()
	if err != nil {
		return err
	}
	if c.Key == "" {
		return fmt.Errorf("collection key is required")
	}
	if err := store.Upsert(c.Key, c); err != nil {
		return fmt.Errorf("failed to save collection %s: %w", c.Key, err)
	}
	return nil
}

// GetLastEmailDate returns the zero time when no report was ever sent
func (s *CollectionStorage) GetLastEmailDate(ctx context.Context, collectionKey string) (time.Time, error) {
	c, err := s.GetCollection(ctx, collectionKey)
	if err != nil {
		return time.Time{}, err
	}
	return c.LastEmail, nil
}

// SetLastEmailDate stamps the collection's last report date
func (s *CollectionStorage) SetLastEmailDate(ctx context.Context, collectionKey string, date time.Time) error {
	c, err := s.GetCollection(ctx, collectionKey)
	if err != nil {
		return err
	}
	c.LastEmail = date
	return s.SaveCollection(ctx, c)
}
