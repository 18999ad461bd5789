package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// MessageStorage implements interfaces.MessageStorage for Badger
type MessageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMessageStorage creates a new MessageStorage instance
func NewMessageStorage(db *BadgerDB, logger arbor.ILogger) *MessageStorage {
	return &MessageStorage{db: db, logger: logger}
}

var _ interfaces.MessageStorage = (*MessageStorage)(nil)

// InsertMessage appends one warning to the run log
func (s *MessageStorage) InsertMessage(ctx context.Context, m *models.MessageRecord) error {
	store, err := s.db.handle()
	if err != nil {
		return err
	}
	if err := store.Upsert(m.Key, m); err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.Key, err)
	}
	return nil
}

// GetMessages returns a run's messages in insertion order
func (s *MessageStorage) GetMessages(ctx context.Context, collectionKey, runID string) ([]*models.MessageRecord, error) {
	store, err := s.db.handle()
	if err != nil {
		return nil, err
	}

	var records []models.MessageRecord
	query := badgerhold.Where("RunID").Eq(runID).Index("RunID").
		And("CollectionKey").Eq(collectionKey).
		SortBy("Seq")
	if err := store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to load messages for run %s: %w", runID, err)
	}

	out := make([]*models.MessageRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out, nil
}
