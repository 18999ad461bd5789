package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/linkaudit/internal/models"
)

// ErrNotFound is returned when a record does not exist in the store
var ErrNotFound = errors.New("record not found")

// CollectionStorage is the collection registry
type CollectionStorage interface {
	// GetActiveCollections returns every active collection ordered by key
	GetActiveCollections(ctx context.Context) ([]*models.CollectionRecord, error)
	GetCollection(ctx context.Context, key string) (*models.CollectionRecord, error)
	SaveCollection(ctx context.Context, c *models.CollectionRecord) error

	GetLastEmailDate(ctx context.Context, collectionKey string) (time.Time, error)
	SetLastEmailDate(ctx context.Context, collectionKey string, date time.Time) error
}

// ResourceStorage holds per-resource history
type ResourceStorage interface {
	GetResourceHistory(ctx context.Context, collectionKey string) ([]*models.ResourceRecord, error)
	UpsertResource(ctx context.Context, r *models.ResourceRecord) error
}

// VitalityStorage holds the per-URL check time series
type VitalityStorage interface {
	// GetVitalityHistory returns rows for one URL checked at or after since, oldest first
	GetVitalityHistory(ctx context.Context, collectionKey, id, url string, since time.Time) ([]*models.VitalityRecord, error)
	InsertVitalityRow(ctx context.Context, v *models.VitalityRecord) error
}

// MessageStorage is the per-run message log
type MessageStorage interface {
	InsertMessage(ctx context.Context, m *models.MessageRecord) error
	GetMessages(ctx context.Context, collectionKey, runID string) ([]*models.MessageRecord, error)
}

// AuditStore is everything the audit engine reads and writes. Access is
// single-writer per collection and only happens after all fetches finish.
type AuditStore interface {
	CollectionStorage
	ResourceStorage
	VitalityStorage
	MessageStorage

	// Reconnect reopens the underlying store after a lost connection
	Reconnect(ctx context.Context) error
	Close() error
}
