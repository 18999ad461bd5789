package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// ResourceStorage implements interfaces.ResourceStorage and
// interfaces.VitalityStorage for Badger
type ResourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResourceStorage creates a new ResourceStorage instance
func NewResourceStorage(db *BadgerDB, logger arbor.ILogger) *ResourceStorage {
	return &ResourceStorage{db: db, logger: logger}
}

var (
	_ interfaces.ResourceStorage = (*ResourceStorage)(nil)
	_ interfaces.VitalityStorage = (*ResourceStorage)(nil)
)

// GetResourceHistory returns every stored resource of a collection, ordered by id
func (s *ResourceStorage) GetResourceHistory(ctx context.Context, collectionKey string) ([]*models.ResourceRecord, error) {
	store, err := s.db.handle()
	if err != nil {
		return nil, err
	}

	var records []models.ResourceRecord
	query := badgerhold.Where("CollectionKey").Eq(collectionKey).Index("CollectionKey").SortBy("ID")
	if err := store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to load resource history for %s: %w", collectionKey, err)
	}

	out := make([]*models.ResourceRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out, nil
}

// UpsertResource inserts or replaces a resource record
func (s *ResourceStorage) UpsertResource(ctx context.Context, r *models.ResourceRecord) error {
	store, err := s.db.handle()
	if err != nil {
		return err
	}
	if r.Key == "" {
		r.Key = models.ResourceKey(r.CollectionKey, r.ID)
	}
	if err := store.Upsert(r.Key, r); err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", r.Key, err)
	}
	return nil
}

// GetVitalityHistory returns the rows of one URL checked at or after since, oldest first
func (s *ResourceStorage) GetVitalityHistory(ctx context.Context, collectionKey, id, url string, since time.Time) ([]*models.VitalityRecord, error) {
	store, err := s.db.handle()
	if err != nil {
		return nil, err
	}

	var rows []models.VitalityRecord
	series := models.SeriesKey(collectionKey, id, url)
	if err := store.Find(&rows, badgerhold.Where("SeriesKey").Eq(series).Index("SeriesKey")); err != nil {
		return nil, fmt.Errorf("failed to load vitality history for %s: %w", url, err)
	}

	out := make([]*models.VitalityRecord, 0, len(rows))
	for i := range rows {
		if !rows[i].CheckDate.Before(since) {
			out = append(out, &rows[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckDate.Before(out[j].CheckDate) })
	return out, nil
}

// InsertVitalityRow appends one check to a URL's series
func (s *ResourceStorage) InsertVitalityRow(ctx context.Context, v *models.VitalityRecord) error {
	store, err := s.db.handle()
	if err != nil {
		return err
	}
	if v.SeriesKey == "" {
		v.SeriesKey = models.SeriesKey(v.CollectionKey, v.ResourceID, v.URL)
	}
	if v.Key == "" {
		v.Key = fmt.Sprintf("%s|%d", v.SeriesKey, v.CheckDate.UnixNano())
	}
	if err := store.Upsert(v.Key, v); err != nil {
		return fmt.Errorf("failed to insert vitality row for %s: %w", v.URL, err)
	}
	return nil
}
